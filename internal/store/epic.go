package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ashleyhindle/fuel/internal/storeerr"
)

// EpicStatus is the derived status computed from an epic's flags and
// member tasks; it is never stored.
type EpicStatus string

const (
	EpicPlanning         EpicStatus = "Planning"
	EpicInProgress       EpicStatus = "InProgress"
	EpicReviewPending     EpicStatus = "ReviewPending"
	EpicReviewed          EpicStatus = "Reviewed"
	EpicChangesRequested EpicStatus = "ChangesRequested"
	EpicApproved         EpicStatus = "Approved"
)

// Epic mirrors §3's data model. Status is computed, not stored.
type Epic struct {
	ID          string
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	ReviewedAt          *time.Time
	ApprovedAt          *time.Time
	ApprovedBy          string
	ChangesRequestedAt  *time.Time
}

const epicIDPrefix = "e-"

// EpicRepo is the epic repository (C8).
type EpicRepo struct {
	s     *Store
	tasks *TaskRepo
}

func NewEpicRepo(s *Store, tasks *TaskRepo) *EpicRepo { return &EpicRepo{s: s, tasks: tasks} }

func (r *EpicRepo) Create(ctx context.Context, title, description string) (*Epic, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &storeerr.Validation{Field: "title", Message: "must not be empty"}
	}
	now := nowUTC()
	e := &Epic{Title: title, Description: description, CreatedAt: now, UpdatedAt: now}

	var insertErr error
	err := retryOnBusy(ctx, 5, func() error {
		id, err := generateID(ctx, epicIDPrefix, r.idExists)
		if err != nil {
			insertErr = err
			return nil
		}
		e.ID = id
		_, err = r.s.db.ExecContext(ctx, `
			INSERT INTO epics (id, title, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?);
		`, e.ID, e.Title, e.Description, e.CreatedAt, e.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, &storeerr.IoErr{Op: "insert epic", Err: err}
	}
	if insertErr != nil {
		return nil, insertErr
	}
	return e, nil
}

func (r *EpicRepo) idExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM epics WHERE id = ?;`, id).Scan(&n)
	return n > 0, err
}

func (r *EpicRepo) All(ctx context.Context) ([]*Epic, error) {
	rows, err := r.s.db.QueryContext(ctx, epicSelectColumns+` FROM epics ORDER BY id;`)
	if err != nil {
		return nil, &storeerr.IoErr{Op: "list epics", Err: err}
	}
	defer rows.Close()
	var out []*Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, &storeerr.IoErr{Op: "scan epic", Err: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EpicRepo) Find(ctx context.Context, id string) (*Epic, error) {
	row := r.s.db.QueryRowContext(ctx, epicSelectColumns+` FROM epics WHERE id = ?;`, id)
	e, err := scanEpic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storeerr.NotFound{Kind_: "epic", ID: id}
	}
	if err != nil {
		return nil, &storeerr.IoErr{Op: "find epic", Err: err}
	}
	return e, nil
}

// Status computes an epic's derived status per §3's decision table.
func (r *EpicRepo) Status(ctx context.Context, e *Epic) (EpicStatus, error) {
	if e.ApprovedAt != nil {
		return EpicApproved, nil
	}
	members, err := r.members(ctx, e.ID)
	if err != nil {
		return "", err
	}
	if e.ChangesRequestedAt != nil {
		if anyOpenOrInProgress(members) {
			return EpicInProgress, nil
		}
		return EpicChangesRequested, nil
	}
	if e.ReviewedAt != nil {
		return EpicReviewed, nil
	}
	if len(members) == 0 {
		return EpicPlanning, nil
	}
	if anyOpenOrInProgress(members) {
		return EpicInProgress, nil
	}
	if allClosed(members) {
		return EpicReviewPending, nil
	}
	return EpicInProgress, nil
}

func (r *EpicRepo) members(ctx context.Context, epicID string) ([]*Task, error) {
	all, err := r.tasks.All(ctx)
	if err != nil {
		return nil, err
	}
	var members []*Task
	for _, t := range all {
		if t.EpicID == epicID {
			members = append(members, t)
		}
	}
	return members, nil
}

func anyOpenOrInProgress(ts []*Task) bool {
	for _, t := range ts {
		if t.Status == "open" || t.Status == "in_progress" {
			return true
		}
	}
	return false
}

func allClosed(ts []*Task) bool {
	for _, t := range ts {
		if t.Status != "closed" {
			return false
		}
	}
	return len(ts) > 0
}

// Approve sets approved_at=now, clears changes_requested_at, and
// records the approver (default "human").
func (r *EpicRepo) Approve(ctx context.Context, id, approvedBy string) error {
	if approvedBy == "" {
		approvedBy = "human"
	}
	if _, err := r.Find(ctx, id); err != nil {
		return err
	}
	now := nowUTC()
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE epics SET approved_at=?, approved_by=?, changes_requested_at=NULL, updated_at=? WHERE id=?;
	`, now, approvedBy, now, id)
	if err != nil {
		return &storeerr.IoErr{Op: "approve epic", Err: err}
	}
	return nil
}

// Reject sets changes_requested_at=now, clears approval fields, and
// reopens every member task whose status is closed.
func (r *EpicRepo) Reject(ctx context.Context, id, reason string) error {
	if _, err := r.Find(ctx, id); err != nil {
		return err
	}
	now := nowUTC()
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE epics SET changes_requested_at=?, approved_at=NULL, approved_by='', updated_at=? WHERE id=?;
	`, now, now, id)
	if err != nil {
		return &storeerr.IoErr{Op: "reject epic", Err: err}
	}

	members, err := r.members(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range members {
		if t.Status == "closed" {
			if err := r.tasks.Reopen(ctx, t.ID); err != nil {
				return err
			}
		}
	}
	_ = reason // recorded for operator visibility via task_events only, no dedicated column
	return nil
}

// CheckCompletion reports whether the epic has at least one member and
// every member is closed or cancelled.
func (r *EpicRepo) CheckCompletion(ctx context.Context, id string) (bool, error) {
	members, err := r.members(ctx, id)
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		return false, nil
	}
	for _, t := range members {
		if t.Status != "closed" && t.Status != "cancelled" {
			return false, nil
		}
	}
	return true, nil
}

const epicSelectColumns = `SELECT id, title, description, reviewed_at, approved_at,
	approved_by, changes_requested_at, created_at, updated_at`

func scanEpic(row rowScanner) (*Epic, error) {
	var e Epic
	var reviewedAt, approvedAt, changesRequestedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &reviewedAt, &approvedAt,
		&e.ApprovedBy, &changesRequestedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ReviewedAt = timePtr(reviewedAt)
	e.ApprovedAt = timePtr(approvedAt)
	e.ChangesRequestedAt = timePtr(changesRequestedAt)
	return &e, nil
}
