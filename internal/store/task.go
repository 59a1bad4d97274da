package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashleyhindle/fuel/internal/storeerr"
)

// Task mirrors §3's data model.
type Task struct {
	ID          string
	Title       string
	Description string
	Type        string
	Priority    int
	Size        string
	Complexity  string
	Labels      []string
	Status      string
	EpicID      string // "" if none
	BlockedBy   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Reason            string
	CommitHash        string
	LastReviewIssues  []string

	Consumed         bool
	ConsumedAt       *time.Time
	ConsumedExitCode *int
	ConsumePID       *int
	ConsumedOutput   string
}

const taskIDPrefix = "f-"

var (
	validTaskTypes = map[string]bool{
		"bug": true, "feature": true, "task": true, "epic": true,
		"chore": true, "docs": true, "test": true,
	}
	validTaskSizes = map[string]bool{"xs": true, "s": true, "m": true, "l": true, "xl": true}
	validComplexities = map[string]bool{
		"trivial": true, "simple": true, "moderate": true, "complex": true,
	}
	validTaskStatuses = map[string]bool{
		"open": true, "in_progress": true, "closed": true, "cancelled": true,
	}
)

// TaskInput carries the fields a caller may set on create/update; zero
// values are distinguished from "not set" by the caller passing nil
// pointers for optional scalar fields it does not intend to touch.
type TaskInput struct {
	Title       *string
	Description *string
	Type        *string
	Priority    *int
	Size        *string
	Complexity  *string
	Labels      []string
	EpicID      *string
	Reason      *string
	CommitHash  *string
}

// TaskRepo is the task repository (C7).
type TaskRepo struct {
	s *Store
}

func NewTaskRepo(s *Store) *TaskRepo { return &TaskRepo{s: s} }

func validateTaskFields(in TaskInput) error {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return &storeerr.Validation{Field: "title", Message: "must not be empty"}
	}
	if in.Type != nil && !validTaskTypes[*in.Type] {
		return &storeerr.Validation{Field: "type", Message: fmt.Sprintf("invalid type %q", *in.Type)}
	}
	if in.Priority != nil && (*in.Priority < 0 || *in.Priority > 4) {
		return &storeerr.Validation{Field: "priority", Message: "must be in 0..4"}
	}
	if in.Size != nil && !validTaskSizes[*in.Size] {
		return &storeerr.Validation{Field: "size", Message: fmt.Sprintf("invalid size %q", *in.Size)}
	}
	if in.Complexity != nil && !validComplexities[*in.Complexity] {
		return &storeerr.Validation{Field: "complexity", Message: fmt.Sprintf("invalid complexity %q", *in.Complexity)}
	}
	return nil
}

// Create validates and inserts a new task, defaulting unset fields per
// §4.7: priority=2, size=m, complexity=simple, status=open, empty
// labels/blocked_by.
func (r *TaskRepo) Create(ctx context.Context, in TaskInput) (*Task, error) {
	if err := validateTaskFields(in); err != nil {
		return nil, err
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return nil, &storeerr.Validation{Field: "title", Message: "is required"}
	}

	t := &Task{
		Title:      *in.Title,
		Type:       "task",
		Priority:   2,
		Size:       "m",
		Complexity: "simple",
		Status:     "open",
		Labels:     []string{},
		BlockedBy:  []string{},
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Type != nil {
		t.Type = *in.Type
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.Size != nil {
		t.Size = *in.Size
	}
	if in.Complexity != nil {
		t.Complexity = *in.Complexity
	}
	if in.Labels != nil {
		t.Labels = in.Labels
	}
	if in.EpicID != nil {
		if exists, err := r.epicExists(ctx, *in.EpicID); err != nil {
			return nil, err
		} else if !exists {
			return nil, &storeerr.Validation{Field: "epic_id", Message: fmt.Sprintf("epic %q does not exist", *in.EpicID)}
		}
		t.EpicID = *in.EpicID
	}

	now := nowUTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	var insertErr error
	err := retryOnBusy(ctx, 5, func() error {
		id, err := generateID(ctx, taskIDPrefix, r.idExists)
		if err != nil {
			insertErr = err
			return nil
		}
		t.ID = id
		_, err = r.s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, title, description, type, priority, size, complexity,
				labels_json, status, epic_id, blocked_by_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?);
		`, t.ID, t.Title, t.Description, t.Type, t.Priority, t.Size, t.Complexity,
			marshalStrings(t.Labels), t.Status, t.EpicID, marshalStrings(t.BlockedBy), t.CreatedAt, t.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, &storeerr.IoErr{Op: "insert task", Err: err}
	}
	if insertErr != nil {
		return nil, insertErr
	}
	return t, nil
}

func (r *TaskRepo) idExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?;`, id).Scan(&n)
	return n > 0, err
}

func (r *TaskRepo) epicExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM epics WHERE id = ?;`, id).Scan(&n)
	return n > 0, err
}

// Update applies per-field validation identical to Create. Fields not
// present in in are left unchanged.
func (r *TaskRepo) Update(ctx context.Context, id string, in TaskInput) (*Task, error) {
	if err := validateTaskFields(in); err != nil {
		return nil, err
	}
	t, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Type != nil {
		t.Type = *in.Type
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.Size != nil {
		t.Size = *in.Size
	}
	if in.Complexity != nil {
		t.Complexity = *in.Complexity
	}
	if in.Labels != nil {
		t.Labels = in.Labels
	}
	if in.EpicID != nil {
		t.EpicID = *in.EpicID
	}
	if in.Reason != nil {
		t.Reason = *in.Reason
	}
	if in.CommitHash != nil {
		t.CommitHash = *in.CommitHash
	}
	t.UpdatedAt = nowUTC()

	_, err = r.s.db.ExecContext(ctx, `
		UPDATE tasks SET title=?, description=?, type=?, priority=?, size=?, complexity=?,
			labels_json=?, epic_id=NULLIF(?, ''), reason=?, commit_hash=?, updated_at=?
		WHERE id=?;
	`, t.Title, t.Description, t.Type, t.Priority, t.Size, t.Complexity,
		marshalStrings(t.Labels), t.EpicID, t.Reason, t.CommitHash, t.UpdatedAt, t.ID)
	if err != nil {
		return nil, &storeerr.IoErr{Op: "update task", Err: err}
	}
	return t, nil
}

// All returns every task, ordered by id.
func (r *TaskRepo) All(ctx context.Context) ([]*Task, error) {
	rows, err := r.s.db.QueryContext(ctx, taskSelectColumns+` FROM tasks ORDER BY id;`)
	if err != nil {
		return nil, &storeerr.IoErr{Op: "list tasks", Err: err}
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Find resolves id exactly, then by unambiguous prefix, then by
// unambiguous prefix with "f-" prepended. Ambiguous prefix matches
// return an Ambiguous error with the candidate list.
func (r *TaskRepo) Find(ctx context.Context, id string) (*Task, error) {
	if t, err := r.findExact(ctx, id); err == nil {
		return t, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	if t, err := r.findByPrefix(ctx, id); err == nil {
		return t, nil
	} else if _, ok := err.(*storeerr.Ambiguous); ok {
		return nil, err
	} else if !isNotFound(err) {
		return nil, err
	}

	if !strings.HasPrefix(id, taskIDPrefix) {
		if t, err := r.findByPrefix(ctx, taskIDPrefix+id); err == nil {
			return t, nil
		} else if _, ok := err.(*storeerr.Ambiguous); ok {
			return nil, err
		}
	}

	return nil, &storeerr.NotFound{Kind_: "task", ID: id}
}

func (r *TaskRepo) findExact(ctx context.Context, id string) (*Task, error) {
	row := r.s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?;`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storeerr.NotFound{Kind_: "task", ID: id}
	}
	if err != nil {
		return nil, &storeerr.IoErr{Op: "find task", Err: err}
	}
	return t, nil
}

func (r *TaskRepo) findByPrefix(ctx context.Context, prefix string) (*Task, error) {
	rows, err := r.s.db.QueryContext(ctx, taskSelectColumns+` FROM tasks WHERE id LIKE ? ORDER BY id;`, prefix+"%")
	if err != nil {
		return nil, &storeerr.IoErr{Op: "find task by prefix", Err: err}
	}
	defer rows.Close()
	matches, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, &storeerr.NotFound{Kind_: "task", ID: prefix}
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, &storeerr.Ambiguous{ID: prefix, Candidates: ids}
	}
}

func isNotFound(err error) bool {
	var nf *storeerr.NotFound
	return errors.As(err, &nf)
}

// Start transitions a task to in_progress.
func (r *TaskRepo) Start(ctx context.Context, id string) error {
	return r.transitionStatus(ctx, id, []string{"open"}, "in_progress", "start", "")
}

// Done transitions a task to closed, recording an optional reason and
// commit hash.
func (r *TaskRepo) Done(ctx context.Context, id, reason, commitHash string) error {
	t, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	now := nowUTC()
	_, err = r.s.db.ExecContext(ctx, `
		UPDATE tasks SET status='closed', reason=?, commit_hash=?, updated_at=? WHERE id=?;
	`, reason, commitHash, now, t.ID)
	if err != nil {
		return &storeerr.IoErr{Op: "done task", Err: err}
	}
	return r.appendEvent(ctx, t.ID, t.Status, "closed", "done")
}

// Reopen transitions a task back to open.
func (r *TaskRepo) Reopen(ctx context.Context, id string) error {
	return r.transitionStatus(ctx, id, nil, "open", "reopen", "")
}

// Retry resets the failed-stuck fields and returns the task to open.
// Per §9's open question, both failed-stuck variants are accepted:
// consumed+non-zero-exit, and consumed+in_progress+null-pid.
func (r *TaskRepo) Retry(ctx context.Context, id string) error {
	t, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	if !t.Consumed || t.Status != "in_progress" {
		return &storeerr.Validation{Field: "status", Message: "task is not failed-stuck"}
	}
	now := nowUTC()
	_, err = r.s.db.ExecContext(ctx, `
		UPDATE tasks SET status='open', consumed=0, consumed_at=NULL, consumed_exit_code=NULL,
			consume_pid=NULL, consumed_output='', updated_at=? WHERE id=?;
	`, now, t.ID)
	if err != nil {
		return &storeerr.IoErr{Op: "retry task", Err: err}
	}
	return r.appendEvent(ctx, t.ID, t.Status, "open", "retry")
}

// IsFailed implements the failed-stuck predicate from §3: consumed
// with a non-zero exit code, or in_progress+consumed with a null or
// dead pid.
func (r *TaskRepo) IsFailed(t *Task, isPidDead func(pid int) bool) bool {
	if !t.Consumed {
		return false
	}
	if t.ConsumedExitCode != nil && *t.ConsumedExitCode != 0 {
		return true
	}
	if t.Status == "in_progress" {
		if t.ConsumePID == nil {
			return true
		}
		if isPidDead != nil && isPidDead(*t.ConsumePID) {
			return true
		}
	}
	return false
}

// MarkConsuming records supervisor-owned transient fields at spawn
// time.
func (r *TaskRepo) MarkConsuming(ctx context.Context, id string, pid int) error {
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE tasks SET status='in_progress', consume_pid=?, updated_at=? WHERE id=?;
	`, pid, nowUTC(), id)
	if err != nil {
		return &storeerr.IoErr{Op: "mark consuming", Err: err}
	}
	return nil
}

// RecordCompletion sets the consumed/exit-code fields after a run
// finishes, without changing status (callers decide status via Done /
// leave failed-stuck / AddLabel("needs-human")).
func (r *TaskRepo) RecordCompletion(ctx context.Context, id string, exitCode int, output string) error {
	now := nowUTC()
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE tasks SET consumed=1, consumed_at=?, consumed_exit_code=?, consumed_output=?, updated_at=?
		WHERE id=?;
	`, now, exitCode, output, now, id)
	if err != nil {
		return &storeerr.IoErr{Op: "record completion", Err: err}
	}
	return nil
}

// AddLabel appends a label if not already present, used for
// needs-human marking on PermissionBlocked completions.
func (r *TaskRepo) AddLabel(ctx context.Context, id, label string) error {
	t, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	for _, l := range t.Labels {
		if l == label {
			return nil
		}
	}
	t.Labels = append(t.Labels, label)
	_, err = r.s.db.ExecContext(ctx, `UPDATE tasks SET labels_json=?, updated_at=? WHERE id=?;`,
		marshalStrings(t.Labels), nowUTC(), t.ID)
	if err != nil {
		return &storeerr.IoErr{Op: "add label", Err: err}
	}
	return nil
}

func (r *TaskRepo) transitionStatus(ctx context.Context, id string, allowedFrom []string, to, eventType, reason string) error {
	t, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	if allowedFrom != nil {
		ok := false
		for _, s := range allowedFrom {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return &storeerr.Validation{Field: "status", Message: fmt.Sprintf("cannot %s task in status %q", eventType, t.Status)}
		}
	}
	_, err = r.s.db.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?;`, to, nowUTC(), t.ID)
	if err != nil {
		return &storeerr.IoErr{Op: "transition task", Err: err}
	}
	return r.appendEvent(ctx, t.ID, t.Status, to, eventType)
}

func (r *TaskRepo) appendEvent(ctx context.Context, id, from, to, eventType string) error {
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO task_events (entity_type, entity_id, from_status, to_status, reason, created_at)
		VALUES ('task', ?, ?, ?, ?, ?);
	`, id, from, to, eventType, nowUTC())
	if err != nil {
		return &storeerr.IoErr{Op: "append task event", Err: err}
	}
	return nil
}

// AddDependency records that task id depends on (is blocked by)
// blockerID, rejecting self-reference and any edge that would create
// a cycle (BFS from blockerID looking for id).
func (r *TaskRepo) AddDependency(ctx context.Context, id, blockerID string) error {
	if id == blockerID {
		return &storeerr.Validation{Field: "blocked_by", Message: "a task cannot depend on itself"}
	}
	t, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.Find(ctx, blockerID); err != nil {
		return err
	}
	if wouldCycle, err := r.reachableFrom(ctx, blockerID, id); err != nil {
		return err
	} else if wouldCycle {
		return &storeerr.CycleDetected{From: id, To: blockerID}
	}

	for _, b := range t.BlockedBy {
		if b == blockerID {
			return nil // already present, idempotent
		}
	}
	t.BlockedBy = append(t.BlockedBy, blockerID)
	_, err = r.s.db.ExecContext(ctx, `UPDATE tasks SET blocked_by_json=?, updated_at=? WHERE id=?;`,
		marshalStrings(t.BlockedBy), nowUTC(), t.ID)
	if err != nil {
		return &storeerr.IoErr{Op: "add dependency", Err: err}
	}
	return nil
}

// RemoveDependency removes blockerID from id's blocked_by set.
func (r *TaskRepo) RemoveDependency(ctx context.Context, id, blockerID string) error {
	t, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(t.BlockedBy))
	for _, b := range t.BlockedBy {
		if b != blockerID {
			next = append(next, b)
		}
	}
	t.BlockedBy = next
	_, err = r.s.db.ExecContext(ctx, `UPDATE tasks SET blocked_by_json=?, updated_at=? WHERE id=?;`,
		marshalStrings(t.BlockedBy), nowUTC(), t.ID)
	if err != nil {
		return &storeerr.IoErr{Op: "remove dependency", Err: err}
	}
	return nil
}

// reachableFrom performs a BFS over the blocked_by graph starting at
// start, reporting whether target is reachable (i.e. start depends,
// transitively, on target) — used to detect that adding target as a
// blocker of start's dependent would close a cycle.
func (r *TaskRepo) reachableFrom(ctx context.Context, start, target string) (bool, error) {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true, nil
		}
		t, err := r.findExact(ctx, cur)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return false, err
		}
		for _, next := range t.BlockedBy {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false, nil
}

// Ready returns open tasks whose every blocker is closed, with no
// needs-human label, ordered by (priority asc, created_at asc).
func (r *TaskRepo) Ready(ctx context.Context) ([]*Task, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	closedSet := map[string]bool{}
	for _, t := range all {
		if t.Status == "closed" {
			closedSet[t.ID] = true
		}
	}

	var ready []*Task
	for _, t := range all {
		if t.Status != "open" {
			continue
		}
		if hasLabel(t.Labels, "needs-human") {
			continue
		}
		blocked := false
		for _, b := range t.BlockedBy {
			if !closedSet[b] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	sortTasksByPriorityThenCreated(ready)
	return ready, nil
}

// Blocked returns the complement of Ready: open tasks with any open
// blocker.
func (r *TaskRepo) Blocked(ctx context.Context) ([]*Task, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	closedSet := map[string]bool{}
	for _, t := range all {
		if t.Status == "closed" {
			closedSet[t.ID] = true
		}
	}
	var blocked []*Task
	for _, t := range all {
		if t.Status != "open" {
			continue
		}
		for _, b := range t.BlockedBy {
			if !closedSet[b] {
				blocked = append(blocked, t)
				break
			}
		}
	}
	return blocked, nil
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func sortTasksByPriorityThenCreated(ts []*Task) {
	for i := 1; i < len(ts); i++ {
		j := i
		for j > 0 && taskLess(ts[j], ts[j-1]) {
			ts[j], ts[j-1] = ts[j-1], ts[j]
			j--
		}
	}
}

func taskLess(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

const taskSelectColumns = `SELECT id, title, description, type, priority, size, complexity,
	labels_json, status, COALESCE(epic_id, ''), blocked_by_json, reason, commit_hash,
	last_review_issues_json, consumed, consumed_at, consumed_exit_code, consume_pid,
	consumed_output, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var labelsJSON, blockedByJSON, reviewIssuesJSON string
	var consumedAt sql.NullTime
	var consumedExitCode sql.NullInt64
	var consumePID sql.NullInt64
	var consumedInt int

	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Type, &t.Priority, &t.Size, &t.Complexity,
		&labelsJSON, &t.Status, &t.EpicID, &blockedByJSON, &t.Reason, &t.CommitHash,
		&reviewIssuesJSON, &consumedInt, &consumedAt, &consumedExitCode, &consumePID,
		&t.ConsumedOutput, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Labels = unmarshalStrings(labelsJSON)
	t.BlockedBy = unmarshalStrings(blockedByJSON)
	t.LastReviewIssues = unmarshalStrings(reviewIssuesJSON)
	t.Consumed = consumedInt != 0
	t.ConsumedAt = timePtr(consumedAt)
	if consumedExitCode.Valid {
		v := int(consumedExitCode.Int64)
		t.ConsumedExitCode = &v
	}
	if consumePID.Valid {
		v := int(consumePID.Int64)
		t.ConsumePID = &v
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &storeerr.IoErr{Op: "scan task", Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &storeerr.IoErr{Op: "iterate tasks", Err: err}
	}
	return out, nil
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}
