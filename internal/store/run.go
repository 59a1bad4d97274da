package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ashleyhindle/fuel/internal/storeerr"
)

const (
	runIDPrefix       = "run-"
	outputTruncateAt  = 10 * 1024 // §4.9 / §8 boundary test: 10,240 preserved, 10,241 truncated
	orphanOutputNote  = "[Run orphaned — supervisor restarted before completion]"
)

// Run mirrors §3's data model: one attempt to execute a task.
type Run struct {
	ID              string
	TaskID          string
	Agent           string
	Model           string
	StartedAt       time.Time
	EndedAt         *time.Time
	ExitCode        *int
	Output          string
	SessionID       string
	Cost            *float64
	Status          string // running, completed, failed
	DurationSeconds *float64
	seq             int64
}

// RunRepo is the run repository (C9).
type RunRepo struct {
	s *Store
}

func NewRunRepo(s *Store) *RunRepo { return &RunRepo{s: s} }

// RunInput carries the fields supplied at run creation.
type RunInput struct {
	Agent string
	Model string
}

// CreateRun writes a row in status running and returns its short id.
func (r *RunRepo) CreateRun(ctx context.Context, taskID string, in RunInput) (string, error) {
	now := nowUTC()
	var id string
	var insertErr error
	err := retryOnBusy(ctx, 5, func() error {
		genID, err := generateID(ctx, runIDPrefix, r.idExists)
		if err != nil {
			insertErr = err
			return nil
		}
		id = genID
		var nextSeq int64
		row := r.s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs WHERE task_id = ?;`, taskID)
		if err := row.Scan(&nextSeq); err != nil {
			return err
		}
		_, err = r.s.db.ExecContext(ctx, `
			INSERT INTO runs (id, task_id, agent, model, started_at, status, seq)
			VALUES (?, ?, ?, ?, ?, 'running', ?);
		`, id, taskID, in.Agent, in.Model, now, nextSeq)
		return err
	})
	if err != nil {
		return "", &storeerr.IoErr{Op: "insert run", Err: err}
	}
	if insertErr != nil {
		return "", insertErr
	}
	return id, nil
}

func (r *RunRepo) idExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?;`, id).Scan(&n)
	return n > 0, err
}

// RunPatch carries the optional fields applied by UpdateLatestRun.
type RunPatch struct {
	EndedAt   *time.Time
	ExitCode  *int
	Output    *string
	SessionID *string
	Cost      *float64
}

// UpdateLatestRun selects the most recent run for taskID (tie-break on
// insertion order) and patches the supplied fields. Setting EndedAt
// also sets status=completed and computes duration_seconds when both
// timestamps are known. Output is truncated to 10,240 bytes before
// persisting — exactly once, at this repository boundary, per §9's
// design note resolving the source's double-truncation inconsistency.
func (r *RunRepo) UpdateLatestRun(ctx context.Context, taskID string, patch RunPatch) error {
	run, err := r.latestRun(ctx, taskID)
	if err != nil {
		return err
	}

	if patch.Output != nil {
		out := *patch.Output
		if len(out) > outputTruncateAt {
			out = out[:outputTruncateAt]
		}
		run.Output = out
	}
	if patch.ExitCode != nil {
		run.ExitCode = patch.ExitCode
	}
	if patch.SessionID != nil {
		run.SessionID = *patch.SessionID
	}
	if patch.Cost != nil {
		run.Cost = patch.Cost
	}
	if patch.EndedAt != nil {
		run.EndedAt = patch.EndedAt
		run.Status = "completed"
		if !run.StartedAt.IsZero() {
			d := run.EndedAt.Sub(run.StartedAt).Seconds()
			run.DurationSeconds = &d
		}
	}

	_, err = r.s.db.ExecContext(ctx, `
		UPDATE runs SET ended_at=?, exit_code=?, output=?, session_id=?, cost=?, status=?, duration_seconds=?
		WHERE id=?;
	`, nullableTime(run.EndedAt), run.ExitCode, run.Output, run.SessionID, run.Cost, run.Status, run.DurationSeconds, run.ID)
	if err != nil {
		return &storeerr.IoErr{Op: "update latest run", Err: err}
	}
	return nil
}

func (r *RunRepo) latestRun(ctx context.Context, taskID string) (*Run, error) {
	row := r.s.db.QueryRowContext(ctx, runSelectColumns+` FROM runs WHERE task_id = ? ORDER BY seq DESC LIMIT 1;`, taskID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storeerr.NotFound{Kind_: "run", ID: taskID}
	}
	if err != nil {
		return nil, &storeerr.IoErr{Op: "find latest run", Err: err}
	}
	return run, nil
}

// CleanupOrphanedRuns finds every run in status running with a null
// ended_at and marks it failed with exit_code=-1 and a note explaining
// the orphan. Called once at supervisor start.
func (r *RunRepo) CleanupOrphanedRuns(ctx context.Context) (int, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT id FROM runs WHERE status = 'running' AND ended_at IS NULL;`)
	if err != nil {
		return 0, &storeerr.IoErr{Op: "find orphaned runs", Err: err}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, &storeerr.IoErr{Op: "scan orphaned run", Err: err}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &storeerr.IoErr{Op: "iterate orphaned runs", Err: err}
	}

	now := nowUTC()
	for _, id := range ids {
		exitCode := -1
		_, err := r.s.db.ExecContext(ctx, `
			UPDATE runs SET status='failed', exit_code=?, output=?, ended_at=? WHERE id=?;
		`, exitCode, orphanOutputNote, now, id)
		if err != nil {
			return 0, &storeerr.IoErr{Op: "mark orphaned run", Err: err}
		}
	}
	return len(ids), nil
}

const runSelectColumns = `SELECT id, task_id, agent, model, started_at, ended_at, exit_code,
	output, session_id, cost, status, duration_seconds, seq`

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var endedAt sql.NullTime
	var exitCode sql.NullInt64
	var cost sql.NullFloat64
	var duration sql.NullFloat64
	if err := row.Scan(&run.ID, &run.TaskID, &run.Agent, &run.Model, &run.StartedAt, &endedAt,
		&exitCode, &run.Output, &run.SessionID, &cost, &run.Status, &duration, &run.seq); err != nil {
		return nil, err
	}
	run.EndedAt = timePtr(endedAt)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		run.ExitCode = &v
	}
	if cost.Valid {
		v := cost.Float64
		run.Cost = &v
	}
	if duration.Valid {
		v := duration.Float64
		run.DurationSeconds = &v
	}
	return &run, nil
}
