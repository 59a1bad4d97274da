// Package store implements the task, epic, and run repositories (C7,
// C8, C9) over a single-file embedded SQLite database, grounded on the
// teacher's internal/persistence/store.go: a schema-version ledger
// gating startup, retryOnBusy around SQLITE_BUSY/LOCKED, and
// transitionTaskTx-style compare-and-swap status transitions with an
// append-only task_events audit trail.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashleyhindle/fuel/internal/storeerr"
)

const (
	schemaVersionV1  = 1
	schemaChecksumV1 = "fuel-v1-2026-07-12-task-epic-run-schedule"

	schemaVersionLatest  = schemaVersionV1
	schemaChecksumLatest = schemaChecksumV1
)

// Store owns the database connection shared by the Task, Epic, and Run
// repositories.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns .fuel/fuel.db under homeDir.
func DefaultDBPath(homeDir string) string {
	return filepath.Join(homeDir, ".fuel", "fuel.db")
}

// Open creates the database file (and parent directories) if absent,
// applies pragmas, and runs schema migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, &storeerr.ConfigErr{Message: "store: empty database path"}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &storeerr.IoErr{Op: "create db directory", Err: err}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &storeerr.IoErr{Op: "open sqlite", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB for components (e.g. cron) that
// need their own tables alongside the repositories.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return &storeerr.IoErr{Op: fmt.Sprintf("set pragma %q", p), Err: err}
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storeerr.IoErr{Op: "begin schema tx", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return &storeerr.IoErr{Op: "create schema_meta", Err: err}
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_meta;`).Scan(&maxVersion); err != nil {
		return &storeerr.IoErr{Op: "read schema_meta", Err: err}
	}
	if maxVersion > schemaVersionLatest {
		return &storeerr.ConfigErr{Message: fmt.Sprintf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)}
	}
	if maxVersion == schemaVersionLatest {
		var checksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_meta WHERE version = ?;`, schemaVersionLatest).Scan(&checksum); err != nil {
			return &storeerr.IoErr{Op: "read schema checksum", Err: err}
		}
		if checksum != schemaChecksumLatest {
			return &storeerr.ConfigErr{Message: fmt.Sprintf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, checksum, schemaChecksumLatest)}
		}
		return tx.Commit()
	}

	if maxVersion != 0 {
		return &storeerr.ConfigErr{Message: fmt.Sprintf("db schema version %d is not a recognized upgrade path", maxVersion)}
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS epics (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reviewed_at DATETIME,
			approved_at DATETIME,
			approved_by TEXT NOT NULL DEFAULT '',
			changes_requested_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'task',
			priority INTEGER NOT NULL DEFAULT 2,
			size TEXT NOT NULL DEFAULT 'm',
			complexity TEXT NOT NULL DEFAULT 'simple',
			labels_json TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'open',
			epic_id TEXT REFERENCES epics(id),
			blocked_by_json TEXT NOT NULL DEFAULT '[]',
			reason TEXT NOT NULL DEFAULT '',
			commit_hash TEXT NOT NULL DEFAULT '',
			last_review_issues_json TEXT NOT NULL DEFAULT '[]',
			consumed INTEGER NOT NULL DEFAULT 0,
			consumed_at DATETIME,
			consumed_exit_code INTEGER,
			consume_pid INTEGER,
			consumed_output TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_epic_id ON tasks(epic_id);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			agent TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			exit_code INTEGER,
			output TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			cost REAL,
			status TEXT NOT NULL DEFAULT 'running',
			duration_seconds REAL,
			seq INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id, seq);`,
		`CREATE TABLE IF NOT EXISTS task_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			from_status TEXT NOT NULL DEFAULT '',
			to_status TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_entity ON task_events(entity_type, entity_id);`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			complexity TEXT NOT NULL DEFAULT 'simple',
			last_run_at DATETIME,
			next_run_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_at);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &storeerr.IoErr{Op: "create schema", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_meta (version, checksum, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP);
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return &storeerr.IoErr{Op: "record schema version", Err: err}
	}

	return tx.Commit()
}

// retryOnBusy retries f while the driver reports SQLITE_BUSY/LOCKED,
// backing off with jitter. Mirrors the teacher's retryOnBusy, adapted
// to modernc.org/sqlite's error text (it has no CGO error codes to
// inspect, so classification is by message substring).
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Int63n(int64(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

func nowUTC() time.Time { return time.Now().UTC() }

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
