package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mod-watchdog/internal/snapshot"
)

type Run struct {
	RunID      string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Requested  int
	Resolved   int
	Drift      bool
	FinalState string
	Error      string
}

type Store struct {
	db *sql.DB
}

// Open opens the history database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun upserts one run row.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, mode, started_at, finished_at, requested, resolved, drift, final_state, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
    finished_at = excluded.finished_at,
    requested = excluded.requested,
    resolved = excluded.resolved,
    drift = excluded.drift,
    final_state = excluded.final_state,
    error = excluded.error`,
		r.RunID, r.Mode, r.StartedAt.UTC().UnixMilli(), r.FinishedAt.UTC().UnixMilli(),
		r.Requested, r.Resolved, boolInt(r.Drift), r.FinalState, r.Error)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordChanges stores the outdated mods that a run detected.
func (s *Store) RecordChanges(ctx context.Context, runID string, changes []snapshot.Change) error {
	if s == nil || s.db == nil || len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO mod_updates (run_id, mod_id, name, prev_updated, updated, first_seen)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, c := range changes {
		if _, err := stmt.ExecContext(ctx, runID, c.ID, c.Name, c.Previous, c.Current, boolInt(c.New)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, mode, started_at, finished_at, requested, resolved, drift, final_state, error
FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r              Run
			started, ended int64
			drift          int
		)
		if err := rows.Scan(&r.RunID, &r.Mode, &started, &ended, &r.Requested, &r.Resolved, &drift, &r.FinalState, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(ended).UTC()
		r.Drift = drift != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ModUpdates returns the recorded changes of a run ordered by mod id.
func (s *Store) ModUpdates(ctx context.Context, runID string) ([]snapshot.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT mod_id, name, prev_updated, updated, first_seen FROM mod_updates
WHERE run_id = ? ORDER BY mod_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query mod updates: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Change
	for rows.Next() {
		var (
			c     snapshot.Change
			first int
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Previous, &c.Current, &first); err != nil {
			return nil, fmt.Errorf("scan mod update: %w", err)
		}
		c.New = first != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
