// Package ledger keeps an audit trail of generation attempts in SQLite.
// Nothing is ever read back into a session.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const DBFile = "ledger.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    name TEXT,
    model TEXT NOT NULL,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    label TEXT NOT NULL,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    media_type TEXT,
    bytes INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON attempts(timestamp);
CREATE INDEX IF NOT EXISTS idx_attempts_provider ON attempts(provider);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

type Store struct {
	db *sql.DB
}

// NewStore opens the ledger under dir.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithPath(filepath.Join(dir, DBFile))
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, model, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, nullString(run.Name), run.Model, run.StartedAt.UTC())
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, model, started_at FROM runs WHERE id = ?`, id)

	run := &Run{}
	var name sql.NullString
	if err := row.Scan(&run.ID, &name, &run.Model, &run.StartedAt); err != nil {
		return nil, err
	}
	run.Name = name.String
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, model, started_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var name sql.NullString
		if err := rows.Scan(&run.ID, &name, &run.Model, &run.StartedAt); err != nil {
			return nil, err
		}
		run.Name = name.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	return err
}

func (s *Store) CreateAttempt(ctx context.Context, a *Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, run_id, mode, label, provider, model, status, error, media_type, bytes, cost, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.Mode, a.Label, a.Provider, a.Model, a.Status,
		nullString(a.Error), nullString(a.MediaType), a.Bytes, a.Cost, a.Duration.Milliseconds(), a.Timestamp.UTC())
	return err
}

const attemptColumns = `id, run_id, mode, label, provider, model, status, error, media_type, bytes, cost, duration_ms, timestamp`

func scanAttempt(row interface{ Scan(...any) error }) (*Attempt, error) {
	a := &Attempt{}
	var errMsg, mediaType sql.NullString
	var durationMS int64
	if err := row.Scan(&a.ID, &a.RunID, &a.Mode, &a.Label, &a.Provider, &a.Model, &a.Status,
		&errMsg, &mediaType, &a.Bytes, &a.Cost, &durationMS, &a.Timestamp); err != nil {
		return nil, err
	}
	a.Error = errMsg.String
	a.MediaType = mediaType.String
	a.Duration = time.Duration(durationMS) * time.Millisecond
	return a, nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
}

func (s *Store) ListAttempts(ctx context.Context, runID string) ([]*Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE run_id = ? ORDER BY timestamp ASC`, runID)
}

// RecentAttempts returns up to limit attempts across all runs, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts ORDER BY timestamp DESC LIMIT ?`, limit)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *Store) CountAttempts(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE run_id = ?`, runID).Scan(&count)
	return count, err
}

const summaryColumns = `COALESCE(SUM(cost), 0), COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0), COUNT(*)`

func (s *Store) summary(ctx context.Context, where string, args ...any) (*CostSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM attempts `+where, args...)

	var summary CostSummary
	if err := row.Scan(&summary.TotalCost, &summary.ImageCount, &summary.AttemptCount); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Store) GetCostByDateRange(ctx context.Context, start, end time.Time) (*CostSummary, error) {
	return s.summary(ctx, `WHERE timestamp >= ? AND timestamp < ?`, start.UTC(), end.UTC())
}

func (s *Store) GetTotalCost(ctx context.Context) (*CostSummary, error) {
	return s.summary(ctx, ``)
}

func (s *Store) GetRunCost(ctx context.Context, runID string) (*CostSummary, error) {
	return s.summary(ctx, `WHERE run_id = ?`, runID)
}

func (s *Store) GetCostByProvider(ctx context.Context) ([]ProviderCostSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, `+summaryColumns+`
		 FROM attempts GROUP BY provider ORDER BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ProviderCostSummary
	for rows.Next() {
		var ps ProviderCostSummary
		if err := rows.Scan(&ps.Provider, &ps.TotalCost, &ps.ImageCount, &ps.AttemptCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, ps)
	}
	return summaries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
