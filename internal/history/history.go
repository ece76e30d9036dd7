// Package history provides a SQLite-backed journal of ingestion runs.
// Every ingestion call records one row — source descriptor, outcome counts,
// duration — so operators can see what was pushed into the index and when,
// across CLI invocations and server restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Run is the recorded outcome of one ingestion call.
type Run struct {
	// Source describes the ingested input (e.g. "file:notes.txt", "dir:./docs", "api").
	Source string
	// Index is the target index name.
	Index string
	// Submitted, Failed, and Skipped are the summary counts of the call.
	Submitted int
	Failed    int
	Skipped   int
	// Duration is the wall-clock time of the call.
	Duration time.Duration
	// CreatedAt is when the run was persisted.
	CreatedAt time.Time
}

// RunStore persists and retrieves ingestion runs.
// Implementations must be safe for concurrent use.
type RunStore interface {
	// Record persists a single run.
	Record(ctx context.Context, run Run) error
	// Recent returns the most recent n runs, newest-first.
	Recent(ctx context.Context, n int) ([]Run, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a RunStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the ingestion history database.
// It resolves to ~/.sai/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".sai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    source       TEXT    NOT NULL,
    target_index TEXT    NOT NULL,
    submitted    INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    skipped      INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_created
    ON ingestion_runs (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record persists a single ingestion run.
func (s *SQLiteStore) Record(ctx context.Context, run Run) error {
	const q = `INSERT INTO ingestion_runs
	(source, target_index, submitted, failed, skipped, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		run.Source, run.Index, run.Submitted, run.Failed, run.Skipped,
		run.Duration.Milliseconds(), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n runs, newest-first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Run, error) {
	const q = `
SELECT source, target_index, submitted, failed, skipped, duration_ms, created_at
FROM   ingestion_runs
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var durationMS, ts int64
		if err := rows.Scan(&r.Source, &r.Index, &r.Submitted, &r.Failed, &r.Skipped, &durationMS, &ts); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.CreatedAt = time.Unix(ts, 0)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
