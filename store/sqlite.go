package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver

	"github.com/hupe1980/factorymesh/trace"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT,
	finished_at TEXT,
	result      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_request ON runs(request_id, finished_at)`,
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists results in a SQLite database through the pure Go
// glebarez/go-sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run history %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create run history schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts or replaces the result row.
func (s *SQLiteStore) Save(ctx context.Context, res *trace.WorkflowResult) error {
	data, err := encode(res)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, request_id, status, started_at, finished_at, result) VALUES (?, ?, ?, ?, ?, ?)`,
		res.RunID, res.RequestID, string(res.Status), res.StartedAt.UTC().Format(timeLayout), res.FinishedAt.UTC().Format(timeLayout), string(data),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	return nil
}

// Get loads a stored result or returns ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*trace.WorkflowResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return decode([]byte(data))
}

// List returns stored results, newest first.
func (s *SQLiteStore) List(ctx context.Context, requestID string, limit int) ([]*trace.WorkflowResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM runs WHERE (? = '' OR request_id = ?) ORDER BY finished_at DESC, rowid DESC LIMIT ?`,
		requestID, requestID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*trace.WorkflowResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		res, err := decode([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// HandleResult saves res; it lets the store act as an engine result sink.
func (s *SQLiteStore) HandleResult(ctx context.Context, res *trace.WorkflowResult) error {
	return s.Save(ctx, res)
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
