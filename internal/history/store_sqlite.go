package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteStore stores run records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the runs table and indexes if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			trigger_kind TEXT NOT NULL,
			total_failure INTEGER NOT NULL,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create runs started_at index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record inserts a run summary.
func (s *SQLiteStore) Record(ctx context.Context, run *RunRecord) error {
	payload, err := serializeRun(run)
	if err != nil {
		return err
	}

	totalFailure := 0
	if run.TotalFailure {
		totalFailure = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, trigger_kind, total_failure, data)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.Unix(), run.Trigger, totalFailure, string(payload))
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// Get returns a run by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM runs WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query run record: %w", err)
	}
	return deserializeRun([]byte(payload))
}

// List returns runs ordered by started_at desc, id desc.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	limit = normalizeLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT data
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	defer rows.Close()

	items := make([]*RunRecord, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run, err := deserializeRun([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode run row: %w", err)
		}
		items = append(items, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return items, nil
}

// Close is a no-op; DB lifecycle is managed by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
