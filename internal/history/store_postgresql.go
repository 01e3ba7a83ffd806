package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore stores run records in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the runs table and indexes if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at BIGINT NOT NULL,
			trigger_kind TEXT NOT NULL,
			total_failure BOOLEAN NOT NULL,
			data JSONB NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create runs started_at index: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Record inserts a run summary.
func (s *PostgreSQLStore) Record(ctx context.Context, run *RunRecord) error {
	payload, err := serializeRun(run)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, started_at, trigger_kind, total_failure, data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, run.ID, run.StartedAt.Unix(), run.Trigger, run.TotalFailure, payload)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// Get returns a run by id.
func (s *PostgreSQLStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM runs WHERE id = $1", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query run record: %w", err)
	}
	return deserializeRun(payload)
}

// List returns runs ordered by started_at desc, id desc.
func (s *PostgreSQLStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	limit = normalizeLimit(limit)

	rows, err := s.pool.Query(ctx, `
		SELECT data
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	defer rows.Close()

	items := make([]*RunRecord, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run, err := deserializeRun(payload)
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

// Close is a no-op; pool lifecycle is managed by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
