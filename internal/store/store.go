package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS portal_sessions (
    key         TEXT PRIMARY KEY,
    cookies     JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS harvest_runs (
    run_id        UUID PRIMARY KEY,
    portal        TEXT NOT NULL,
    filter        JSONB NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL,
    success       BOOLEAN NOT NULL,
    order_count   INTEGER NOT NULL,
    failure_count INTEGER NOT NULL,
    failures      JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS harvested_orders (
    run_id      UUID NOT NULL REFERENCES harvest_runs (run_id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    external_id TEXT NOT NULL,
    summary     JSONB NOT NULL,
    detail      JSONB NOT NULL,
    PRIMARY KEY (run_id, position)
);
`

// Store persists finalized harvest runs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pgx pool for url and verifies it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables the harvester writes to.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun records a finalized result and its orders in one transaction.
func (s *Store) SaveRun(ctx context.Context, result *schemas.HarvestResult) error {
	filter, err := json.Marshal(result.Filter)
	if err != nil {
		return fmt.Errorf("failed to encode filter: %w", err)
	}
	failures := []byte("[]")
	if len(result.Failures) > 0 {
		if failures, err = json.Marshal(result.Failures); err != nil {
			return fmt.Errorf("failed to encode failures: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
        INSERT INTO harvest_runs (run_id, portal, filter, started_at, finished_at, success, order_count, failure_count, failures)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		result.RunID, result.Portal, filter,
		result.StartedAt.UTC(), result.FinishedAt.UTC(),
		result.Success, len(result.Orders), len(result.Failures), failures,
	)
	if err != nil {
		return fmt.Errorf("failed to insert harvest run: %w", err)
	}

	for i, order := range result.Orders {
		if err := s.insertOrder(ctx, tx, result.RunID, i, order); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Harvest run persisted.", zap.String("run_id", result.RunID), zap.Int("orders", len(result.Orders)))
	return nil
}

func (s *Store) insertOrder(ctx context.Context, tx pgx.Tx, runID string, position int, order schemas.HarvestedOrder) error {
	summary, err := json.Marshal(order.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary %s: %w", order.Summary.ExternalID, err)
	}
	detail, err := json.Marshal(order.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode detail %s: %w", order.Summary.ExternalID, err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO harvested_orders (run_id, position, external_id, summary, detail)
        VALUES ($1, $2, $3, $4, $5)`,
		runID, position, order.Summary.ExternalID, summary, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.Summary.ExternalID, err)
	}
	return nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	RunID        string    `json:"run_id" yaml:"run_id"`
	Portal       string    `json:"portal" yaml:"portal"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
	Success      bool      `json:"success" yaml:"success"`
	OrderCount   int       `json:"order_count" yaml:"order_count"`
	FailureCount int       `json:"failure_count" yaml:"failure_count"`
}

// RecentRuns returns the latest runs of portal, newest first. An empty portal
// lists every portal.
func (s *Store) RecentRuns(ctx context.Context, portal string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
        SELECT run_id::text, portal, started_at, finished_at, success, order_count, failure_count
        FROM harvest_runs
        WHERE $1 = '' OR portal = $1
        ORDER BY started_at DESC
        LIMIT $2`, portal, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query harvest runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Portal, &r.StartedAt, &r.FinishedAt, &r.Success, &r.OrderCount, &r.FailureCount); err != nil {
			return nil, fmt.Errorf("failed to scan harvest run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read harvest runs: %w", err)
	}
	return out, nil
}
