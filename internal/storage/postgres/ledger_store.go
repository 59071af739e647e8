// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrapequeue/internal/store"
)

const defaultTable = "task_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool used for ledger rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// LedgerStore implements store.LedgerRepository using Postgres.
type LedgerStore struct {
	pool  execCloser
	table string
}

var _ store.LedgerRepository = (*LedgerStore)(nil)

// NewLedgerStore creates a Postgres-backed LedgerStore using the provided config.
func NewLedgerStore(ctx context.Context, cfg LedgerConfig) (*LedgerStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LedgerStore{pool: pool, table: table}, nil
}

// NewLedgerStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLedgerStoreWithPool(pool execCloser, table string) (*LedgerStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LedgerStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *LedgerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when it does not exist.
func (s *LedgerStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        UUID        NOT NULL,
	task          INTEGER     NOT NULL,
	url           TEXT        NOT NULL,
	workspace     TEXT        NOT NULL DEFAULT '',
	status        TEXT        NOT NULL,
	dispatched_at TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	captured      INTEGER     NOT NULL DEFAULT 0,
	failed        INTEGER     NOT NULL DEFAULT 0,
	error_message TEXT,
	PRIMARY KEY (run_id, task)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// RecordDispatch inserts the running row for a task.
func (s *LedgerStore) RecordDispatch(
	ctx context.Context,
	runID uuid.UUID,
	task int,
	url string,
	workspace string,
	at time.Time,
) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, task, url, workspace, status, dispatched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, task) DO UPDATE
SET workspace = EXCLUDED.workspace, dispatched_at = EXCLUDED.dispatched_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, task, url, workspace, store.TaskRunning, at); err != nil {
		return fmt.Errorf("insert task dispatch: %w", err)
	}
	return nil
}

// RecordCompletion marks a task finished.
func (s *LedgerStore) RecordCompletion(
	ctx context.Context,
	runID uuid.UUID,
	task int,
	url string,
	done store.Completion,
) error {
	update := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, captured = $3, failed = $4, error_message = $5
WHERE run_id = $6 AND task = $7`, s.table)
	res, err := s.pool.Exec(ctx, update,
		done.FinishedAt, done.Status, done.Captured, done.Failed, done.ErrorMessage, runID, task)
	if err != nil {
		return fmt.Errorf("update task completion: %w", err)
	}
	if res.RowsAffected() > 0 {
		return nil
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (run_id, task, url, status, finished_at, captured, failed, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id, task) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, insert,
		runID, task, url, done.Status, done.FinishedAt, done.Captured, done.Failed, done.ErrorMessage); err != nil {
		return fmt.Errorf("insert task completion: %w", err)
	}
	return nil
}
