// Package postgres implements the persistence contracts on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/persistence"
)

const defaultTimeout = 10 * time.Second

// Store owns the database handle and the repository set.
type Store struct {
	db *sqlx.DB
}

// Connect opens and pings a PostgreSQL connection.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info().Msg("postgres connected")
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Repositories returns the repository set bound to this store.
func (s *Store) Repositories() persistence.Repositories {
	return persistence.Repositories{
		Ledger:      NewLedgerRepo(s.db, defaultTimeout),
		Runs:        NewRunRepo(s.db, defaultTimeout),
		Checkpoints: NewCheckpointRepo(s.db, defaultTimeout),
	}
}

// EnsureSchema creates the artifact tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	aborted       BOOLEAN NOT NULL DEFAULT FALSE,
	daily_ic_mean DOUBLE PRECISION NOT NULL,
	daily_ic_std  DOUBLE PRECISION NOT NULL,
	daily_ic_ir   DOUBLE PRECISION NOT NULL,
	cv_ic         DOUBLE PRECISION NOT NULL,
	direction     DOUBLE PRECISION NOT NULL,
	total_return  DOUBLE PRECISION NOT NULL DEFAULT 0,
	ann_return    DOUBLE PRECISION NOT NULL DEFAULT 0,
	sharpe        DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_drawdown  DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_turnover  DOUBLE PRECISION NOT NULL DEFAULT 0,
	importances   JSONB,
	config        JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger (
	id             BIGSERIAL PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	rebalance_date DATE NOT NULL,
	entry_date     DATE NOT NULL,
	exit_date      DATE NOT NULL,
	holdings       JSONB NOT NULL,
	turnover       DOUBLE PRECISION NOT NULL,
	gross_return   DOUBLE PRECISION NOT NULL,
	cost           DOUBLE PRECISION NOT NULL,
	net_return     DOUBLE PRECISION NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, rebalance_date)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT PRIMARY KEY REFERENCES runs(run_id) ON DELETE CASCADE,
	estimator  TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_run_date ON ledger(run_id, rebalance_date);
`
