package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xsquant/crosseval/internal/persistence"
)

// runRepo implements RunRepo for PostgreSQL.
type runRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo creates a PostgreSQL run-summary repository.
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	return &runRepo{db: db, timeout: timeout}
}

func (r *runRepo) Insert(ctx context.Context, rec persistence.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, aborted,
			daily_ic_mean, daily_ic_std, daily_ic_ir, cv_ic, direction,
			total_return, ann_return, sharpe, max_drawdown, avg_turnover,
			importances, config)
		VALUES (:run_id, :started_at, :finished_at, :aborted,
			:daily_ic_mean, :daily_ic_std, :daily_ic_ir, :cv_ic, :direction,
			:total_return, :ann_return, :sharpe, :max_drawdown, :avg_turnover,
			:importances, :config)`, rec)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.RunID, err)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, aborted,
	daily_ic_mean, daily_ic_std, daily_ic_ir, cv_ic, direction,
	total_return, ann_return, sharpe, max_drawdown, avg_turnover,
	importances, config, created_at`

func (r *runRepo) Get(ctx context.Context, runID string) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rec persistence.RunRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &rec, nil
}

func (r *runRepo) Latest(ctx context.Context) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rec persistence.RunRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT `+runColumns+` FROM runs ORDER BY finished_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &rec, nil
}
