package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/xsquant/crosseval/internal/persistence"
)

// ledgerRepo implements LedgerRepo for PostgreSQL.
type ledgerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLedgerRepo creates a PostgreSQL ledger repository.
func NewLedgerRepo(db *sqlx.DB, timeout time.Duration) persistence.LedgerRepo {
	return &ledgerRepo{db: db, timeout: timeout}
}

// InsertBatch appends ledger rows atomically. Rows must already be in
// rebalance-date order; a duplicate (run, date) pair rejects the batch.
func (r *ledgerRepo) InsertBatch(ctx context.Context, rows []persistence.LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger (run_id, rebalance_date, entry_date, exit_date, holdings, turnover, gross_return, cost, net_return)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.RunID, row.RebalanceDate, row.EntryDate, row.ExitDate,
			[]byte(row.Holdings), row.Turnover, row.Gross, row.Cost, row.Net)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("duplicate ledger entry for run %s at %s: %w",
					row.RunID, row.RebalanceDate.Format("2006-01-02"), err)
			}
			return fmt.Errorf("insert ledger row: %w", err)
		}
	}
	return tx.Commit()
}

// ListByRun returns a run's ledger in rebalance-date order.
func (r *ledgerRepo) ListByRun(ctx context.Context, runID string) ([]persistence.LedgerRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.LedgerRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, run_id, rebalance_date, entry_date, exit_date, holdings, turnover, gross_return, cost, net_return, created_at
		FROM ledger WHERE run_id = $1 ORDER BY rebalance_date`, runID)
	if err != nil {
		return nil, fmt.Errorf("list ledger for run %s: %w", runID, err)
	}
	return rows, nil
}
