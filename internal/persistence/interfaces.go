// Package persistence defines the persisted-artifact contracts: the
// position ledger keyed by rebalance date, the run summary record, the
// exact configuration used, and model checkpoints for live reuse.
// Serialization formats belong to the reporting layer; these types are the
// contract only.
package persistence

import (
	"context"
	"encoding/json"
	"time"
)

// LedgerRow is one persisted rebalance period.
type LedgerRow struct {
	ID            int64           `db:"id" json:"id"`
	RunID         string          `db:"run_id" json:"run_id"`
	RebalanceDate time.Time       `db:"rebalance_date" json:"rebalance_date"`
	EntryDate     time.Time       `db:"entry_date" json:"entry_date"`
	ExitDate      time.Time       `db:"exit_date" json:"exit_date"`
	Holdings      json.RawMessage `db:"holdings" json:"holdings"`
	Turnover      float64         `db:"turnover" json:"turnover"`
	Gross         float64         `db:"gross_return" json:"gross_return"`
	Cost          float64         `db:"cost" json:"cost"`
	Net           float64         `db:"net_return" json:"net_return"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// RunRecord is the persisted run summary.
type RunRecord struct {
	RunID       string          `db:"run_id" json:"run_id"`
	StartedAt   time.Time       `db:"started_at" json:"started_at"`
	FinishedAt  time.Time       `db:"finished_at" json:"finished_at"`
	Aborted     bool            `db:"aborted" json:"aborted"`
	DailyICMean float64         `db:"daily_ic_mean" json:"daily_ic_mean"`
	DailyICStd  float64         `db:"daily_ic_std" json:"daily_ic_std"`
	DailyICIR   float64         `db:"daily_ic_ir" json:"daily_ic_ir"`
	CVIC        float64         `db:"cv_ic" json:"cv_ic"`
	Direction   float64         `db:"direction" json:"direction"`
	TotalReturn float64         `db:"total_return" json:"total_return"`
	AnnReturn   float64         `db:"ann_return" json:"ann_return"`
	Sharpe      float64         `db:"sharpe" json:"sharpe"`
	MaxDrawdown float64         `db:"max_drawdown" json:"max_drawdown"`
	AvgTurnover float64         `db:"avg_turnover" json:"avg_turnover"`
	Importances json.RawMessage `db:"importances" json:"importances"`
	Config      json.RawMessage `db:"config" json:"config"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Checkpoint is a serialized trained model owned by the run that produced
// it until explicitly stored here.
type Checkpoint struct {
	RunID     string    `db:"run_id" json:"run_id"`
	Estimator string    `db:"estimator" json:"estimator"`
	Payload   []byte    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LedgerRepo persists ledger rows in rebalance-date order.
type LedgerRepo interface {
	InsertBatch(ctx context.Context, rows []LedgerRow) error
	ListByRun(ctx context.Context, runID string) ([]LedgerRow, error)
}

// RunRepo persists run summaries.
type RunRepo interface {
	Insert(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, runID string) (*RunRecord, error)
	Latest(ctx context.Context) (*RunRecord, error)
}

// CheckpointRepo stores trained-model checkpoints for live reuse.
type CheckpointRepo interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, runID string) (*Checkpoint, error)
	LoadLatest(ctx context.Context) (*Checkpoint, error)
}

// Repositories bundles every repo behind one handle.
type Repositories struct {
	Ledger      LedgerRepo
	Runs        RunRepo
	Checkpoints CheckpointRepo
}
