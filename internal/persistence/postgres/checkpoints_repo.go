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

// checkpointRepo implements CheckpointRepo for PostgreSQL.
type checkpointRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCheckpointRepo creates a PostgreSQL model-checkpoint repository.
func NewCheckpointRepo(db *sqlx.DB, timeout time.Duration) persistence.CheckpointRepo {
	return &checkpointRepo{db: db, timeout: timeout}
}

// Save upserts the checkpoint for a run. A run keeps at most one
// checkpoint; re-saving replaces the payload.
func (r *checkpointRepo) Save(ctx context.Context, cp persistence.Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO checkpoints (run_id, estimator, payload)
		VALUES (:run_id, :estimator, :payload)
		ON CONFLICT (run_id) DO UPDATE
		SET estimator = EXCLUDED.estimator,
		    payload   = EXCLUDED.payload,
		    created_at = NOW()`, cp)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.RunID, err)
	}
	return nil
}

func (r *checkpointRepo) Load(ctx context.Context, runID string) (*persistence.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cp persistence.Checkpoint
	err := r.db.GetContext(ctx, &cp, `
		SELECT run_id, estimator, payload, created_at
		FROM checkpoints WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	return &cp, nil
}

func (r *checkpointRepo) LoadLatest(ctx context.Context) (*persistence.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cp persistence.Checkpoint
	err := r.db.GetContext(ctx, &cp, `
		SELECT run_id, estimator, payload, created_at
		FROM checkpoints ORDER BY created_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	return &cp, nil
}
