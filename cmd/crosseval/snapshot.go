package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xsquant/crosseval/internal/calendar"
	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/live"
	"github.com/xsquant/crosseval/internal/model"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Produce a live as-of holdings snapshot",
		Long: `Restricts the panel to data at or before the as-of date, scores the most
recent cross-section, and prints the selected holdings with their entry
date and holding window. Train mode "reuse" restores the checkpoint of
the latest persisted run instead of refitting.`,
		RunE: runSnapshot,
	}
	cmd.Flags().String("as-of", "", "Override live.as_of (today, t-1, last_completed_trading_day, or a date)")
	cmd.Flags().String("train-mode", "", "Override live.train_mode (fresh|reuse)")
	return cmd
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	applyLogLevel(cmd)
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("as-of"); v != "" {
		cfg.Live.AsOf = v
	}
	if v, _ := cmd.Flags().GetString("train-mode"); v != "" {
		cfg.Live.TrainMode = v
	}

	p, err := loadPanel(cfg)
	if err != nil {
		return err
	}
	est, err := estimatorFrom(cfg.Model)
	if err != nil {
		return err
	}

	var cal calendar.TradingCalendar
	if cfg.Live.Calendar == "weekday" {
		cal = calendar.Weekday{}
	}

	var reuse model.Model
	direction := cfg.Eval.SignalDirection
	if cfg.Live.TrainMode == config.TrainReuse {
		reuse, direction, err = restoreLatest(ctx, cfg, est, direction)
		if err != nil {
			return err
		}
	}

	snap, err := live.New(cfg, est, cal).Snapshot(p, reuse, direction, time.Now().UTC())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// restoreLatest loads the most recent persisted checkpoint and the direction
// recorded with its run.
func restoreLatest(ctx context.Context, cfg config.Config, est model.Estimator, fallbackDir float64) (model.Model, float64, error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, 0, err
	}
	if store == nil {
		return nil, 0, fmt.Errorf("live.train_mode=reuse requires store.postgres_dsn")
	}
	defer store.Close()
	repos := store.Repositories()

	cp, err := repos.Checkpoints.LoadLatest(ctx)
	if err != nil {
		return nil, 0, err
	}
	if cp == nil {
		return nil, 0, fmt.Errorf("no checkpoint persisted; run an evaluation first")
	}
	m, err := est.Restore(cp.Payload)
	if err != nil {
		return nil, 0, fmt.Errorf("restore checkpoint %s: %w", cp.RunID, err)
	}

	direction := fallbackDir
	if rec, err := repos.Runs.Get(ctx, cp.RunID); err == nil && rec != nil {
		direction = rec.Direction
	}
	log.Info().Str("run_id", cp.RunID).Str("estimator", cp.Estimator).
		Float64("direction", direction).Msg("checkpoint restored")
	return m, direction, nil
}
