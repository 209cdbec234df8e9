package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/engine"
	"github.com/xsquant/crosseval/internal/metrics"
	"github.com/xsquant/crosseval/internal/persistence"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the configured signal and optionally backtest it",
		Long: `Builds leakage-safe folds over the panel, fits the estimator per fold,
reports rank-IC statistics, and when backtesting is enabled produces the
period ledger and summary stats. Artifacts are persisted when a Postgres
DSN is configured.`,
		RunE: runEval,
	}
	cmd.Flags().String("panel", "", "Override data.panel_path")
	cmd.Flags().Bool("no-persist", false, "Skip artifact persistence even when configured")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	applyLogLevel(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if override, _ := cmd.Flags().GetString("panel"); override != "" {
		cfg.Data.PanelPath = override
	}

	p, err := loadPanel(cfg)
	if err != nil {
		return err
	}
	log.Info().Int("rows", p.Len()).Int("dates", p.NumDates()).
		Strs("features", p.FeatureNames()).Msg("panel loaded")

	est, err := estimatorFrom(cfg.Model)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	summary, err := engine.New(cfg, est, reg).Run(ctx, p)
	if err != nil {
		return err
	}

	if noPersist, _ := cmd.Flags().GetBool("no-persist"); !noPersist {
		if err := persistRun(ctx, cfg, summary); err != nil {
			// Persistence failure does not invalidate results already computed.
			log.Error().Err(err).Msg("artifact persistence failed")
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

func persistRun(ctx context.Context, cfg config.Config, summary *engine.RunSummary) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	defer store.Close()
	repos := store.Repositories()

	rec, err := persistence.BuildRunRecord(summary)
	if err != nil {
		return err
	}
	if err := repos.Runs.Insert(ctx, rec); err != nil {
		return err
	}

	rows, err := persistence.BuildLedgerRows(summary)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		if err := repos.Ledger.InsertBatch(ctx, rows); err != nil {
			return err
		}
	}

	if cp := latestCheckpoint(summary); cp != nil {
		if err := repos.Checkpoints.Save(ctx, *cp); err != nil {
			return err
		}
	}
	log.Info().Str("run_id", summary.RunID).Int("ledger_rows", len(rows)).
		Msg("artifacts persisted")
	return nil
}

// latestCheckpoint serializes the model of the last evaluated fold, the one
// trained on the most recent window.
func latestCheckpoint(summary *engine.RunSummary) *persistence.Checkpoint {
	for i := len(summary.Folds) - 1; i >= 0; i-- {
		f := summary.Folds[i]
		if f.Skipped || f.Result == nil || f.Result.TrainedModel == nil {
			continue
		}
		payload, err := f.Result.TrainedModel.Checkpoint()
		if err != nil {
			log.Warn().Err(err).Int("fold", f.Index).Msg("checkpoint serialization failed")
			return nil
		}
		return &persistence.Checkpoint{
			RunID:     summary.RunID,
			Estimator: summary.Config.Model.Type,
			Payload:   payload,
		}
	}
	return nil
}
