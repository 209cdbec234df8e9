package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/metrics"
	"github.com/xsquant/crosseval/internal/model"
	"github.com/xsquant/crosseval/internal/panel"
)

func day(d int) time.Time {
	return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

// enginePanel builds a panel whose label tracks the single feature, so every
// fold carries positive IC.
func enginePanel(t *testing.T, nDates, nSyms int) *panel.Panel {
	t.Helper()
	var rows []panel.Row
	for d := 0; d < nDates; d++ {
		for s := 0; s < nSyms; s++ {
			f := float64(s) + float64(d%3)*0.05
			rows = append(rows, panel.Row{
				Date:     day(d),
				Symbol:   string(rune('A' + s)),
				Features: []float64{f},
				Label:    f * 0.01,
				Price:    100 + f,
				Tradable: true,
			})
		}
	}
	p, err := panel.New([]string{"f"}, rows)
	require.NoError(t, err)
	return p
}

func engineConfig() config.Config {
	cfg := config.Default()
	cfg.Eval.NSplits = 3
	cfg.Eval.EmbargoDays = 1
	cfg.Eval.MaxConcurrentFolds = 2
	cfg.Backtest.Enabled = false
	return cfg
}

func TestRunAggregatesFolds(t *testing.T) {
	p := enginePanel(t, 40, 6)
	eng := New(engineConfig(), model.NewRidge(0.0001), metrics.NewRegistry())

	summary, err := eng.Run(context.Background(), p)
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.Aborted)
	require.Len(t, summary.Folds, 3)
	for i, f := range summary.Folds {
		assert.Equal(t, i, f.Index, "outcomes reassembled in fold order")
		assert.False(t, f.Skipped)
	}
	assert.Greater(t, summary.DailyIC.Mean, 0.9, "monotone label yields high daily IC")
	assert.Greater(t, summary.CVIC, 0.9)
	assert.Equal(t, 1.0, summary.Direction)
	assert.Contains(t, summary.Importances, "f")
	assert.NotEmpty(t, summary.Predictions())
}

func TestRunWithBacktest(t *testing.T) {
	cfg := engineConfig()
	cfg.Backtest.Enabled = true
	cfg.Backtest.TopK = 2
	cfg.Backtest.RebalanceFrequency = "D"
	cfg.Backtest.ShiftDays = 0

	p := enginePanel(t, 40, 6)
	summary, err := New(cfg, model.NewRidge(0.0001), nil).Run(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, summary.Backtest)
	assert.Greater(t, summary.Backtest.Stats.Periods, 0)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := engineConfig()
	cfg.Eval.NQuantiles = 1
	_, err := New(cfg, model.NewRidge(1), nil).Run(context.Background(), enginePanel(t, 20, 4))
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestRunInfeasibleSplit(t *testing.T) {
	cfg := engineConfig()
	cfg.Eval.EmbargoDays = 100
	_, err := New(cfg, model.NewRidge(1), nil).Run(context.Background(), enginePanel(t, 20, 4))
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := New(engineConfig(), model.NewRidge(0.0001), nil).Run(ctx, enginePanel(t, 40, 6))
	// workers may or may not have picked up folds before the cancellation is
	// observed; either the run fails outright or it reports a partial,
	// aborted summary
	if err == nil {
		require.NotNil(t, summary)
		assert.True(t, summary.Aborted)
		assert.Nil(t, summary.Backtest)
	}
}

func TestRunNoUsableFolds(t *testing.T) {
	cfg := engineConfig()
	cfg.Eval.MinCrossSection = 50 // every test date filtered out

	_, err := New(cfg, model.NewRidge(1), nil).Run(context.Background(), enginePanel(t, 40, 6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable folds")
}

func TestQuantileSpreadPositiveForMonotoneSignal(t *testing.T) {
	p := enginePanel(t, 40, 10)
	summary, err := New(engineConfig(), model.NewRidge(0.0001), nil).Run(context.Background(), p)
	require.NoError(t, err)

	spread := QuantileSpread(summary, 5)
	assert.Greater(t, spread, 0.0, "top bucket outruns the bottom bucket")
}
