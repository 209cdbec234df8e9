package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/panel"
	"github.com/xsquant/crosseval/internal/signal"
)

func day(d int) time.Time {
	return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

// buildPanel turns per-symbol price paths into a panel with one dummy
// feature. A NaN-free path must cover every date; use addGap to blank one.
func buildPanel(t *testing.T, prices map[string][]float64, nDates int) *panel.Panel {
	t.Helper()
	var rows []panel.Row
	for sym, path := range prices {
		require.Len(t, path, nDates)
		for i, px := range path {
			if px <= 0 {
				continue // gap: no row for this (date, symbol)
			}
			rows = append(rows, panel.Row{
				Date: day(i), Symbol: sym, Features: []float64{0},
				Label: 0, Price: px, Tradable: true,
			})
		}
	}
	p, err := panel.New([]string{"f"}, rows)
	require.NoError(t, err)
	return p
}

func predsAt(d int, scores map[string]float64) []signal.Prediction {
	out := make([]signal.Prediction, 0, len(scores))
	for sym, s := range scores {
		out = append(out, signal.Prediction{Date: day(d), Symbol: sym, Score: s})
	}
	return out
}

func baseConfig() config.BacktestConfig {
	return config.BacktestConfig{
		Enabled:            true,
		TopK:               1,
		LongOnly:           true,
		RebalanceFrequency: "D",
		ShiftDays:          0,
		CostBps:            10,
		RoundTrip:          false,
		ExitMode:           config.ExitModeRebalance,
		ExitPricePolicy:    config.ExitPriceStrict,
		ExitFallbackPolicy: config.ExitFallbackFFill,
		TradingDaysPerYear: 252,
	}
}

func TestRunLongOnlyBasic(t *testing.T) {
	p := buildPanel(t, map[string][]float64{
		"A": {100, 110, 121},
		"B": {100, 100, 100},
		"C": {100, 90, 81},
	}, 3)
	var preds []signal.Prediction
	for d := 0; d < 3; d++ {
		preds = append(preds, predsAt(d, map[string]float64{"A": 3, "B": 2, "C": 1})...)
	}

	res, err := NewRunner(baseConfig()).Run(p, preds, 1)
	require.NoError(t, err)
	// the final rebalance has no closing date and produces no entry
	require.Len(t, res.Entries, 2)

	first := res.Entries[0]
	assert.Equal(t, []string{"A"}, holdingSymbols(first))
	assert.InDelta(t, 0.10, first.Gross, 1e-12)
	assert.InDelta(t, 1.0, first.Turnover, 1e-12, "initial rebalance is full turnover")
	assert.InDelta(t, 0.001, first.Cost, 1e-12, "initial entry charged one side")
	assert.InDelta(t, first.Gross-first.Cost, first.Net, 1e-12)

	second := res.Entries[1]
	assert.Equal(t, []string{"A"}, holdingSymbols(second))
	assert.InDelta(t, 0.10, second.Gross, 1e-12)
	assert.InDelta(t, 0.0, second.Turnover, 1e-12, "unchanged single-name book")
	assert.InDelta(t, 0.0, second.Cost, 1e-12)

	assert.Equal(t, 2, res.Stats.Periods)
	wantTotal := (1+first.Net)*(1+second.Net) - 1
	assert.InDelta(t, wantTotal, res.Stats.TotalReturn, 1e-12)
}

func TestRunBufferRetainsIncumbent(t *testing.T) {
	cfg := baseConfig()
	cfg.TopK = 2
	cfg.BufferExit = 1
	cfg.CostBps = 0

	flat := []float64{100, 100, 100}
	p := buildPanel(t, map[string][]float64{
		"A": flat, "B": flat, "C": flat, "D": flat,
	}, 3)

	preds := predsAt(0, map[string]float64{"A": 4, "B": 3, "C": 2, "D": 1})
	// B slips to rank 3, inside the exit band; C at rank 2 must not displace it
	preds = append(preds, predsAt(1, map[string]float64{"A": 4, "C": 3, "B": 2, "D": 1})...)
	preds = append(preds, predsAt(2, map[string]float64{"A": 4, "C": 3, "B": 2, "D": 1})...)

	res, err := NewRunner(cfg).Run(p, preds, 1)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)

	assert.ElementsMatch(t, []string{"A", "B"}, holdingSymbols(res.Entries[0]))
	assert.ElementsMatch(t, []string{"A", "B"}, holdingSymbols(res.Entries[1]),
		"incumbent inside the exit band is not dropped")
	assert.InDelta(t, 0.0, res.Entries[1].Turnover, 1e-12,
		"a retained book on flat prices costs no turnover")
}

func TestRunStrictNoFallbackFailsOnGap(t *testing.T) {
	cfg := baseConfig()
	cfg.ExitFallbackPolicy = config.ExitFallbackNone

	p := buildPanel(t, map[string][]float64{
		"A": {100, -1, -1}, // no exit price ever again
		"B": {100, 100, 100},
	}, 3)
	preds := predsAt(0, map[string]float64{"A": 2, "B": 1})
	preds = append(preds, predsAt(1, map[string]float64{"B": 1})...)

	_, err := NewRunner(cfg).Run(p, preds, 1)
	require.Error(t, err)
	assert.True(t, errs.IsDataGap(err))
}

func TestRunStrictWithFFillFallbackSubstitutes(t *testing.T) {
	p := buildPanel(t, map[string][]float64{
		"A": {100, -1, -1},
		"B": {100, 100, 100},
	}, 3)
	preds := predsAt(0, map[string]float64{"A": 2, "B": 1})
	preds = append(preds, predsAt(1, map[string]float64{"B": 1})...)

	res, err := NewRunner(baseConfig()).Run(p, preds, 1)
	require.NoError(t, err)
	require.NotEmpty(t, res.Entries)
	first := res.Entries[0]
	assert.Contains(t, first.Substitutions, "A")
	// the substituted fill is A's entry close, a flat period
	assert.InDelta(t, 0.0, first.Gross, 1e-12)
}

func TestRunDelayExtendsPeriod(t *testing.T) {
	cfg := baseConfig()
	cfg.ExitPricePolicy = config.ExitPriceDelay

	p := buildPanel(t, map[string][]float64{
		"A": {100, -1, 120},
		"B": {100, 100, 100},
	}, 3)
	preds := predsAt(0, map[string]float64{"A": 2, "B": 1})
	preds = append(preds, predsAt(1, map[string]float64{"B": 1})...)

	res, err := NewRunner(cfg).Run(p, preds, 1)
	require.NoError(t, err)
	require.NotEmpty(t, res.Entries)
	first := res.Entries[0]
	assert.True(t, first.ExitDate.Equal(day(2)), "delayed fill pushes the exit date out")
	assert.InDelta(t, 0.20, first.Gross, 1e-12)
}

func TestRunLabelHorizonOverlapRejected(t *testing.T) {
	cfg := baseConfig()
	cfg.ExitMode = config.ExitModeLabelHorizon
	cfg.ExitHorizonDays = 5 // daily rebalances with 5-day holds overlap

	flat := []float64{100, 100, 100, 100, 100, 100, 100, 100}
	p := buildPanel(t, map[string][]float64{"A": flat, "B": flat}, 8)
	var preds []signal.Prediction
	for d := 0; d < 8; d++ {
		preds = append(preds, predsAt(d, map[string]float64{"A": 2, "B": 1})...)
	}

	_, err := NewRunner(cfg).Run(p, preds, 1)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestRunLabelHorizonNonOverlapping(t *testing.T) {
	cfg := baseConfig()
	cfg.ExitMode = config.ExitModeLabelHorizon
	cfg.ExitHorizonDays = 2

	p := buildPanel(t, map[string][]float64{
		"A": {100, 105, 110, 115, 121, 127},
		"B": {100, 100, 100, 100, 100, 100},
	}, 6)
	// signal every other day keeps periods disjoint
	preds := predsAt(0, map[string]float64{"A": 2, "B": 1})
	preds = append(preds, predsAt(2, map[string]float64{"A": 2, "B": 1})...)

	res, err := NewRunner(cfg).Run(p, preds, 1)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.InDelta(t, 0.10, res.Entries[0].Gross, 1e-12)
	assert.True(t, res.Entries[0].ExitDate.Equal(day(2)))
}

func TestRunNoCompletablePeriods(t *testing.T) {
	p := buildPanel(t, map[string][]float64{"A": {100}, "B": {100}}, 1)
	preds := predsAt(0, map[string]float64{"A": 2, "B": 1})

	_, err := NewRunner(baseConfig()).Run(p, preds, 1)
	require.Error(t, err)
	assert.True(t, errs.IsInsufficientData(err))
}

func TestRunShiftDaysMovesEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.ShiftDays = 1

	p := buildPanel(t, map[string][]float64{
		"A": {100, 110, 121, 133},
		"B": {100, 100, 100, 100},
	}, 4)
	preds := predsAt(0, map[string]float64{"A": 2, "B": 1})
	preds = append(preds, predsAt(1, map[string]float64{"A": 2, "B": 1})...)

	res, err := NewRunner(cfg).Run(p, preds, 1)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	first := res.Entries[0]
	assert.True(t, first.EntryDate.Equal(day(1)), "entry shifted one day past the signal")
	assert.True(t, first.ExitDate.Equal(day(2)))
	assert.InDelta(t, 0.10, first.Gross, 1e-12)
}

func holdingSymbols(e LedgerEntry) []string {
	out := make([]string, len(e.Holdings))
	for i, h := range e.Holdings {
		out[i] = h.Symbol
	}
	return out
}
