package live

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsquant/crosseval/internal/calendar"
	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/model"
	"github.com/xsquant/crosseval/internal/panel"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestResolveAsOfTokens(t *testing.T) {
	// Wednesday
	now := day(2024, 6, 12)

	d, warn, err := ResolveAsOf("today", now, calendar.Weekday{})
	require.NoError(t, err)
	assert.Empty(t, warn)
	assert.True(t, d.Equal(now))

	d, _, err = ResolveAsOf("t-1", now, calendar.Weekday{})
	require.NoError(t, err)
	assert.True(t, d.Equal(day(2024, 6, 11)))

	d, _, err = ResolveAsOf("20240610", now, nil)
	require.NoError(t, err)
	assert.True(t, d.Equal(day(2024, 6, 10)))

	d, _, err = ResolveAsOf("2024-06-07", now, nil)
	require.NoError(t, err)
	assert.True(t, d.Equal(day(2024, 6, 7)))

	_, _, err = ResolveAsOf("fortnight", now, nil)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestResolveAsOfTradingDay(t *testing.T) {
	// Monday: the last completed trading day is the prior Friday
	monday := day(2024, 6, 10)
	d, warn, err := ResolveAsOf("last_completed_trading_day", monday, calendar.Weekday{})
	require.NoError(t, err)
	assert.Empty(t, warn)
	assert.True(t, d.Equal(day(2024, 6, 7)))

	// without a calendar the token degrades and warns
	d, warn, err = ResolveAsOf("last_completed_trading_day", monday, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, warn)
	assert.True(t, d.Equal(day(2024, 6, 9)))
}

func liveConfig() config.Config {
	cfg := config.Default()
	cfg.Live.AsOf = "today"
	cfg.Live.Calendar = "weekday"
	cfg.Eval.MinCrossSection = 2
	cfg.Backtest.TopK = 2
	cfg.Backtest.LongOnly = true
	cfg.Backtest.ShiftDays = 1
	return cfg
}

// livePanel has labeled history through historyEnd and an unlabeled current
// cross-section on signalDay.
func livePanel(t *testing.T, signalStrength map[string]float64) *panel.Panel {
	t.Helper()
	var rows []panel.Row
	syms := []string{"AAA", "BBB", "CCC", "DDD"}
	for d := 0; d < 5; d++ {
		for i, sym := range syms {
			f := float64(i) + float64(d)*0.1
			rows = append(rows, panel.Row{
				Date: day(2024, 6, 3+d), Symbol: sym,
				Features: []float64{f}, Label: f * 0.01, Price: 100, Tradable: true,
			})
		}
	}
	// signal day: labels not yet realized
	for sym, f := range signalStrength {
		rows = append(rows, panel.Row{
			Date: day(2024, 6, 10), Symbol: sym,
			Features: []float64{f}, Label: math.NaN(), Price: 100, Tradable: true,
		})
	}
	p, err := panel.New([]string{"f"}, rows)
	require.NoError(t, err)
	return p
}

func TestSnapshotSelectsTopOfLatestCrossSection(t *testing.T) {
	cfg := liveConfig()
	cfg.Live.AsOf = "2024-06-10"
	p := livePanel(t, map[string]float64{"AAA": 1, "BBB": 4, "CCC": 3, "DDD": 2})

	s := New(cfg, model.NewRidge(0.0001), calendar.Weekday{})
	snap, err := s.Snapshot(p, nil, 1, day(2024, 6, 10))
	require.NoError(t, err)

	assert.True(t, snap.SignalDate.Equal(day(2024, 6, 10)))
	assert.Equal(t, config.TrainFresh, snap.TrainMode)
	// model learned label ~ feature; the two strongest features lead
	assert.Equal(t, []string{"BBB", "CCC"}, snap.Selection.Symbols())
	// shift_days=1 trading day past Monday the 10th
	assert.True(t, snap.NextEntryDate.Equal(day(2024, 6, 11)))
}

func TestSnapshotIsPointInTime(t *testing.T) {
	cfg := liveConfig()
	cfg.Live.AsOf = "2024-06-06"

	cur := map[string]float64{"AAA": 1, "BBB": 4, "CCC": 3, "DDD": 2}
	baseline := livePanel(t, cur)

	// corrupt everything after the as-of date; the snapshot must not move
	poisoned := livePanel(t, map[string]float64{"AAA": 99, "BBB": -50, "CCC": 0, "DDD": 7})

	s := New(cfg, model.NewRidge(0.0001), calendar.Weekday{})
	a, err := s.Snapshot(baseline, nil, 1, day(2024, 6, 10))
	require.NoError(t, err)
	b, err := s.Snapshot(poisoned, nil, 1, day(2024, 6, 10))
	require.NoError(t, err)

	assert.True(t, a.SignalDate.Equal(day(2024, 6, 6)))
	assert.Equal(t, a.Selection.Symbols(), b.Selection.Symbols(),
		"data after the as-of date must not influence the selection")
}

// firstFeature scores every row by its first feature regardless of what it
// was fit on, so an inverted label relation shows up as negative history IC.
type firstFeature struct{}

func (firstFeature) Name() string { return "first-feature" }
func (firstFeature) Fit(rows []panel.Row, weights []float64) (model.Model, error) {
	return firstFeatureModel{}, nil
}
func (firstFeature) Restore([]byte) (model.Model, error) { return firstFeatureModel{}, nil }

type firstFeatureModel struct{}

func (firstFeatureModel) Predict(rows []panel.Row) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Features[0]
	}
	return out
}
func (firstFeatureModel) Importances() []float64      { return []float64{1} }
func (firstFeatureModel) Checkpoint() ([]byte, error) { return []byte("{}"), nil }

// invertedPanel carries labels that move against the feature, plus an
// unlabeled signal day.
func invertedPanel(t *testing.T) *panel.Panel {
	t.Helper()
	var rows []panel.Row
	syms := []string{"AAA", "BBB", "CCC", "DDD"}
	for d := 0; d < 5; d++ {
		for i, sym := range syms {
			f := float64(i) + float64(d)*0.1
			rows = append(rows, panel.Row{
				Date: day(2024, 6, 3+d), Symbol: sym,
				Features: []float64{f}, Label: -f * 0.01, Price: 100, Tradable: true,
			})
		}
	}
	for i, sym := range syms {
		rows = append(rows, panel.Row{
			Date: day(2024, 6, 10), Symbol: sym,
			Features: []float64{float64(i + 1)}, Label: math.NaN(), Price: 100, Tradable: true,
		})
	}
	p, err := panel.New([]string{"f"}, rows)
	require.NoError(t, err)
	return p
}

func TestSnapshotFreshAutoDirectionFlips(t *testing.T) {
	cfg := liveConfig()
	cfg.Live.AsOf = "2024-06-10"
	cfg.Eval.SignalDirectionMode = config.DirectionAuto
	cfg.Eval.MinAbsICToFlip = 0.01
	p := invertedPanel(t)

	s := New(cfg, firstFeature{}, calendar.Weekday{})
	snap, err := s.Snapshot(p, nil, cfg.Eval.SignalDirection, day(2024, 6, 10))
	require.NoError(t, err)

	assert.Equal(t, -1.0, snap.Direction,
		"a fresh fit under auto mode resolves direction from the labeled history")
	// direction -1 ranks the weakest features first
	assert.Equal(t, []string{"AAA", "BBB"}, snap.Selection.Symbols())
}

func TestSnapshotFreshAutoDirectionHoldsOnPositiveIC(t *testing.T) {
	cfg := liveConfig()
	cfg.Live.AsOf = "2024-06-10"
	cfg.Eval.SignalDirectionMode = config.DirectionAuto
	p := livePanel(t, map[string]float64{"AAA": 1, "BBB": 4, "CCC": 3, "DDD": 2})

	s := New(cfg, firstFeature{}, calendar.Weekday{})
	snap, err := s.Snapshot(p, nil, cfg.Eval.SignalDirection, day(2024, 6, 10))
	require.NoError(t, err)

	assert.Equal(t, 1.0, snap.Direction)
	assert.Equal(t, []string{"BBB", "CCC"}, snap.Selection.Symbols())
}

func TestSnapshotReuseSkipsTraining(t *testing.T) {
	cfg := liveConfig()
	cfg.Live.AsOf = "2024-06-10"
	cfg.Live.TrainMode = config.TrainReuse
	p := livePanel(t, map[string]float64{"AAA": 1, "BBB": 4, "CCC": 3, "DDD": 2})

	est := model.NewRidge(0.0001)
	pretrained, err := est.Fit(p.Rows()[:20], nil)
	require.NoError(t, err)

	s := New(cfg, est, calendar.Weekday{})
	snap, err := s.Snapshot(p, pretrained, -1, day(2024, 6, 10))
	require.NoError(t, err)

	assert.Equal(t, config.TrainReuse, snap.TrainMode)
	assert.Equal(t, -1.0, snap.Direction, "reuse carries the stored run's direction")
	// direction -1 inverts the ranking
	assert.Equal(t, []string{"AAA", "DDD"}, snap.Selection.Symbols())
}

func TestSnapshotNoDataBeforeAsOf(t *testing.T) {
	cfg := liveConfig()
	cfg.Live.AsOf = "2020-01-01"
	p := livePanel(t, map[string]float64{"AAA": 1, "BBB": 2})

	s := New(cfg, model.NewRidge(1), calendar.Weekday{})
	_, err := s.Snapshot(p, nil, 1, day(2024, 6, 10))
	require.Error(t, err)
	assert.True(t, errs.IsInsufficientData(err))
}

func TestSnapshotThinCrossSection(t *testing.T) {
	cfg := liveConfig()
	cfg.Live.AsOf = "2024-06-10"
	cfg.Eval.MinCrossSection = 3
	p := livePanel(t, map[string]float64{"AAA": 1, "BBB": 2})

	s := New(cfg, model.NewRidge(1), calendar.Weekday{})
	_, err := s.Snapshot(p, nil, 1, day(2024, 6, 10))
	require.Error(t, err)
	assert.True(t, errs.IsInsufficientData(err))
}
