// Package live produces the as-of holdings snapshot. It reuses the exact
// selection and direction logic of the backtest at a single date and never
// reads label or price data after the as-of date.
package live

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/calendar"
	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/model"
	"github.com/xsquant/crosseval/internal/panel"
	"github.com/xsquant/crosseval/internal/portfolio"
	"github.com/xsquant/crosseval/internal/signal"
)

// Snapshot is a current-holdings recommendation. The annotations make the
// holding period unambiguous to the consumer.
type Snapshot struct {
	SignalAsOf    time.Time           `json:"signal_asof"`
	SignalDate    time.Time           `json:"signal_date"` // last panel date at or before as-of
	NextEntryDate time.Time           `json:"next_entry_date"`
	HoldingWindow string              `json:"holding_window"`
	TrainMode     string              `json:"train_mode"`
	Direction     float64             `json:"direction"`
	Selection     portfolio.Selection `json:"selection"`
	Warning       string              `json:"warning,omitempty"`
}

// Snapshotter builds snapshots under a fixed configuration.
type Snapshotter struct {
	cfg config.Config
	est model.Estimator
	cal calendar.TradingCalendar // nil degrades as-of resolution to calendar days
}

// New builds a Snapshotter. cal may be nil.
func New(cfg config.Config, est model.Estimator, cal calendar.TradingCalendar) *Snapshotter {
	return &Snapshotter{cfg: cfg, est: est, cal: cal}
}

// ResolveAsOf turns an as-of token into a concrete date. Supported tokens:
// "today", "t-1", "last_completed_trading_day" and explicit dates in
// YYYYMMDD or YYYY-MM-DD form. Without a trading calendar the trading-day
// token falls back to calendar days and returns a warning.
func ResolveAsOf(token string, now time.Time, cal calendar.TradingCalendar) (time.Time, string, error) {
	today := panel.Normalize(now)
	switch token {
	case "", "today", "t", "now":
		return today, "", nil
	case "t-1", "yesterday":
		return today.AddDate(0, 0, -1), "", nil
	case "last_trading_day", "last_completed_trading_day":
		includeToday := token == "last_trading_day"
		if cal != nil {
			if d, ok := cal.LastTradingDay(today, includeToday); ok {
				return d, "", nil
			}
		}
		warning := fmt.Sprintf("as_of=%s uses calendar-day fallback (no trading calendar)", token)
		log.Warn().Str("token", token).Msg("trading calendar unavailable, falling back to calendar day")
		if includeToday {
			return today, warning, nil
		}
		return today.AddDate(0, 0, -1), warning, nil
	}
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if d, err := time.Parse(layout, token); err == nil {
			return panel.Normalize(d), "", nil
		}
	}
	return time.Time{}, "", errs.NewConfig("live.as_of", "invalid token %q", token)
}

// Snapshot computes the as-of selection. reuse carries a checkpointed model
// from a prior backtest run when train_mode=reuse; direction is the
// direction that run resolved (pass the configured static direction
// otherwise). A fresh fit under auto direction mode re-resolves the
// direction from the labeled history so the snapshot agrees with a backtest
// run over the same panel. The panel is truncated at the as-of date before
// any model or selection code touches it.
func (s *Snapshotter) Snapshot(p *panel.Panel, reuse model.Model, direction float64, now time.Time) (*Snapshot, error) {
	asOf, warning, err := ResolveAsOf(s.cfg.Live.AsOf, now, s.cal)
	if err != nil {
		return nil, err
	}

	pit, err := p.Before(asOf)
	if err != nil {
		return nil, err
	}
	if pit.NumDates() == 0 {
		return nil, errs.NewInsufficientData(0, "no panel data at or before %s", asOf.Format(panel.DateFormat))
	}
	signalDate := pit.DateAt(pit.NumDates() - 1)

	trained := reuse
	mode := s.cfg.Live.TrainMode
	if trained == nil {
		mode = config.TrainFresh
		var labeled []panel.Row
		trained, labeled, err = s.trainFresh(pit)
		if err != nil {
			return nil, err
		}
		if s.cfg.Eval.SignalDirectionMode == config.DirectionAuto {
			direction = s.resolveFreshDirection(trained, labeled)
		}
	}

	day := pit.AtDate(signalDate)
	if len(day) < s.cfg.Eval.MinCrossSection {
		return nil, errs.NewInsufficientData(0, "cross-section at %s has %d symbols, need %d",
			signalDate.Format(panel.DateFormat), len(day), s.cfg.Eval.MinCrossSection)
	}
	scores := trained.Predict(day)
	preds := make([]signal.Prediction, len(day))
	for i, row := range day {
		preds[i] = signal.Prediction{Date: row.Date, Symbol: row.Symbol, Score: scores[i], FwdReturn: math.NaN()}
	}

	constructor := &portfolio.Constructor{TopK: s.cfg.Backtest.TopK, LongOnly: s.cfg.Backtest.LongOnly}
	selection := constructor.Select(signalDate, preds, direction)

	snap := &Snapshot{
		SignalAsOf:    asOf,
		SignalDate:    signalDate,
		NextEntryDate: s.entryDate(asOf),
		HoldingWindow: s.holdingWindow(),
		TrainMode:     mode,
		Direction:     direction,
		Selection:     selection,
		Warning:       warning,
	}
	log.Info().Str("as_of", asOf.Format(panel.DateFormat)).
		Str("signal_date", signalDate.Format(panel.DateFormat)).
		Int("holdings", len(selection.Long)).Str("train_mode", mode).
		Msg("live snapshot produced")
	return snap, nil
}

// trainFresh fits the estimator on every labeled row at or before the
// as-of date and returns those rows. Unlabeled rows (the most recent dates,
// whose forward window has not closed) never reach the fit.
func (s *Snapshotter) trainFresh(pit *panel.Panel) (model.Model, []panel.Row, error) {
	var labeled []panel.Row
	for _, row := range pit.Rows() {
		if !math.IsNaN(row.Label) {
			labeled = append(labeled, row)
		}
	}
	if len(labeled) == 0 {
		return nil, nil, errs.NewInsufficientData(0, "no labeled history to train on")
	}
	var weights []float64
	if s.cfg.Model.SampleWeightMode == "date_equal" {
		weights = model.DateEqualWeights(labeled)
	}
	m, err := s.est.Fit(labeled, weights)
	if err != nil {
		return nil, nil, err
	}
	return m, labeled, nil
}

// resolveFreshDirection scores the labeled history in-sample and applies
// the same daily-IC flip rule a backtest fold applies out of sample.
func (s *Snapshotter) resolveFreshDirection(trained model.Model, labeled []panel.Row) float64 {
	scores := trained.Predict(labeled)
	preds := make([]signal.Prediction, len(labeled))
	seen := make(map[time.Time]struct{}, len(labeled))
	var dates []time.Time
	for i, row := range labeled {
		preds[i] = signal.Prediction{Date: row.Date, Symbol: row.Symbol, Score: scores[i], FwdReturn: row.Label}
		if _, ok := seen[row.Date]; !ok {
			seen[row.Date] = struct{}{}
			dates = append(dates, row.Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	mean := signal.MeanDailyIC(preds, dates, s.cfg.Eval.MinCrossSection)
	direction := signal.ResolveDirection(s.cfg.Eval, mean)
	if direction == -1 {
		log.Info().Float64("daily_ic", mean).Msg("auto direction flipped to short signal")
	}
	return direction
}

// entryDate advances shift_days trading days past the as-of date, or
// calendar days when no calendar is wired.
func (s *Snapshotter) entryDate(asOf time.Time) time.Time {
	d := asOf
	steps := s.cfg.Backtest.ShiftDays
	if steps == 0 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		if s.cal != nil {
			if next, ok := s.cal.NextTradingDay(d); ok {
				d = next
				continue
			}
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func (s *Snapshotter) holdingWindow() string {
	if s.cfg.Backtest.ExitMode == config.ExitModeLabelHorizon {
		return fmt.Sprintf("%d trading days from entry", s.cfg.Backtest.ExitHorizonDays)
	}
	return fmt.Sprintf("until next %s rebalance (+%d day shift)",
		s.cfg.Backtest.RebalanceFrequency, s.cfg.Backtest.ShiftDays)
}
