// Package split produces leakage-safe train/test folds over the panel's
// date axis. Folds are immutable once constructed.
package split

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
)

// Fold is one train/test window pair. TrainDates always end at least
// max(embargo, purge) date positions before TestDates begin, so no label
// whose forward window crosses the boundary can leak into training.
type Fold struct {
	Index       int
	TrainDates  []time.Time
	TestDates   []time.Time
	EmbargoDays int
	PurgeDays   int
}

// Splitter generates folds from sorted distinct dates.
type Splitter struct {
	cfg config.EvalConfig
}

// New returns a Splitter for the given evaluation config.
func New(cfg config.EvalConfig) *Splitter {
	return &Splitter{cfg: cfg}
}

// Gap returns the date-index gap enforced between train end and test start.
func (s *Splitter) Gap() int {
	if s.cfg.EmbargoDays > s.cfg.PurgeDays {
		return s.cfg.EmbargoDays
	}
	return s.cfg.PurgeDays
}

// Folds builds the fold sequence. crossSize reports the cross-sectional row
// count per date; test dates below the configured minimum are dropped from
// the fold but only an entirely-empty test window invalidates it (the
// evaluator skips such folds). Infeasible embargo/purge or window settings
// fail with a ConfigurationError before any fold is returned.
func (s *Splitter) Folds(dates []time.Time, crossSize func(time.Time) int) ([]Fold, error) {
	n := len(dates)
	gap := s.Gap()
	if gap >= n {
		return nil, errs.NewConfig("eval.embargo_days/purge_days",
			"gap %d exceeds available date range (%d dates)", gap, n)
	}

	var folds []Fold
	var err error
	switch s.cfg.SplitMode {
	case config.SplitWalkForward:
		folds, err = s.walkForward(dates, gap)
	default:
		folds, err = s.anchored(dates, gap)
	}
	if err != nil {
		return nil, err
	}

	for i := range folds {
		folds[i].TestDates = filterDates(folds[i].TestDates, crossSize, s.cfg.MinCrossSection)
		if len(folds[i].TestDates) == 0 {
			log.Warn().Int("fold", folds[i].Index).
				Msg("every test date dropped below minimum cross-section")
		}
	}
	return folds, nil
}

// anchored mirrors a time-series k-fold over the date axis: the horizon is
// cut into n_splits+1 blocks, each fold tests the next block and trains on
// everything before it, less the leakage gap.
func (s *Splitter) anchored(dates []time.Time, gap int) ([]Fold, error) {
	n := len(dates)
	k := s.cfg.NSplits
	testSize := n / (k + 1)
	if testSize < 1 {
		return nil, errs.NewConfig("eval.n_splits",
			"%d splits leave no test dates over a %d-date range", k, n)
	}

	folds := make([]Fold, 0, k)
	for i := 0; i < k; i++ {
		testStart := n - (k-i)*testSize
		testEnd := testStart + testSize
		trainEnd := testStart - gap
		if trainEnd < 0 {
			trainEnd = 0
		}
		folds = append(folds, Fold{
			Index:       i,
			TrainDates:  copyDates(dates[:trainEnd]),
			TestDates:   copyDates(dates[testStart:testEnd]),
			EmbargoDays: s.cfg.EmbargoDays,
			PurgeDays:   s.cfg.PurgeDays,
		})
	}
	return folds, nil
}

// walkForward advances fixed-size test blocks across the tail of the date
// axis. Expanding windows train from the origin; rolling windows keep a
// fixed train length.
func (s *Splitter) walkForward(dates []time.Time, gap int) ([]Fold, error) {
	n := len(dates)
	k := s.cfg.NSplits
	testLen := s.cfg.WalkForward.TestLength
	horizon := k * testLen
	if horizon+gap >= n {
		return nil, errs.NewConfig("eval.walk_forward",
			"%d folds of %d test dates plus gap %d do not fit a %d-date range", k, testLen, gap, n)
	}

	folds := make([]Fold, 0, k)
	for i := 0; i < k; i++ {
		testStart := n - horizon + i*testLen
		testEnd := testStart + testLen
		trainEnd := testStart - gap
		trainStart := 0
		if s.cfg.WalkForward.Window == config.WindowRolling {
			trainStart = trainEnd - s.cfg.WalkForward.TrainLength
			if trainStart < 0 {
				trainStart = 0
			}
		}
		if trainEnd <= trainStart {
			return nil, errs.NewConfig("eval.walk_forward",
				"fold %d has no train dates after applying gap %d", i, gap)
		}
		folds = append(folds, Fold{
			Index:       i,
			TrainDates:  copyDates(dates[trainStart:trainEnd]),
			TestDates:   copyDates(dates[testStart:testEnd]),
			EmbargoDays: s.cfg.EmbargoDays,
			PurgeDays:   s.cfg.PurgeDays,
		})
	}
	return folds, nil
}

func filterDates(dates []time.Time, crossSize func(time.Time) int, minSize int) []time.Time {
	if crossSize == nil {
		return dates
	}
	kept := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if crossSize(d) >= minSize {
			kept = append(kept, d)
		}
	}
	return kept
}

func copyDates(src []time.Time) []time.Time {
	return append([]time.Time(nil), src...)
}
