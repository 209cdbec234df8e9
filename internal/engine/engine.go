// Package engine orchestrates a full evaluation run: fold construction,
// concurrent fold evaluation, aggregation into a run summary and the
// optional backtest.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/backtest"
	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/metrics"
	"github.com/xsquant/crosseval/internal/model"
	"github.com/xsquant/crosseval/internal/panel"
	"github.com/xsquant/crosseval/internal/portfolio"
	"github.com/xsquant/crosseval/internal/signal"
	"github.com/xsquant/crosseval/internal/split"
	"github.com/xsquant/crosseval/internal/stats"
)

// FoldOutcome records one fold's fate in the run summary. Skipped folds
// keep their cause; they are not silently dropped.
type FoldOutcome struct {
	Index      int                `json:"index"`
	Skipped    bool               `json:"skipped"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Result     *signal.FoldResult `json:"-"`
}

// RunSummary is the aggregate, read-only output of a run.
type RunSummary struct {
	RunID       string                 `json:"run_id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Aborted     bool                   `json:"aborted"`
	Folds       []FoldOutcome          `json:"folds"`
	DailyIC     stats.Summary          `json:"daily_ic"`
	CVIC        float64                `json:"cv_ic"`
	Direction   float64                `json:"direction"`
	Importances map[string]float64     `json:"feature_importances"`
	Backtest    *backtest.Result       `json:"backtest,omitempty"`
	Config      config.Config          `json:"config"`
}

// Predictions concatenates the prediction records of all evaluated folds.
// Test windows are disjoint, so each (date, symbol) appears at most once.
func (s *RunSummary) Predictions() []signal.Prediction {
	var out []signal.Prediction
	for _, f := range s.Folds {
		if !f.Skipped {
			out = append(out, f.Result.Predictions...)
		}
	}
	return out
}

// Engine runs the evaluation pipeline against a fixed configuration.
type Engine struct {
	cfg     config.Config
	est     model.Estimator
	metrics *metrics.Registry
}

// New builds an Engine. reg may be nil when instrumentation is unwanted.
func New(cfg config.Config, est model.Estimator, reg *metrics.Registry) *Engine {
	return &Engine{cfg: cfg, est: est, metrics: reg}
}

// Run evaluates every fold, aggregates IC statistics and optionally runs
// the backtest. Cancellation is honored between folds: completed folds are
// reported in a partial summary with Aborted set.
//
// A run in which no fold produced predictions fails outright; it is never
// reported as a zero-IC result.
func (e *Engine) Run(ctx context.Context, p *panel.Panel) (*RunSummary, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Config:    e.cfg,
	}
	if e.metrics != nil {
		e.metrics.ActiveRuns.Inc()
		defer e.metrics.ActiveRuns.Dec()
	}

	splitter := split.New(e.cfg.Eval)
	folds, err := splitter.Folds(p.Dates(), func(d time.Time) int { return len(p.AtDate(d)) })
	if err != nil {
		if e.metrics != nil {
			e.metrics.RunsTotal.WithLabelValues("config_error").Inc()
		}
		return nil, err
	}

	log.Info().Str("run_id", summary.RunID).Int("folds", len(folds)).
		Str("split_mode", e.cfg.Eval.SplitMode).Msg("run started")

	outcomes := e.evaluateFolds(ctx, p, folds)
	summary.Folds = outcomes
	summary.Aborted = ctx.Err() != nil
	summary.FinishedAt = time.Now().UTC()

	usable := 0
	for _, o := range outcomes {
		if !o.Skipped {
			usable++
		}
	}
	if usable == 0 {
		if e.metrics != nil {
			e.metrics.RunsTotal.WithLabelValues("failed").Inc()
		}
		return nil, fmt.Errorf("run %s produced no usable folds (%d skipped): %w",
			summary.RunID, len(outcomes), firstSkipCause(outcomes))
	}

	e.aggregate(p, summary)

	if e.cfg.Backtest.Enabled && !summary.Aborted {
		runner := backtest.NewRunner(e.cfg.Backtest)
		bt, err := runner.Run(p, summary.Predictions(), summary.Direction)
		if err != nil {
			if errs.IsInsufficientData(err) {
				log.Warn().Err(err).Msg("backtest skipped")
			} else {
				return nil, err
			}
		} else {
			summary.Backtest = bt
			if e.metrics != nil {
				for _, entry := range bt.Entries {
					e.metrics.Turnover.Observe(entry.Turnover)
				}
			}
		}
	}

	if e.metrics != nil {
		status := "ok"
		if summary.Aborted {
			status = "aborted"
		}
		e.metrics.RunsTotal.WithLabelValues(status).Inc()
		e.metrics.DailyIC.Set(summary.DailyIC.Mean)
		e.metrics.CVIC.Set(summary.CVIC)
	}
	log.Info().Str("run_id", summary.RunID).Int("usable_folds", usable).
		Float64("daily_ic", summary.DailyIC.Mean).Bool("aborted", summary.Aborted).
		Msg("run finished")
	return summary, nil
}

// evaluateFolds fans folds out to a bounded worker pool. The Panel is
// read-only and shared; outcomes are reassembled in fold order afterwards.
// Workers stop picking up new folds once ctx is done, never mid-fold.
func (e *Engine) evaluateFolds(ctx context.Context, p *panel.Panel, folds []split.Fold) []FoldOutcome {
	evaluator := signal.NewEvaluator(e.cfg.Eval, e.cfg.Model, e.est)

	workers := e.cfg.Eval.MaxConcurrentFolds
	if workers > len(folds) {
		workers = len(folds)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan split.Fold)
	results := make(chan FoldOutcome, len(folds))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fold := range jobs {
				results <- e.evaluateOne(evaluator, p, fold)
			}
		}()
	}

feed:
	for _, fold := range folds {
		select {
		case <-ctx.Done():
			log.Warn().Int("fold", fold.Index).Msg("run aborted, remaining folds not started")
			break feed
		case jobs <- fold:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var outcomes []FoldOutcome
	for o := range results {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })
	return outcomes
}

func (e *Engine) evaluateOne(evaluator *signal.Evaluator, p *panel.Panel, fold split.Fold) FoldOutcome {
	start := time.Now()
	result, err := evaluator.EvaluateFold(p, fold)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		if e.metrics != nil {
			e.metrics.FoldDuration.WithLabelValues("skipped").Observe(elapsed)
			e.metrics.FoldsEvaluated.WithLabelValues("skipped").Inc()
		}
		log.Warn().Int("fold", fold.Index).Err(err).Msg("fold skipped")
		return FoldOutcome{Index: fold.Index, Skipped: true, SkipReason: err.Error()}
	}
	if e.metrics != nil {
		e.metrics.FoldDuration.WithLabelValues("ok").Observe(elapsed)
		e.metrics.FoldsEvaluated.WithLabelValues("ok").Inc()
	}
	return FoldOutcome{Index: fold.Index, Result: result}
}

// aggregate folds per-fold metrics into run-level statistics. The run's
// direction is the most recent fold's resolved direction, which is what the
// live snapshot reuses.
func (e *Engine) aggregate(p *panel.Panel, summary *RunSummary) {
	var daily []float64
	var cvSum float64
	cvN := 0
	importances := make([]float64, len(p.FeatureNames()))
	usable := 0

	for _, o := range summary.Folds {
		if o.Skipped {
			continue
		}
		usable++
		for _, pt := range o.Result.DailyIC {
			daily = append(daily, pt.IC)
		}
		cvSum += o.Result.CVIC
		cvN++
		for i, imp := range o.Result.Importances {
			if i < len(importances) {
				importances[i] += imp
			}
		}
		summary.Direction = o.Result.Direction
	}

	summary.DailyIC = stats.Summarize(daily)
	if cvN > 0 {
		summary.CVIC = cvSum / float64(cvN)
	}
	summary.Importances = make(map[string]float64, len(importances))
	for i, name := range p.FeatureNames() {
		summary.Importances[name] = importances[i] / float64(usable)
	}
}

func firstSkipCause(outcomes []FoldOutcome) error {
	for _, o := range outcomes {
		if o.Skipped {
			return fmt.Errorf("%s", o.SkipReason)
		}
	}
	return fmt.Errorf("no folds produced")
}

// QuantileSpread reports the mean top-minus-bottom quantile return over the
// run's prediction records, a quick sanity check on monotonicity.
func QuantileSpread(summary *RunSummary, nQuantiles int) float64 {
	qr := portfolio.QuantileReturns(summary.Predictions(), summary.Direction, nQuantiles)
	var sum float64
	n := 0
	for _, means := range qr {
		top, bottom := means[len(means)-1], means[0]
		sum += top - bottom
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
