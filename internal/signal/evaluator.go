// Package signal evaluates one fold at a time: fit the estimator on the
// train window, predict the test window, and measure how much ranking
// information the predictions carry.
package signal

import (
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/model"
	"github.com/xsquant/crosseval/internal/panel"
	"github.com/xsquant/crosseval/internal/split"
	"github.com/xsquant/crosseval/internal/stats"
)

// Prediction pairs a predicted score with the realized forward return taken
// from the panel's label column. The label is attached, never recomputed.
type Prediction struct {
	Date      time.Time
	Symbol    string
	Score     float64
	FwdReturn float64
}

// DatedIC is one point of the per-date IC series. IC is NaN for dates that
// were retained in the series but excluded from the aggregate.
type DatedIC struct {
	Date time.Time
	IC   float64
}

// FoldResult carries everything downstream consumers need from one fold.
type FoldResult struct {
	Fold         split.Fold
	Predictions  []Prediction
	DailyIC      []DatedIC
	DailySummary stats.Summary // over the non-NaN daily ICs
	CVIC         float64       // Spearman over the pooled fold
	Direction    float64       // +1 or -1, applied by portfolio construction
	PermutationP float64       // NaN when the permutation test is disabled
	Importances  []float64
	TrainedModel model.Model
}

// Evaluator runs fold evaluation against a fixed configuration.
type Evaluator struct {
	cfg      config.EvalConfig
	modelCfg config.ModelConfig
	est      model.Estimator
}

// NewEvaluator builds an Evaluator around the given estimator.
func NewEvaluator(cfg config.EvalConfig, modelCfg config.ModelConfig, est model.Estimator) *Evaluator {
	return &Evaluator{cfg: cfg, modelCfg: modelCfg, est: est}
}

// EvaluateFold fits once on the fold's train rows, predicts all test rows
// and computes the fold's IC summary. An empty train or test set fails with
// InsufficientDataError; the caller records the fold as skipped.
func (e *Evaluator) EvaluateFold(p *panel.Panel, fold split.Fold) (*FoldResult, error) {
	// Unlabeled rows (forward window not yet closed) carry nothing to fit on.
	trainRows := labeledRows(p.Slice(fold.TrainDates))
	if len(trainRows) == 0 {
		return nil, errs.NewInsufficientData(fold.Index, "no labeled train rows")
	}
	testRows := p.Slice(fold.TestDates)
	if len(testRows) == 0 {
		return nil, errs.NewInsufficientData(fold.Index, "empty test set after cross-section filtering")
	}

	var weights []float64
	if e.modelCfg.SampleWeightMode == "date_equal" {
		weights = model.DateEqualWeights(trainRows)
	}

	trained, err := e.est.Fit(trainRows, weights)
	if err != nil {
		return nil, err
	}
	scores := trained.Predict(testRows)

	preds := make([]Prediction, len(testRows))
	for i, row := range testRows {
		preds[i] = Prediction{Date: row.Date, Symbol: row.Symbol, Score: scores[i], FwdReturn: row.Label}
	}

	result := &FoldResult{
		Fold:         fold,
		Predictions:  preds,
		TrainedModel: trained,
		Importances:  trained.Importances(),
		PermutationP: math.NaN(),
	}

	result.DailyIC = dailyICSeries(preds, fold.TestDates, e.cfg.MinCrossSection)
	result.DailySummary = stats.Summarize(icValues(result.DailyIC))
	if result.DailySummary.N == 0 {
		return nil, errs.NewInsufficientData(fold.Index, "no scorable test dates")
	}
	result.CVIC = pooledIC(preds)
	result.Direction = e.resolveDirection(result.DailySummary.Mean, fold.Index)

	if e.cfg.PermutationTrials > 0 {
		result.PermutationP = e.permutationPValue(preds, fold, result.DailySummary.Mean)
	}

	log.Debug().Int("fold", fold.Index).
		Float64("daily_ic", result.DailySummary.Mean).
		Float64("cv_ic", result.CVIC).
		Float64("direction", result.Direction).
		Msg("fold evaluated")
	return result, nil
}

// ResolveDirection applies the direction rule to an aggregate daily IC.
// Fixed mode returns the configured direction unconditionally; auto mode
// flips to -1 only when the IC is negative and clears the minimum
// absolute-IC threshold. The live snapshot applies the same rule to its
// labeled history.
func ResolveDirection(cfg config.EvalConfig, meanDailyIC float64) float64 {
	if cfg.SignalDirectionMode != config.DirectionAuto {
		return cfg.SignalDirection
	}
	if !math.IsNaN(meanDailyIC) && meanDailyIC < 0 && math.Abs(meanDailyIC) >= cfg.MinAbsICToFlip {
		return -1
	}
	return 1
}

// MeanDailyIC is the aggregate mean of the per-date ICs over preds.
func MeanDailyIC(preds []Prediction, dates []time.Time, minCrossSection int) float64 {
	return stats.Summarize(icValues(dailyICSeries(preds, dates, minCrossSection))).Mean
}

func (e *Evaluator) resolveDirection(meanDailyIC float64, foldIndex int) float64 {
	d := ResolveDirection(e.cfg, meanDailyIC)
	if d == -1 && e.cfg.SignalDirectionMode == config.DirectionAuto {
		log.Info().Int("fold", foldIndex).Float64("daily_ic", meanDailyIC).
			Msg("auto direction flipped to short signal")
	}
	return d
}

// dailyICSeries computes the per-date Spearman IC. Rows without a realized
// label are dropped first; dates then below the minimum cross-section, or
// with fewer than two distinct labels, stay in the series as NaN and are
// excluded from the aggregate.
func dailyICSeries(preds []Prediction, testDates []time.Time, minCrossSection int) []DatedIC {
	byDate := groupByDate(preds)
	series := make([]DatedIC, 0, len(testDates))
	for _, d := range testDates {
		group := labeledPreds(byDate[d])
		ic := math.NaN()
		if len(group) >= minCrossSection && distinctLabels(group) >= 2 {
			x := make([]float64, len(group))
			y := make([]float64, len(group))
			for i, pr := range group {
				x[i] = pr.Score
				y[i] = pr.FwdReturn
			}
			ic = stats.Spearman(x, y)
		}
		series = append(series, DatedIC{Date: d, IC: ic})
	}
	return series
}

// pooledIC is the Spearman correlation over the whole fold at once,
// unlabeled rows excluded.
func pooledIC(preds []Prediction) float64 {
	labeled := labeledPreds(preds)
	x := make([]float64, len(labeled))
	y := make([]float64, len(labeled))
	for i, pr := range labeled {
		x[i] = pr.Score
		y[i] = pr.FwdReturn
	}
	return stats.Spearman(x, y)
}

// permutationPValue shuffles realized returns independently within each
// date and reports the fraction of shuffles whose |mean daily IC| meets or
// exceeds the observed value.
func (e *Evaluator) permutationPValue(preds []Prediction, fold split.Fold, observedMean float64) float64 {
	observed := math.Abs(observedMean)
	if math.IsNaN(observed) {
		return math.NaN()
	}

	rng := rand.New(rand.NewSource(e.modelCfg.Seed + int64(fold.Index)))
	shuffled := make([]Prediction, len(preds))
	copy(shuffled, preds)
	byDate := groupIndexByDate(preds)

	hits := 0
	for trial := 0; trial < e.cfg.PermutationTrials; trial++ {
		for _, idxs := range byDate {
			rng.Shuffle(len(idxs), func(a, b int) {
				shuffled[idxs[a]].FwdReturn, shuffled[idxs[b]].FwdReturn =
					shuffled[idxs[b]].FwdReturn, shuffled[idxs[a]].FwdReturn
			})
		}
		permuted := stats.Summarize(icValues(dailyICSeries(shuffled, fold.TestDates, e.cfg.MinCrossSection))).Mean
		if !math.IsNaN(permuted) && math.Abs(permuted) >= observed {
			hits++
		}
	}
	return float64(hits) / float64(e.cfg.PermutationTrials)
}

func groupByDate(preds []Prediction) map[time.Time][]Prediction {
	out := make(map[time.Time][]Prediction)
	for _, p := range preds {
		out[p.Date] = append(out[p.Date], p)
	}
	return out
}

func groupIndexByDate(preds []Prediction) map[time.Time][]int {
	out := make(map[time.Time][]int)
	for i, p := range preds {
		out[p.Date] = append(out[p.Date], i)
	}
	return out
}

func distinctLabels(group []Prediction) int {
	seen := make(map[float64]struct{}, len(group))
	for _, p := range group {
		if !math.IsNaN(p.FwdReturn) {
			seen[p.FwdReturn] = struct{}{}
		}
	}
	return len(seen)
}

func labeledPreds(group []Prediction) []Prediction {
	out := make([]Prediction, 0, len(group))
	for _, p := range group {
		if !math.IsNaN(p.FwdReturn) {
			out = append(out, p)
		}
	}
	return out
}

func labeledRows(rows []panel.Row) []panel.Row {
	out := make([]panel.Row, 0, len(rows))
	for _, r := range rows {
		if !math.IsNaN(r.Label) {
			out = append(out, r)
		}
	}
	return out
}

func icValues(series []DatedIC) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.IC
	}
	return out
}
