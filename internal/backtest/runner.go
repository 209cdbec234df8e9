// Package backtest drives portfolio construction and the cost model across
// the rebalancing calendar, producing a return series and position ledger.
package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/cost"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/panel"
	"github.com/xsquant/crosseval/internal/portfolio"
	"github.com/xsquant/crosseval/internal/signal"
)

// LedgerEntry records one completed holding period. Entries are append-only
// and produced strictly in date order.
type LedgerEntry struct {
	RebalanceDate time.Time           `json:"rebalance_date"`
	EntryDate     time.Time           `json:"entry_date"`
	ExitDate      time.Time           `json:"exit_date"`
	Holdings      []portfolio.Holding `json:"holdings"`
	Turnover      float64             `json:"turnover"`
	Gross         float64             `json:"gross_return"`
	Cost          float64             `json:"cost"`
	Net           float64             `json:"net_return"`
	Substitutions []string            `json:"substitutions,omitempty"`
}

// Result is the full backtest output.
type Result struct {
	Entries []LedgerEntry `json:"entries"`
	Stats   Stats         `json:"stats"`
}

// Runner executes the rebalance loop for a fixed configuration.
type Runner struct {
	cfg         config.BacktestConfig
	constructor *portfolio.Constructor
	costModel   cost.Model
	exit        exitPolicy
}

// NewRunner builds a Runner from the backtest configuration.
func NewRunner(cfg config.BacktestConfig) *Runner {
	var cm cost.Model = cost.Free{}
	if cfg.CostBps > 0 {
		cm = cost.Bps{Rate: cfg.CostBps, RoundTrip: cfg.RoundTrip}
	}
	return &Runner{
		cfg:         cfg,
		constructor: &portfolio.Constructor{TopK: cfg.TopK, LongOnly: cfg.LongOnly},
		costModel:   cm,
		exit:        exitPolicy{price: cfg.ExitPricePolicy, fallback: cfg.ExitFallbackPolicy},
	}
}

// Run walks the rebalance calendar. At each rebalance date it constructs
// the buffered target set, realizes the prior period's return under the
// exit-price policy, prices turnover against drifted previous weights, and
// appends one ledger entry.
func (r *Runner) Run(p *panel.Panel, preds []signal.Prediction, direction float64) (*Result, error) {
	byDate := make(map[time.Time][]signal.Prediction)
	for _, pr := range preds {
		byDate[pr.Date] = append(byDate[pr.Date], pr)
	}
	predDates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		predDates = append(predDates, d)
	}
	sort.Slice(predDates, func(i, j int) bool { return predDates[i].Before(predDates[j]) })

	rebDates := RebalanceDates(predDates, r.cfg.RebalanceFrequency)

	var (
		entries     []LedgerEntry
		held        map[string]bool
		prevWeights map[string]float64
		prevExitIdx = -1
		prevEntryPx map[string]float64
		prevLongSet []string
	)

	for i, reb := range rebDates {
		rebIdx, ok := p.DateIndex(reb)
		if !ok {
			continue
		}

		entryIdx := rebIdx + r.cfg.ShiftDays
		var exitIdx int
		switch r.cfg.ExitMode {
		case config.ExitModeLabelHorizon:
			exitIdx = entryIdx + r.cfg.ExitHorizonDays
			if prevExitIdx >= 0 && entryIdx < prevExitIdx {
				return nil, errs.NewConfig("backtest.exit_mode",
					"label_horizon periods overlap the rebalance calendar; lower the frequency or use exit_mode=rebalance")
			}
		default:
			if i >= len(rebDates)-1 {
				// final period has no close; the book stops here
				continue
			}
			nextIdx, okNext := p.DateIndex(rebDates[i+1])
			if !okNext {
				continue
			}
			exitIdx = nextIdx + r.cfg.ShiftDays
		}
		if entryIdx >= p.NumDates() || exitIdx >= p.NumDates() || entryIdx >= exitIdx {
			continue
		}

		day := byDate[reb]
		if len(day) == 0 {
			continue
		}

		// Buffer hysteresis only shapes the long book; long-short targets
		// are rebuilt from scratch each rebalance.
		var target portfolio.Selection
		if r.cfg.LongOnly {
			target = r.constructor.SelectBuffered(reb, day, direction, held, r.cfg.BufferEntry, r.cfg.BufferExit)
		} else {
			target = r.constructor.Select(reb, day, direction)
		}

		realized, gross, substituted, periodExitIdx, err := r.realizePeriod(p, target, entryIdx, exitIdx)
		if err != nil {
			return nil, err
		}
		if len(realized) == 0 {
			log.Warn().Str("rebalance", reb.Format(panel.DateFormat)).
				Msg("no holding could be priced, period skipped")
			continue
		}

		curWeights := make(map[string]float64, len(realized))
		curLong := make([]string, 0, len(realized))
		curEntryPx := make(map[string]float64, len(realized))
		for _, h := range realized {
			curWeights[h.Symbol] += h.Weight
			if h.Weight > 0 {
				curLong = append(curLong, h.Symbol)
			}
			px, _ := p.PriceAt(entryIdx, h.Symbol)
			curEntryPx[h.Symbol] = px
		}

		isInitial := prevWeights == nil
		turnover := 1.0
		if !isInitial {
			turnover = r.turnover(p, prevWeights, prevEntryPx, curWeights, prevLongSet, curLong, entryIdx)
		}
		c := r.costModel.Cost(turnover, isInitial)

		entries = append(entries, LedgerEntry{
			RebalanceDate: reb,
			EntryDate:     p.DateAt(entryIdx),
			ExitDate:      p.DateAt(periodExitIdx),
			Holdings:      realized,
			Turnover:      turnover,
			Gross:         gross,
			Cost:          c,
			Net:           gross - c,
			Substitutions: substituted,
		})

		held = make(map[string]bool, len(curLong))
		for _, s := range curLong {
			held[s] = true
		}
		prevWeights = curWeights
		prevEntryPx = curEntryPx
		prevExitIdx = periodExitIdx
		prevLongSet = curLong
	}

	if len(entries) == 0 {
		return nil, errs.NewInsufficientData(0, "no backtest period could be completed")
	}

	return &Result{Entries: entries, Stats: computeStats(entries, p, r.cfg.TradingDaysPerYear)}, nil
}

// realizePeriod prices the target selection over [entryIdx, exitIdx].
// Symbols with no entry price never enter the book; exit prices follow the
// exit policy and may extend the period under the delay policy. Leg weights
// are renormalized over the symbols that survive.
func (r *Runner) realizePeriod(p *panel.Panel, target portfolio.Selection, entryIdx, exitIdx int) (
	[]portfolio.Holding, float64, []string, int, error) {

	periodExitIdx := exitIdx
	var substituted []string

	type fill struct {
		holding  portfolio.Holding
		entryPx  float64
		exitPx   float64
	}
	var longFills, shortFills []fill

	resolveLeg := func(leg []portfolio.Holding, out *[]fill) error {
		for _, h := range leg {
			entryPx, ok := p.PriceAt(entryIdx, h.Symbol)
			if !ok {
				log.Debug().Str("symbol", h.Symbol).
					Str("entry", p.DateAt(entryIdx).Format(panel.DateFormat)).
					Msg("no entry price, symbol not entered")
				continue
			}
			re, err := r.exit.resolve(p, h.Symbol, exitIdx)
			if err != nil {
				return err
			}
			if re.substituted {
				substituted = append(substituted, h.Symbol)
			}
			if re.idx > periodExitIdx {
				periodExitIdx = re.idx
			}
			*out = append(*out, fill{holding: h, entryPx: entryPx, exitPx: re.price})
		}
		return nil
	}
	if err := resolveLeg(target.Long, &longFills); err != nil {
		return nil, 0, nil, 0, err
	}
	if err := resolveLeg(target.Short, &shortFills); err != nil {
		return nil, 0, nil, 0, err
	}
	if len(longFills) == 0 {
		return nil, 0, nil, periodExitIdx, nil
	}

	var realized []portfolio.Holding
	var gross float64
	lw := 1.0 / float64(len(longFills))
	for _, f := range longFills {
		ret := f.exitPx/f.entryPx - 1
		gross += lw * ret
		h := f.holding
		h.Weight = lw
		realized = append(realized, h)
	}
	if len(shortFills) > 0 {
		sw := -1.0 / float64(len(shortFills))
		for _, f := range shortFills {
			ret := f.exitPx/f.entryPx - 1
			gross += sw * ret
			h := f.holding
			h.Weight = sw
			realized = append(realized, h)
		}
	}
	return realized, gross, substituted, periodExitIdx, nil
}

// turnover prices the rebalance against the previous book after drifting
// its weights by realized price moves, falling back to set overlap when no
// drift prices are available.
func (r *Runner) turnover(p *panel.Panel, prevWeights, prevEntryPx map[string]float64,
	curWeights map[string]float64, prevLong, curLong []string, entryIdx int) float64 {

	if !r.cfg.LongOnly {
		// long-short books net both legs into one weight vector; drift
		// renormalization does not apply to a zero-net book
		return cost.Turnover(prevWeights, curWeights)
	}

	drifted := cost.DriftWeights(prevWeights, func(symbol string) (float64, bool) {
		prevPx, ok := prevEntryPx[symbol]
		if !ok || !(prevPx > 0) {
			return 0, false
		}
		curPx, okCur := p.PriceAt(entryIdx, symbol)
		if !okCur {
			return 0, false
		}
		return curPx / prevPx, true
	})
	if drifted != nil {
		return cost.Turnover(drifted, curWeights)
	}
	t := cost.OverlapTurnover(prevLong, curLong)
	if math.IsNaN(t) {
		return 1
	}
	return t
}
