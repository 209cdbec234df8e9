package backtest

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/errs"
	"github.com/xsquant/crosseval/internal/panel"
)

// exitPolicy resolves per-symbol exit prices under the configured price and
// fallback policies.
type exitPolicy struct {
	price    string // strict | ffill | delay
	fallback string // ffill | none
}

// resolvedExit is one symbol's exit fill.
type resolvedExit struct {
	price       float64
	idx         int
	substituted bool // true when a fallback produced the fill
}

// resolve finds the exit price for symbol at the planned exit index.
//
//   - strict: the price must exist (and the symbol be tradable) exactly at
//     the planned index; a miss is a DataGapError unless fallback=ffill, in
//     which case the last earlier price substitutes with a logged warning.
//   - ffill: the last available price at or before the planned index.
//   - delay: the first available price at or after the planned index,
//     falling back to ffill when the fallback allows it.
func (e exitPolicy) resolve(p *panel.Panel, symbol string, plannedIdx int) (resolvedExit, error) {
	if plannedIdx >= p.NumDates() {
		return resolvedExit{}, &errs.DataGapError{Symbol: symbol, Date: "beyond panel horizon"}
	}

	gap := func() error {
		return &errs.DataGapError{Symbol: symbol, Date: p.DateAt(plannedIdx).Format(panel.DateFormat)}
	}

	switch e.price {
	case config.ExitPriceStrict:
		if px, ok := p.PriceAt(plannedIdx, symbol); ok && p.TradableAt(plannedIdx, symbol) {
			return resolvedExit{price: px, idx: plannedIdx}, nil
		}
		if e.fallback == config.ExitFallbackFFill {
			if re, ok := lastValid(p, symbol, plannedIdx); ok {
				log.Warn().Str("symbol", symbol).
					Str("planned_exit", p.DateAt(plannedIdx).Format(panel.DateFormat)).
					Str("substituted_exit", p.DateAt(re.idx).Format(panel.DateFormat)).
					Msg("exit price missing, substituted last available close")
				re.substituted = true
				return re, nil
			}
		}
		return resolvedExit{}, gap()

	case config.ExitPriceFFill:
		if re, ok := lastValid(p, symbol, plannedIdx); ok {
			re.substituted = re.idx != plannedIdx
			return re, nil
		}
		return resolvedExit{}, gap()

	case config.ExitPriceDelay:
		if re, ok := firstValid(p, symbol, plannedIdx); ok {
			re.substituted = re.idx != plannedIdx
			return re, nil
		}
		if e.fallback == config.ExitFallbackFFill {
			if re, ok := lastValid(p, symbol, plannedIdx); ok {
				re.substituted = true
				return re, nil
			}
		}
		return resolvedExit{}, gap()
	}
	return resolvedExit{}, gap()
}

func lastValid(p *panel.Panel, symbol string, plannedIdx int) (resolvedExit, bool) {
	for i := plannedIdx; i >= 0; i-- {
		if px, ok := p.PriceAt(i, symbol); ok && p.TradableAt(i, symbol) && !math.IsNaN(px) {
			return resolvedExit{price: px, idx: i}, true
		}
	}
	return resolvedExit{}, false
}

func firstValid(p *panel.Panel, symbol string, plannedIdx int) (resolvedExit, bool) {
	for i := plannedIdx; i < p.NumDates(); i++ {
		if px, ok := p.PriceAt(i, symbol); ok && p.TradableAt(i, symbol) && !math.IsNaN(px) {
			return resolvedExit{price: px, idx: i}, true
		}
	}
	return resolvedExit{}, false
}
