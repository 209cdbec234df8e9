// Package cost implements the turnover and transaction-cost model applied
// once per rebalance date.
package cost

import (
	"math"
)

// Turnover is the standard one-way convention: half the sum of absolute
// weight changes across the union of symbols held in either period. It is
// zero when holdings and weights are unchanged, at most 1 for long-only
// books and at most 2 for long-short books.
func Turnover(prev, next map[string]float64) float64 {
	var sum float64
	for sym, w := range next {
		sum += math.Abs(w - prev[sym])
	}
	for sym, w := range prev {
		if _, ok := next[sym]; !ok {
			sum += math.Abs(w)
		}
	}
	return 0.5 * sum
}

// DriftWeights advances equal-entry weights by price relatives so turnover
// reflects what the book actually looks like at the next rebalance, not the
// weights it was opened with. Symbols without both prices are dropped.
// Returns nil when no weight survives, in which case the caller falls back
// to set-overlap turnover.
func DriftWeights(prev map[string]float64, priceRel func(symbol string) (float64, bool)) map[string]float64 {
	drifted := make(map[string]float64, len(prev))
	var total float64
	for sym, w := range prev {
		rel, ok := priceRel(sym)
		if !ok || !(rel > 0) {
			continue
		}
		drifted[sym] = w * rel
		total += math.Abs(w * rel)
	}
	if total == 0 {
		return nil
	}
	for sym := range drifted {
		drifted[sym] /= total
	}
	return drifted
}

// OverlapTurnover is the coarse fallback when no drift prices exist:
// 1 - |overlap| / k over the long sets.
func OverlapTurnover(prev, next []string) float64 {
	if len(next) == 0 {
		return math.NaN()
	}
	prevSet := make(map[string]struct{}, len(prev))
	for _, s := range prev {
		prevSet[s] = struct{}{}
	}
	overlap := 0
	for _, s := range next {
		if _, ok := prevSet[s]; ok {
			overlap++
		}
	}
	return 1 - float64(overlap)/float64(len(next))
}

// Model prices a turnover fraction.
type Model interface {
	// Cost returns the return drag for one rebalance. The initial
	// rebalance is charged one side only.
	Cost(turnover float64, isInitial bool) float64
}

// Bps charges a fixed rate per unit turnover, doubled for round trips.
type Bps struct {
	Rate      float64 // basis points
	RoundTrip bool
}

func (m Bps) Cost(turnover float64, isInitial bool) float64 {
	if !(m.Rate > 0) || math.IsNaN(m.Rate) {
		return 0
	}
	perSide := m.Rate / 10000.0
	if isInitial {
		return perSide
	}
	factor := 1.0
	if m.RoundTrip {
		factor = 2.0
	}
	return factor * perSide * turnover
}

// Free is the zero-cost model.
type Free struct{}

func (Free) Cost(float64, bool) float64 { return 0 }
