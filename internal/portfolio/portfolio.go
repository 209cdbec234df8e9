// Package portfolio converts per-date prediction records into quantile
// buckets and top-K (optionally long-short) selections.
//
// Determinism: candidates are ordered by direction-adjusted score
// descending with ties broken by symbol ascending. Given identical scores
// and direction the selected set and weight vector are bit-for-bit
// reproducible.
package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/xsquant/crosseval/internal/signal"
)

// Holding is one weighted position.
type Holding struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
	Rank   int     `json:"rank"` // 1-based rank at selection time
	Score  float64 `json:"score"`
}

// Selection is the output of one constructor invocation at a single date.
// Long weights sum to +1; in long-short mode short weights sum to -1 for a
// net exposure of zero.
type Selection struct {
	Date  time.Time `json:"date"`
	Long  []Holding `json:"long"`
	Short []Holding `json:"short,omitempty"`
}

// Weights returns the netted weight vector over both legs.
func (s Selection) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.Long)+len(s.Short))
	for _, h := range s.Long {
		out[h.Symbol] += h.Weight
	}
	for _, h := range s.Short {
		out[h.Symbol] += h.Weight
	}
	return out
}

// Symbols returns the long-leg symbols in rank order.
func (s Selection) Symbols() []string {
	out := make([]string, len(s.Long))
	for i, h := range s.Long {
		out[i] = h.Symbol
	}
	return out
}

// Constructor builds selections from predictions under a fixed config.
type Constructor struct {
	TopK       int
	NQuantiles int
	LongOnly   bool
}

// Rank orders one date's predictions by direction-adjusted score descending,
// symbol ascending on ties.
func Rank(preds []signal.Prediction, direction float64) []signal.Prediction {
	ranked := append([]signal.Prediction(nil), preds...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := direction*ranked[i].Score, direction*ranked[j].Score
		if si != sj {
			return si > sj
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	return ranked
}

// Select picks the top-K long set (and bottom-K short set in long-short
// mode) with equal weights per leg. Fewer candidates than K shrinks the
// legs rather than failing.
func (c *Constructor) Select(date time.Time, preds []signal.Prediction, direction float64) Selection {
	ranked := Rank(preds, direction)
	k := c.TopK
	if k > len(ranked) {
		k = len(ranked)
	}
	sel := Selection{Date: date}
	if k == 0 {
		return sel
	}

	longWeight := 1.0 / float64(k)
	for i := 0; i < k; i++ {
		sel.Long = append(sel.Long, Holding{
			Symbol: ranked[i].Symbol, Weight: longWeight, Rank: i + 1, Score: ranked[i].Score,
		})
	}

	if !c.LongOnly {
		shortK := k
		if shortK > len(ranked)-k {
			shortK = len(ranked) - k
		}
		shortWeight := -1.0 / float64(shortK)
		for i := 0; i < shortK; i++ {
			idx := len(ranked) - 1 - i
			sel.Short = append(sel.Short, Holding{
				Symbol: ranked[idx].Symbol, Weight: shortWeight, Rank: len(ranked) - i, Score: ranked[idx].Score,
			})
		}
	}
	return sel
}

// SelectBuffered applies entry/exit hysteresis around the top-K band. A
// held symbol survives while ranked within top_k+bufferExit; a new symbol
// enters only when ranked within top_k-bufferEntry. Retained incumbents
// claim slots first, then best-ranked qualifying entrants fill the rest.
func (c *Constructor) SelectBuffered(date time.Time, preds []signal.Prediction, direction float64,
	held map[string]bool, bufferEntry, bufferExit int) Selection {

	if len(held) == 0 {
		return c.Select(date, preds, direction)
	}

	ranked := Rank(preds, direction)
	k := c.TopK
	if k > len(ranked) {
		k = len(ranked)
	}
	sel := Selection{Date: date}
	if k == 0 {
		return sel
	}

	exitBand := c.TopK + bufferExit
	entryBand := c.TopK - bufferEntry

	type candidate struct {
		pred signal.Prediction
		rank int
	}
	var retained, entrants []candidate
	for i, p := range ranked {
		rank := i + 1
		if held[p.Symbol] {
			if rank <= exitBand {
				retained = append(retained, candidate{p, rank})
			}
		} else if rank <= entryBand {
			entrants = append(entrants, candidate{p, rank})
		}
	}

	chosen := retained
	if len(chosen) > k {
		chosen = chosen[:k]
	}
	for _, e := range entrants {
		if len(chosen) >= k {
			break
		}
		chosen = append(chosen, e)
	}
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].rank < chosen[j].rank })

	weight := 1.0 / float64(len(chosen))
	for _, cand := range chosen {
		sel.Long = append(sel.Long, Holding{
			Symbol: cand.pred.Symbol, Weight: weight, Rank: cand.rank, Score: cand.pred.Score,
		})
	}
	return sel
}

// QuantileOf maps each symbol of one date's cross-section to a bucket in
// [0, n). Bucketing ranks by adjusted score ascending and slices the ranks
// into n equal-width bins, so bucket n-1 holds the strongest signals. A
// cross-section smaller than n yields no assignment.
func QuantileOf(preds []signal.Prediction, direction float64, n int) map[string]int {
	if len(preds) < n || n < 2 {
		return nil
	}
	// ascending adjusted score; ties by symbol for stable buckets
	ranked := append([]signal.Prediction(nil), preds...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := direction*ranked[i].Score, direction*ranked[j].Score
		if si != sj {
			return si < sj
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	out := make(map[string]int, len(ranked))
	for i, p := range ranked {
		out[p.Symbol] = i * n / len(ranked)
	}
	return out
}

// QuantileReturns averages realized forward returns per (date, bucket).
// The result maps each test date to n mean returns; dates with too few
// symbols are absent.
func QuantileReturns(preds []signal.Prediction, direction float64, n int) map[time.Time][]float64 {
	byDate := make(map[time.Time][]signal.Prediction)
	for _, p := range preds {
		byDate[p.Date] = append(byDate[p.Date], p)
	}
	out := make(map[time.Time][]float64)
	for date, group := range byDate {
		buckets := QuantileOf(group, direction, n)
		if buckets == nil {
			continue
		}
		sums := make([]float64, n)
		counts := make([]int, n)
		for _, p := range group {
			b := buckets[p.Symbol]
			sums[b] += p.FwdReturn
			counts[b]++
		}
		means := make([]float64, n)
		for i := range means {
			if counts[i] == 0 {
				means[i] = math.NaN()
				continue
			}
			means[i] = sums[i] / float64(counts[i])
		}
		out[date] = means
	}
	return out
}
