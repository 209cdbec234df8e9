package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsquant/crosseval/internal/signal"
)

var testDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func preds(scores map[string]float64) []signal.Prediction {
	out := make([]signal.Prediction, 0, len(scores))
	for sym, s := range scores {
		out = append(out, signal.Prediction{Date: testDate, Symbol: sym, Score: s})
	}
	return out
}

func TestRankTieBreakBySymbol(t *testing.T) {
	p := preds(map[string]float64{"ZED": 1.0, "ABC": 1.0, "MID": 2.0})
	ranked := Rank(p, 1)
	assert.Equal(t, "MID", ranked[0].Symbol)
	assert.Equal(t, "ABC", ranked[1].Symbol, "ties resolve by symbol ascending")
	assert.Equal(t, "ZED", ranked[2].Symbol)
}

func TestRankDirectionFlip(t *testing.T) {
	p := preds(map[string]float64{"A": 3, "B": 1, "C": 2})
	ranked := Rank(p, -1)
	assert.Equal(t, "B", ranked[0].Symbol, "direction -1 inverts the ordering")
	assert.Equal(t, "A", ranked[2].Symbol)
}

func TestSelectLongOnly(t *testing.T) {
	c := &Constructor{TopK: 2, LongOnly: true}
	sel := c.Select(testDate, preds(map[string]float64{"A": 4, "B": 3, "C": 2, "D": 1}), 1)

	require.Len(t, sel.Long, 2)
	assert.Empty(t, sel.Short)
	assert.Equal(t, []string{"A", "B"}, sel.Symbols())

	var sum float64
	for _, h := range sel.Long {
		assert.InDelta(t, 0.5, h.Weight, 1e-12)
		sum += h.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestSelectLongShort(t *testing.T) {
	c := &Constructor{TopK: 2, LongOnly: false}
	sel := c.Select(testDate, preds(map[string]float64{
		"A": 5, "B": 4, "C": 3, "D": 2, "E": 1,
	}), 1)

	require.Len(t, sel.Long, 2)
	require.Len(t, sel.Short, 2)
	assert.Equal(t, []string{"A", "B"}, sel.Symbols())

	var short float64
	for _, h := range sel.Short {
		assert.Negative(t, h.Weight)
		short += h.Weight
	}
	assert.InDelta(t, -1.0, short, 1e-12)

	// weakest symbols fill the short leg
	shorts := map[string]bool{sel.Short[0].Symbol: true, sel.Short[1].Symbol: true}
	assert.True(t, shorts["D"] && shorts["E"])

	var net float64
	for _, w := range sel.Weights() {
		net += w
	}
	assert.InDelta(t, 0.0, net, 1e-12)
}

func TestSelectFewerCandidatesThanK(t *testing.T) {
	c := &Constructor{TopK: 10, LongOnly: true}
	sel := c.Select(testDate, preds(map[string]float64{"A": 2, "B": 1}), 1)
	require.Len(t, sel.Long, 2)
	assert.InDelta(t, 0.5, sel.Long[0].Weight, 1e-12)
}

func TestSelectDeterministic(t *testing.T) {
	c := &Constructor{TopK: 3, LongOnly: true}
	in := map[string]float64{"A": 1, "B": 1, "C": 1, "D": 1, "E": 1}
	first := c.Select(testDate, preds(in), 1)
	for i := 0; i < 20; i++ {
		again := c.Select(testDate, preds(in), 1)
		assert.Equal(t, first, again)
	}
}

func TestSelectBufferedRetainsWithinExitBand(t *testing.T) {
	c := &Constructor{TopK: 2, LongOnly: true}
	held := map[string]bool{"A": true, "B": true}

	// B slips to rank 3, still inside top_k+buffer_exit=3
	day := preds(map[string]float64{"A": 5, "C": 4, "B": 3, "D": 2})
	sel := c.SelectBuffered(testDate, day, 1, held, 0, 1)

	syms := sel.Symbols()
	assert.Contains(t, syms, "A")
	assert.Contains(t, syms, "B", "incumbent inside the exit band stays held")
	assert.NotContains(t, syms, "C", "incumbents claim slots before entrants")
}

func TestSelectBufferedEntryThreshold(t *testing.T) {
	c := &Constructor{TopK: 3, LongOnly: true}
	held := map[string]bool{"A": true}

	// entry band is top_k-buffer_entry=2: only rank 1-2 outsiders may enter
	day := preds(map[string]float64{"N1": 10, "A": 8, "N2": 6, "N3": 4})
	sel := c.SelectBuffered(testDate, day, 1, held, 1, 0)

	syms := sel.Symbols()
	assert.Contains(t, syms, "A")
	assert.Contains(t, syms, "N1")
	assert.NotContains(t, syms, "N3", "rank 4 is outside the entry band")
	// N2 at rank 3 misses the entry band; book holds 2 names at 1/2 each
	require.Len(t, sel.Long, 2)
	assert.InDelta(t, 0.5, sel.Long[0].Weight, 1e-12)
}

func TestSelectBufferedEmptyHeldFallsBack(t *testing.T) {
	c := &Constructor{TopK: 2, LongOnly: true}
	day := preds(map[string]float64{"A": 3, "B": 2, "C": 1})
	buffered := c.SelectBuffered(testDate, day, 1, nil, 1, 1)
	plain := c.Select(testDate, day, 1)
	assert.Equal(t, plain, buffered)
}

func TestQuantileOf(t *testing.T) {
	scores := map[string]float64{}
	syms := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	for i, s := range syms {
		scores[s] = float64(i)
	}
	buckets := QuantileOf(preds(scores), 1, 5)
	require.NotNil(t, buckets)

	assert.Equal(t, 0, buckets["A"], "weakest score lands in bucket 0")
	assert.Equal(t, 4, buckets["J"], "strongest score lands in the top bucket")
	// two symbols per bucket
	counts := make([]int, 5)
	for _, b := range buckets {
		counts[b]++
	}
	assert.Equal(t, []int{2, 2, 2, 2, 2}, counts)
}

func TestQuantileOfTooFewSymbols(t *testing.T) {
	assert.Nil(t, QuantileOf(preds(map[string]float64{"A": 1, "B": 2}), 1, 5))
}

func TestQuantileReturnsMonotoneSignal(t *testing.T) {
	var in []signal.Prediction
	for i := 0; i < 10; i++ {
		in = append(in, signal.Prediction{
			Date: testDate, Symbol: string(rune('A' + i)),
			Score: float64(i), FwdReturn: float64(i) * 0.01,
		})
	}
	qr := QuantileReturns(in, 1, 5)
	require.Contains(t, qr, testDate)
	means := qr[testDate]
	require.Len(t, means, 5)
	for i := 1; i < len(means); i++ {
		require.False(t, math.IsNaN(means[i]))
		assert.Greater(t, means[i], means[i-1], "a perfectly monotone signal sorts bucket returns")
	}
}
