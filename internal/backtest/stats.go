package backtest

import (
	"math"

	"github.com/xsquant/crosseval/internal/panel"
)

// Stats summarizes a completed backtest.
type Stats struct {
	Periods      int     `json:"periods"`
	TotalReturn  float64 `json:"total_return"`
	AnnReturn    float64 `json:"ann_return"`
	AnnVol       float64 `json:"ann_vol"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	AvgTurnover  float64 `json:"avg_turnover"`
	AvgCostDrag  float64 `json:"avg_cost_drag"`
}

func computeStats(entries []LedgerEntry, p *panel.Panel, tradingDaysPerYear int) Stats {
	s := Stats{
		Periods:     len(entries),
		AnnReturn:   math.NaN(),
		AnnVol:      math.NaN(),
		Sharpe:      math.NaN(),
		AvgTurnover: math.NaN(),
		AvgCostDrag: math.NaN(),
	}
	if len(entries) == 0 {
		return s
	}

	nav := 1.0
	peak := 1.0
	maxDD := 0.0
	var netSum, turnSum, costSum float64
	nets := make([]float64, len(entries))
	for i, e := range entries {
		nav *= 1 + e.Net
		if nav > peak {
			peak = nav
		}
		if dd := nav/peak - 1; dd < maxDD {
			maxDD = dd
		}
		nets[i] = e.Net
		netSum += e.Net
		turnSum += e.Turnover
		costSum += e.Cost
	}
	s.TotalReturn = nav - 1
	s.MaxDrawdown = maxDD
	s.AvgTurnover = turnSum / float64(len(entries))
	s.AvgCostDrag = costSum / float64(len(entries))

	firstEntry, okFirst := p.DateIndex(entries[0].EntryDate)
	lastExit, okLast := p.DateIndex(entries[len(entries)-1].ExitDate)
	if okFirst && okLast && lastExit > firstEntry {
		totalDays := float64(lastExit - firstEntry)
		s.AnnReturn = math.Pow(1+s.TotalReturn, float64(tradingDaysPerYear)/totalDays) - 1
	}

	// annualize by the average realized holding length
	var holdSum float64
	for _, e := range entries {
		a, okA := p.DateIndex(e.EntryDate)
		b, okB := p.DateIndex(e.ExitDate)
		if okA && okB {
			holdSum += float64(b - a)
		}
	}
	avgHold := holdSum / float64(len(entries))
	if avgHold > 0 && len(nets) > 1 {
		periodsPerYear := float64(tradingDaysPerYear) / avgHold
		mean := netSum / float64(len(nets))
		var ss float64
		for _, v := range nets {
			ss += (v - mean) * (v - mean)
		}
		vol := math.Sqrt(ss / float64(len(nets)-1))
		if vol > 0 {
			s.AnnVol = vol * math.Sqrt(periodsPerYear)
			s.Sharpe = mean / vol * math.Sqrt(periodsPerYear)
		}
	}
	return s
}
