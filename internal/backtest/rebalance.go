package backtest

import (
	"fmt"
	"sort"
	"time"
)

// RebalanceDates picks the rebalance calendar from the available signal
// dates: every date for "D", the last trading date of each ISO week for
// "W", of each calendar month for "M".
func RebalanceDates(dates []time.Time, freq string) []time.Time {
	if len(dates) == 0 {
		return nil
	}
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	if freq == "" || freq == "D" {
		return sorted
	}

	last := make(map[string]time.Time)
	for _, d := range sorted {
		last[periodKey(d, freq)] = d
	}
	out := make([]time.Time, 0, len(last))
	for _, d := range last {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func periodKey(d time.Time, freq string) string {
	switch freq {
	case "W":
		year, week := d.ISOWeek()
		return fmt.Sprintf("W%d-%02d", year, week)
	case "M":
		return d.Format("M2006-01")
	default:
		return d.Format("2006-01-02")
	}
}

// MedianGap estimates the typical number of trading days between
// consecutive rebalance dates, used to sanity-check label horizons.
func MedianGap(dateIndex func(time.Time) (int, bool), rebalanceDates []time.Time) float64 {
	var gaps []int
	for i := 0; i+1 < len(rebalanceDates); i++ {
		a, okA := dateIndex(rebalanceDates[i])
		b, okB := dateIndex(rebalanceDates[i+1])
		if okA && okB {
			gaps = append(gaps, b-a)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	sort.Ints(gaps)
	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return float64(gaps[mid])
	}
	return float64(gaps[mid-1]+gaps[mid]) / 2
}
