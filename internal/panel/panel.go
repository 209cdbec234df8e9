// Package panel holds the validated cross-sectional table the engine
// evaluates: one row per (date, symbol) with features, a forward-return
// label, an optional sample weight and a reference price.
//
// A Panel is immutable after construction and safe for concurrent reads.
package panel

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DateFormat is the canonical day format used across the engine.
const DateFormat = "2006-01-02"

// Row is a single (date, symbol) observation.
type Row struct {
	Date     time.Time
	Symbol   string
	Features []float64
	Label    float64
	Weight   float64
	Price    float64
	Tradable bool
}

// Panel is an immutable, validated table of rows grouped by date.
type Panel struct {
	featureNames []string
	rows         []Row
	dates        []time.Time
	dateIdx      map[time.Time]int
	byDate       map[time.Time][]Row
	prices       map[string][]float64 // symbol -> price per date index, NaN when absent
	tradable     map[string][]bool
}

// New validates rows and builds a Panel. Duplicate (date, symbol) pairs are
// rejected. Dates are normalized to UTC midnight and deduplicated into a
// sorted axis shared by every lookup.
func New(featureNames []string, rows []Row) (*Panel, error) {
	seen := make(map[string]struct{}, len(rows))
	dateSet := make(map[time.Time]struct{})
	norm := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Symbol == "" {
			return nil, fmt.Errorf("panel row at %s has empty symbol", r.Date.Format(DateFormat))
		}
		if len(r.Features) != len(featureNames) {
			return nil, fmt.Errorf("panel row (%s, %s) has %d features, want %d",
				r.Date.Format(DateFormat), r.Symbol, len(r.Features), len(featureNames))
		}
		r.Date = Normalize(r.Date)
		key := r.Date.Format(DateFormat) + "|" + r.Symbol
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate panel row (%s, %s)", r.Date.Format(DateFormat), r.Symbol)
		}
		seen[key] = struct{}{}
		if r.Weight == 0 {
			r.Weight = 1
		}
		dateSet[r.Date] = struct{}{}
		norm = append(norm, r)
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	dateIdx := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		dateIdx[d] = i
	}

	byDate := make(map[time.Time][]Row, len(dates))
	prices := make(map[string][]float64)
	tradable := make(map[string][]bool)
	for _, r := range norm {
		byDate[r.Date] = append(byDate[r.Date], r)
		if _, ok := prices[r.Symbol]; !ok {
			col := make([]float64, len(dates))
			for i := range col {
				col[i] = math.NaN()
			}
			prices[r.Symbol] = col
			tradable[r.Symbol] = make([]bool, len(dates))
		}
		idx := dateIdx[r.Date]
		prices[r.Symbol][idx] = r.Price
		tradable[r.Symbol][idx] = r.Tradable
	}

	return &Panel{
		featureNames: append([]string(nil), featureNames...),
		rows:         norm,
		dates:        dates,
		dateIdx:      dateIdx,
		byDate:       byDate,
		prices:       prices,
		tradable:     tradable,
	}, nil
}

// Normalize truncates a timestamp to UTC midnight.
func Normalize(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FeatureNames returns the feature column names in panel order.
func (p *Panel) FeatureNames() []string {
	return append([]string(nil), p.featureNames...)
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.rows) }

// Rows returns all rows in insertion order.
func (p *Panel) Rows() []Row { return p.rows }

// Dates returns the sorted distinct date axis.
func (p *Panel) Dates() []time.Time {
	return append([]time.Time(nil), p.dates...)
}

// NumDates returns the length of the date axis.
func (p *Panel) NumDates() int { return len(p.dates) }

// DateAt returns the date at position i on the axis.
func (p *Panel) DateAt(i int) time.Time { return p.dates[i] }

// DateIndex returns the position of d on the date axis.
func (p *Panel) DateIndex(d time.Time) (int, bool) {
	i, ok := p.dateIdx[Normalize(d)]
	return i, ok
}

// AtDate returns the cross-section for a single date, in original row order.
func (p *Panel) AtDate(d time.Time) []Row {
	return p.byDate[Normalize(d)]
}

// Slice returns every row whose date is in the given set, preserving
// chronological then original order.
func (p *Panel) Slice(dates []time.Time) []Row {
	var out []Row
	for _, d := range dates {
		out = append(out, p.byDate[Normalize(d)]...)
	}
	return out
}

// PriceAt returns the price for symbol at date index idx. The second return
// is false when the symbol never appears or has no price that day.
func (p *Panel) PriceAt(idx int, symbol string) (float64, bool) {
	col, ok := p.prices[symbol]
	if !ok || idx < 0 || idx >= len(col) {
		return math.NaN(), false
	}
	v := col[idx]
	if math.IsNaN(v) {
		return v, false
	}
	return v, true
}

// TradableAt reports whether symbol is flagged tradable at date index idx.
func (p *Panel) TradableAt(idx int, symbol string) bool {
	col, ok := p.tradable[symbol]
	if !ok || idx < 0 || idx >= len(col) {
		return false
	}
	return col[idx]
}

// Before returns a point-in-time view containing only rows dated at or
// before asOf. The live snapshot path uses it so nothing downstream can see
// data from the future.
func (p *Panel) Before(asOf time.Time) (*Panel, error) {
	cut := Normalize(asOf)
	var kept []Row
	for _, r := range p.rows {
		if !r.Date.After(cut) {
			kept = append(kept, r)
		}
	}
	return New(p.featureNames, kept)
}
