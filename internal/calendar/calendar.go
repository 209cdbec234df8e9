// Package calendar abstracts the optional trading-calendar collaborator.
// When no calendar is wired, as-of resolution degrades to calendar days and
// the caller logs a warning.
package calendar

import "time"

// TradingCalendar resolves trading sessions around a reference date.
type TradingCalendar interface {
	// LastTradingDay returns the most recent trading day at or before asOf.
	// includeToday controls whether asOf itself may qualify.
	LastTradingDay(asOf time.Time, includeToday bool) (time.Time, bool)

	// NextTradingDay returns the first trading day strictly after d.
	NextTradingDay(d time.Time) (time.Time, bool)
}

// Weekday is a Monday-Friday calendar with no holiday knowledge. It is the
// built-in fallback when no exchange calendar is configured.
type Weekday struct{}

func (Weekday) LastTradingDay(asOf time.Time, includeToday bool) (time.Time, bool) {
	d := truncate(asOf)
	if !includeToday {
		d = d.AddDate(0, 0, -1)
	}
	for i := 0; i < 7; i++ {
		if isWeekday(d) {
			return d, true
		}
		d = d.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}

func (Weekday) NextTradingDay(d time.Time) (time.Time, bool) {
	next := truncate(d).AddDate(0, 0, 1)
	for i := 0; i < 7; i++ {
		if isWeekday(next) {
			return next, true
		}
		next = next.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

func isWeekday(d time.Time) bool {
	return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
