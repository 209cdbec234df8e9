package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLastTradingDayIncludeToday(t *testing.T) {
	cal := Weekday{}

	// Wednesday June 12 2024 is itself a trading day.
	got, ok := cal.LastTradingDay(date(2024, time.June, 12), true)
	require.True(t, ok)
	assert.Equal(t, date(2024, time.June, 12), got)

	// Excluding today steps back to Tuesday.
	got, ok = cal.LastTradingDay(date(2024, time.June, 12), false)
	require.True(t, ok)
	assert.Equal(t, date(2024, time.June, 11), got)
}

func TestLastTradingDaySkipsWeekend(t *testing.T) {
	cal := Weekday{}

	// Sunday June 9 2024 resolves to Friday June 7 either way.
	for _, includeToday := range []bool{true, false} {
		got, ok := cal.LastTradingDay(date(2024, time.June, 9), includeToday)
		require.True(t, ok)
		assert.Equal(t, date(2024, time.June, 7), got)
	}
}

func TestLastTradingDayTruncatesClock(t *testing.T) {
	cal := Weekday{}
	asOf := time.Date(2024, time.June, 12, 15, 30, 45, 0, time.UTC)
	got, ok := cal.LastTradingDay(asOf, true)
	require.True(t, ok)
	assert.Equal(t, date(2024, time.June, 12), got)
}

func TestNextTradingDay(t *testing.T) {
	cal := Weekday{}

	// Thursday advances to Friday.
	got, ok := cal.NextTradingDay(date(2024, time.June, 13))
	require.True(t, ok)
	assert.Equal(t, date(2024, time.June, 14), got)

	// Friday skips the weekend to Monday.
	got, ok = cal.NextTradingDay(date(2024, time.June, 14))
	require.True(t, ok)
	assert.Equal(t, date(2024, time.June, 17), got)

	// Saturday also lands on Monday.
	got, ok = cal.NextTradingDay(date(2024, time.June, 15))
	require.True(t, ok)
	assert.Equal(t, date(2024, time.June, 17), got)
}
