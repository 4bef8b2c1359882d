package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	base := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysBetween(base, base.Add(20*time.Minute), time.UTC))
	assert.Equal(t, 1, DaysBetween(base, base.Add(time.Hour), time.UTC))
	assert.Equal(t, -1, DaysBetween(base.Add(time.Hour), base, time.UTC))
	assert.Equal(t, 3, DaysBetween(base, base.AddDate(0, 0, 3), time.UTC))
}

func TestDaysBetween_RespectsLocation(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*60*60)
	// 20:00 UTC and 21:00 UTC are the same UTC day but different days at UTC+5.
	a := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	b := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysBetween(a, b, time.UTC))
	assert.Equal(t, 1, DaysBetween(a, b, almaty))
}

func TestStartOfWeek(t *testing.T) {
	sunday := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	wednesday := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, monday, StartOfWeek(sunday, nil))
	assert.Equal(t, monday, StartOfWeek(wednesday, nil))
	assert.Equal(t, monday, StartOfWeek(monday, nil))
}

func TestStartOfMonth(t *testing.T) {
	got := StartOfMonth(time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC), nil)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseAndFormatDate(t *testing.T) {
	d, err := ParseDate("2026-03-10", nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", FormatDate(d, nil))

	_, err = ParseDate("10/03/2026", nil)
	assert.Error(t, err)
}

func TestLoadLocation(t *testing.T) {
	l, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, l)

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}
