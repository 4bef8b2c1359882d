// Package timeutil provides calendar-day helpers for streaks and leaderboard windows.
// All functions take an explicit *time.Location; nil means UTC.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

func loc(l *time.Location) *time.Location {
	if l == nil {
		return time.UTC
	}
	return l
}

// LoadLocation resolves an IANA timezone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	l, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return l, nil
}

// StartOfDay returns midnight of t's calendar day in l.
func StartOfDay(t time.Time, l *time.Location) time.Time {
	t = t.In(loc(l))
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc(l))
}

// CalendarDay returns t's calendar day in l, expressed as midnight UTC.
// Two instants on the same local day always map to the same value,
// so the result is safe to compare and subtract across DST changes.
func CalendarDay(t time.Time, l *time.Location) time.Time {
	t = t.In(loc(l))
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days from a to b in l.
func DaysBetween(a, b time.Time, l *time.Location) int {
	da := CalendarDay(a, l)
	db := CalendarDay(b, l)
	return int(db.Sub(da).Hours() / 24)
}

// StartOfWeek returns Monday 00:00 of t's week in l.
func StartOfWeek(t time.Time, l *time.Location) time.Time {
	day := StartOfDay(t, l)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// StartOfMonth returns the first day of t's month at 00:00 in l.
func StartOfMonth(t time.Time, l *time.Location) time.Time {
	t = t.In(loc(l))
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc(l))
}

// ParseDate parses a YYYY-MM-DD date as midnight in l.
func ParseDate(s string, l *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc(l))
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate formats t's calendar day in l as YYYY-MM-DD.
func FormatDate(t time.Time, l *time.Location) string {
	return t.In(loc(l)).Format(DateLayout)
}
