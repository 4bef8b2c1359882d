package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next run time strictly after t.
	Next(t time.Time) time.Time

	String() string
}

// ParseSchedule accepts "@every <duration>", a preset such as "@hourly",
// or a 5-field cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive, got %s", d)
		}
		return NewIntervalSchedule(d), nil
	}
	if expr, ok := presets[spec]; ok {
		return ParseCronExpression(expr)
	}
	return ParseCronExpression(spec)
}

var presets = map[string]string{
	"@hourly":  EveryHour,
	"@daily":   EveryDayMidnight,
	"@weekly":  EverySunday,
	"@monthly": FirstOfMonth,
}

// Common cron expression presets.
const (
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
	EverySunday      = "0 0 * * 0"
	FirstOfMonth     = "0 0 1 * *"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
// Each field supports *, */n, n, n-m, n-m/s and comma lists of those.
//
//   - "*/5 * * * *"  every 5 minutes
//   - "0 21 * * *"   every day at 21:00
//   - "0 0 * * 0"    every Sunday at midnight
type CronExpression struct {
	raw      string
	minutes  uint64 // bit i set = minute i
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64 // 0 = Sunday
}

// ParseCronExpression parses a cron expression string.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	ce := &CronExpression{raw: expr}
	targets := []struct {
		name     string
		dst      *uint64
		min, max int
	}{
		{"minute", &ce.minutes, 0, 59},
		{"hour", &ce.hours, 0, 23},
		{"day", &ce.days, 1, 31},
		{"month", &ce.months, 1, 12},
		{"weekday", &ce.weekdays, 0, 6},
	}
	for i, tgt := range targets {
		set, err := parseField(fields[i], tgt.min, tgt.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", tgt.name, err)
		}
		*tgt.dst = set
	}
	return ce, nil
}

// MustParseCronExpression parses a cron expression or panics.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return ce
}

// parseField returns the field's values as a bitset.
func parseField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		start, end, step := min, max, 1

		rng := part
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step value: %s", s)
			}
			step, rng = n, base
		}

		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			lo, hi, _ := strings.Cut(rng, "-")
			var err error
			if start, err = strconv.Atoi(lo); err != nil {
				return 0, fmt.Errorf("invalid range start: %s", lo)
			}
			if end, err = strconv.Atoi(hi); err != nil {
				return 0, fmt.Errorf("invalid range end: %s", hi)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return 0, fmt.Errorf("invalid value: %s", rng)
			}
			start = v
			if step == 1 {
				end = v
			}
		}

		if start < min || end > max || start > end {
			return 0, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
		}
		for i := start; i <= end; i += step {
			set |= 1 << uint(i)
		}
	}
	return set, nil
}

func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute after the given time, or the zero
// time if nothing matches within a year (e.g. "0 0 31 2 *").
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	return has(ce.minutes, t.Minute()) &&
		has(ce.hours, t.Hour()) &&
		has(ce.days, t.Day()) &&
		has(ce.months, int(t.Month())) &&
		has(ce.weekdays, int(t.Weekday()))
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}
