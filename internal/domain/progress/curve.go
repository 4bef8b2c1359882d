// Package progress implements the XP ledger: cumulative XP per user and the
// level curve derived from it.
package progress

import (
	"fmt"
	"math"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

const (
	// MaxXP bounds a single user's XP so curve arithmetic never overflows.
	MaxXP int64 = 1_000_000_000_000

	// DefaultStep is the XP cost of going from level 1 to level 2.
	DefaultStep int64 = 100

	// MaxStep bounds Curve.Step.
	MaxStep int64 = 1_000_000
)

// Curve is a cumulative level curve: reaching level n+1 from level n costs Step*n XP,
// so Threshold(n) = Step * n*(n-1)/2.
//
//	Step=100: L1=0, L2=100, L3=300, L4=600, L5=1000, ...
//
// LevelOf depends only on the XP value, never on how it was reached.
type Curve struct {
	Step int64
}

// NewCurve validates the step and returns a curve.
func NewCurve(step int64) (Curve, error) {
	if step <= 0 || step > MaxStep {
		return Curve{}, shared.Errorf("progress", "NewCurve", shared.ErrInvalidConfiguration,
			"level step must be in [1, %d], got %d", MaxStep, step)
	}
	return Curve{Step: step}, nil
}

// DefaultCurve returns the curve with DefaultStep.
func DefaultCurve() Curve {
	return Curve{Step: DefaultStep}
}

// Threshold returns the cumulative XP required to reach level.
func (c Curve) Threshold(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level)
	return c.Step * n * (n - 1) / 2
}

// LevelOf returns the level for the given XP. Monotonic non-decreasing in xp.
func (c Curve) LevelOf(xp int64) int {
	if xp <= 0 {
		return 1
	}
	// Closed-form estimate, then correct for float rounding.
	n := int((1 + math.Sqrt(1+8*float64(xp)/float64(c.Step))) / 2)
	if n < 1 {
		n = 1
	}
	for n > 1 && c.Threshold(n) > xp {
		n--
	}
	for c.Threshold(n+1) <= xp {
		n++
	}
	return n
}

// Progress returns the fraction of the current level completed, in [0, 1).
func (c Curve) Progress(xp int64) float64 {
	level := c.LevelOf(xp)
	lo := c.Threshold(level)
	hi := c.Threshold(level + 1)
	return float64(xp-lo) / float64(hi-lo)
}

// LevelInfo is a presentation-ready view of a position on the curve.
type LevelInfo struct {
	XP            int64   `json:"xp"`
	Level         int     `json:"level"`
	Title         string  `json:"title"`
	Progress      float64 `json:"progress"`
	LevelStartXP  int64   `json:"level_start_xp"`
	NextLevelXP   int64   `json:"next_level_xp"`
	XPToNextLevel int64   `json:"xp_to_next_level"`
}

// Describe returns the LevelInfo for xp.
func (c Curve) Describe(xp int64) LevelInfo {
	level := c.LevelOf(xp)
	next := c.Threshold(level + 1)
	return LevelInfo{
		XP:            xp,
		Level:         level,
		Title:         Title(level),
		Progress:      c.Progress(xp),
		LevelStartXP:  c.Threshold(level),
		NextLevelXP:   next,
		XPToNextLevel: next - xp,
	}
}

// String implements fmt.Stringer.
func (c Curve) String() string {
	return fmt.Sprintf("cumulative(step=%d)", c.Step)
}

// Title returns a human-readable title for the level.
func Title(level int) string {
	switch {
	case level < 5:
		return "Novice"
	case level < 10:
		return "Apprentice"
	case level < 20:
		return "Scholar"
	case level < 35:
		return "Expert"
	case level < 50:
		return "Master"
	default:
		return "Legend"
	}
}
