package progress

import (
	"testing"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCurve_Thresholds(t *testing.T) {
	c := DefaultCurve()

	tests := []struct {
		xp    int64
		level int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{299, 2},
		{300, 3},
		{599, 3},
		{600, 4},
		{1000, 5},
		{5000, 10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.level, c.LevelOf(tt.xp), "xp=%d", tt.xp)
	}
}

func TestCurve_LevelOfIsMonotonic(t *testing.T) {
	for _, step := range []int64{1, 7, 100, 500, MaxStep} {
		c, err := NewCurve(step)
		require.NoError(t, err)

		prev := 1
		for xp := int64(0); xp < 20_000; xp += 13 {
			level := c.LevelOf(xp)
			assert.GreaterOrEqual(t, level, prev, "step=%d xp=%d", step, xp)
			assert.LessOrEqual(t, c.Threshold(level), xp)
			assert.Greater(t, c.Threshold(level+1), xp)
			prev = level
		}
	}
}

func TestCurve_ProgressInUnitInterval(t *testing.T) {
	c := DefaultCurve()
	for xp := int64(0); xp < 10_000; xp += 7 {
		p := c.Progress(xp)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.Less(t, p, 1.0)
	}
	assert.InDelta(t, 0.5, c.Progress(200), 1e-9) // L2 spans 100..300
}

func TestCurve_LargeXP(t *testing.T) {
	c := DefaultCurve()
	level := c.LevelOf(MaxXP)
	assert.LessOrEqual(t, c.Threshold(level), MaxXP)
	assert.Greater(t, c.Threshold(level+1), MaxXP)
}

func TestNewCurve_RejectsBadStep(t *testing.T) {
	_, err := NewCurve(0)
	assert.ErrorIs(t, err, shared.ErrInvalidConfiguration)
	_, err = NewCurve(MaxStep + 1)
	assert.ErrorIs(t, err, shared.ErrInvalidConfiguration)
}

func TestDescribe(t *testing.T) {
	info := DefaultCurve().Describe(450)
	assert.Equal(t, 3, info.Level)
	assert.Equal(t, int64(300), info.LevelStartXP)
	assert.Equal(t, int64(600), info.NextLevelXP)
	assert.Equal(t, int64(150), info.XPToNextLevel)
	assert.Equal(t, "Novice", info.Title)
}

func TestLedger_Apply(t *testing.T) {
	l := NewLedger(DefaultCurve())
	rec := NewRecord("u1")

	up, err := l.Apply(rec, 120, ReasonQuest, "q-1", now)
	require.NoError(t, err)

	assert.Equal(t, int64(120), up.Current.XP)
	assert.Equal(t, 2, up.Current.Level)
	require.NotNil(t, up.Change)
	assert.Equal(t, int64(0), up.Change.OldXP)
	assert.Equal(t, int64(120), up.Change.NewXP)
	assert.Equal(t, "q-1", up.Change.SourceID)
	require.NotNil(t, up.LevelUp)
	assert.Equal(t, 1, up.LevelUp.OldLevel)
	assert.Equal(t, 2, up.LevelUp.NewLevel)

	events := up.Events()
	require.Len(t, events, 2)
	assert.Equal(t, shared.EventXPChanged, events[0].EventType())
	assert.Equal(t, shared.EventLevelUp, events[1].EventType())
}

func TestLedger_NoLevelUpWithinLevel(t *testing.T) {
	l := NewLedger(DefaultCurve())
	rec := Record{UserID: "u1", XP: 110, Level: 2, Version: 3}

	up, err := l.Apply(rec, 50, ReasonManual, "", now)
	require.NoError(t, err)
	assert.Nil(t, up.LevelUp)
	assert.Len(t, up.Events(), 1)
}

func TestLedger_NegativeDeltaLowersLevelWithoutEvent(t *testing.T) {
	l := NewLedger(DefaultCurve())
	rec := Record{UserID: "u1", XP: 650, Level: 4}

	up, err := l.Apply(rec, -400, ReasonManual, "", now)
	require.NoError(t, err)
	assert.Equal(t, 2, up.Current.Level)
	assert.Nil(t, up.LevelUp)
}

func TestLedger_InvalidDeltaLeavesRecordUnchanged(t *testing.T) {
	l := NewLedger(DefaultCurve())
	rec := Record{UserID: "u1", XP: 500, Level: 4, Version: 7}

	up, err := l.Apply(rec, -1000, ReasonManual, "", now)

	assert.ErrorIs(t, err, shared.ErrInvalidDelta)
	assert.Equal(t, Update{}, up)
	assert.Equal(t, Record{UserID: "u1", XP: 500, Level: 4, Version: 7}, rec)
}

func TestLedger_ZeroDeltaIsNoop(t *testing.T) {
	l := NewLedger(DefaultCurve())
	up, err := l.Apply(Record{UserID: "u1", XP: 300, Level: 3}, 0, ReasonManual, "", now)
	require.NoError(t, err)
	assert.False(t, up.Changed())
	assert.Empty(t, up.Events())
}

func TestLedger_Overflow(t *testing.T) {
	l := NewLedger(DefaultCurve())
	_, err := l.Apply(Record{UserID: "u1", XP: MaxXP - 1}, 2, ReasonManual, "", now)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestLedger_RejectsUnknownReason(t *testing.T) {
	l := NewLedger(DefaultCurve())
	_, err := l.Apply(NewRecord("u1"), 10, Reason("bribe"), "", now)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestLedger_PathIndependent(t *testing.T) {
	l := NewLedger(DefaultCurve())

	a := NewRecord("u1")
	for _, d := range []int64{50, 500, -200, 40} {
		up, err := l.Apply(a, d, ReasonManual, "", now)
		require.NoError(t, err)
		a = up.Current
	}

	b, err := l.Apply(NewRecord("u1"), 390, ReasonManual, "", now)
	require.NoError(t, err)

	assert.Equal(t, b.Current.XP, a.XP)
	assert.Equal(t, b.Current.Level, a.Level)
}
