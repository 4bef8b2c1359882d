package streak

import (
	"testing"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func d(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

func TestRecordActivity_Sequence(t *testing.T) {
	s := New("u1")

	var got []int
	for _, at := range []time.Time{d(0), d(1), d(3)} {
		_, err := s.RecordActivity(at, nil)
		require.NoError(t, err)
		got = append(got, s.Current)
	}

	assert.Equal(t, []int{1, 2, 1}, got)
	assert.Equal(t, 2, s.Best)
}

func TestRecordActivity_Outcomes(t *testing.T) {
	s := New("u1")

	out, err := s.RecordActivity(d(0), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, out.Kind)
	assert.True(t, out.NewRecord)

	out, err = s.RecordActivity(d(0).Add(10*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Kind)
	assert.False(t, out.Changed())
	assert.Empty(t, out.Events("u1", d(0)))

	out, err = s.RecordActivity(d(1), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtended, out.Kind)
	assert.Equal(t, 2, out.Current)

	out, err = s.RecordActivity(d(5), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReset, out.Kind)
	assert.Equal(t, 2, out.Previous)
	assert.Equal(t, 3, out.DaysMissed)
	assert.Equal(t, 2, out.Best)

	events := out.Events("u1", d(5))
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventStreakBroken, events[0].EventType())
}

func TestRecordActivity_OutOfOrder(t *testing.T) {
	s := New("u1")
	_, err := s.RecordActivity(d(3), nil)
	require.NoError(t, err)
	before := *s

	_, err = s.RecordActivity(d(1), nil)
	assert.ErrorIs(t, err, shared.ErrOutOfOrderActivity)
	assert.Equal(t, before, *s)
}

func TestRecordActivity_BestIsMaximum(t *testing.T) {
	s := New("u1")
	days := []int{0, 1, 2, 3, 10, 11, 20}
	for _, n := range days {
		_, err := s.RecordActivity(d(n), nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.Best, s.Current)
	}
	assert.Equal(t, 4, s.Best)
	assert.Equal(t, 1, s.Current)
}

func TestRecordActivity_UsesLocation(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*60*60)
	s := New("u1")

	// 20:00 UTC on May 4 is already May 5 in UTC+5.
	_, err := s.RecordActivity(time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC), almaty)
	require.NoError(t, err)
	out, err := s.RecordActivity(time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC), almaty)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	s2 := New("u2")
	_, err = s2.RecordActivity(time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	out, err = s2.RecordActivity(time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExtended, out.Kind)
}

func TestCurrentAsOf(t *testing.T) {
	s := New("u1")
	assert.Equal(t, 0, s.CurrentAsOf(d(0), nil))

	_, _ = s.RecordActivity(d(0), nil)
	_, _ = s.RecordActivity(d(1), nil)

	assert.Equal(t, 2, s.CurrentAsOf(d(1), nil))
	assert.Equal(t, 2, s.CurrentAsOf(d(2), nil))
	assert.Equal(t, 0, s.CurrentAsOf(d(3), nil))
	assert.True(t, s.ActiveToday(d(1), nil))
	assert.False(t, s.ActiveToday(d(2), nil))
}

func TestRecordActivity_Validation(t *testing.T) {
	_, err := New("").RecordActivity(d(0), nil)
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	_, err = New("u1").RecordActivity(time.Time{}, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
