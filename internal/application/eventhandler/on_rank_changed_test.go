package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerStub struct {
	calls []string
	err   error
}

func (c *checkerStub) CheckAchievements(_ context.Context, userID string) ([]string, error) {
	c.calls = append(c.calls, userID)
	return []string{"champion"}, c.err
}

type subscriberStub struct {
	handlers map[shared.EventType]shared.EventHandler
}

func (s *subscriberStub) Subscribe(t shared.EventType, h shared.EventHandler) error {
	if s.handlers == nil {
		s.handlers = make(map[shared.EventType]shared.EventHandler)
	}
	s.handlers[t] = h
	return nil
}

func (s *subscriberStub) SubscribeAll(shared.EventHandler) error { return nil }

// decodedEvent mimics an event that crossed a JSON transport.
type decodedEvent struct {
	userID  string
	payload map[string]interface{}
}

func (e decodedEvent) EventType() shared.EventType     { return shared.EventRankChanged }
func (e decodedEvent) OccurredAt() time.Time           { return time.Time{} }
func (e decodedEvent) AggregateID() string             { return e.userID }
func (e decodedEvent) Payload() map[string]interface{} { return e.payload }

var at = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func TestOnRankChanged_UpwardTriggersCheck(t *testing.T) {
	checker := &checkerStub{}
	h := NewOnRankChangedHandler(checker, nil, DefaultRankChangedConfig())

	require.NoError(t, h.Handle(context.Background(), shared.NewRankChangedEvent("u1", "all_time", 12, 8, at)))
	require.NoError(t, h.Handle(context.Background(), shared.NewRankChangedEvent("u2", "all_time", 3, 5, at)))
	require.NoError(t, h.Handle(context.Background(), shared.NewRankChangedEvent("u3", "week", 9, 1, at)))
	require.NoError(t, h.Handle(context.Background(), shared.NewRankChangedEvent("u4", "all_time", 0, 10, at)))

	// u4 had no previous rank.
	assert.Equal(t, []string{"u1", "u4"}, checker.calls)
}

func TestOnRankChanged_DecodedPayload(t *testing.T) {
	checker := &checkerStub{}
	h := NewOnRankChangedHandler(checker, nil, RankChangedConfig{
		Windows: []leaderboard.Window{leaderboard.WindowAllTime, leaderboard.WindowWeek},
	})

	ev := decodedEvent{userID: "u9", payload: map[string]interface{}{
		"window": "week", "old_rank": float64(2), "new_rank": float64(4),
	}}
	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Equal(t, []string{"u9"}, checker.calls)
}

func TestOnRankChanged_PropagatesError(t *testing.T) {
	boom := errors.New("db down")
	h := NewOnRankChangedHandler(&checkerStub{err: boom}, nil, DefaultRankChangedConfig())

	err := h.Handle(context.Background(), shared.NewRankChangedEvent("u1", "all_time", 0, 4, at))
	assert.ErrorIs(t, err, boom)
}

func TestOnRankChanged_Register(t *testing.T) {
	sub := &subscriberStub{}
	h := NewOnRankChangedHandler(&checkerStub{}, nil, DefaultRankChangedConfig())
	require.NoError(t, h.Register(sub))
	assert.Contains(t, sub.handlers, shared.EventRankChanged)
}
