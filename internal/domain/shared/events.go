package shared

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each is published after the state change it describes is committed.
const (
	// Progress events
	EventXPChanged EventType = "progress.xp_changed"
	EventLevelUp   EventType = "progress.level_up"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Streak events
	EventStreakUpdated EventType = "streak.updated"
	EventStreakBroken  EventType = "streak.broken"

	// Quest events
	EventQuestCompleted EventType = "quest.completed"

	// Leaderboard events
	EventRankChanged EventType = "leaderboard.rank_changed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPChangedEvent is emitted after a ledger mutation is committed.
type XPChangedEvent struct {
	BaseEvent
	Delta    int64  `json:"delta"`
	OldXP    int64  `json:"old_xp"`
	NewXP    int64  `json:"new_xp"`
	Reason   string `json:"reason"`
	SourceID string `json:"source_id,omitempty"`
}

// Payload implements Event interface.
func (e XPChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"delta":     e.Delta,
		"old_xp":    e.OldXP,
		"new_xp":    e.NewXP,
		"reason":    e.Reason,
		"source_id": e.SourceID,
	}
}

// NewXPChangedEvent creates a new XPChangedEvent.
func NewXPChangedEvent(userID string, delta, oldXP, newXP int64, reason, sourceID string, at time.Time) XPChangedEvent {
	return XPChangedEvent{
		BaseEvent: NewBaseEvent(EventXPChanged, userID, at),
		Delta:     delta,
		OldXP:     oldXP,
		NewXP:     newXP,
		Reason:    reason,
		SourceID:  sourceID,
	}
}

// LevelUpEvent is emitted when the derived level strictly increases.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int   `json:"old_level"`
	NewLevel int   `json:"new_level"`
	XP       int64 `json:"xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"xp":        e.XP,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, xp int64, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		XP:        xp,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per (user, achievement) pair.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Rarity        string `json:"rarity"`
	XPReward      int64  `json:"xp_reward"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"rarity":         e.Rarity,
		"xp_reward":      e.XPReward,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID, rarity string, reward int64, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID, at),
		AchievementID: achievementID,
		Rarity:        rarity,
		XPReward:      reward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted when a streak starts or grows.
type StreakUpdatedEvent struct {
	BaseEvent
	Current int `json:"current"`
	Best    int `json:"best"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"current": e.Current,
		"best":    e.Best,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, current, best int, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, userID, at),
		Current:   current,
		Best:      best,
	}
}

// StreakBrokenEvent is emitted when a gap resets the streak to 1.
type StreakBrokenEvent struct {
	BaseEvent
	Previous   int `json:"previous"`
	DaysMissed int `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous":    e.Previous,
		"days_missed": e.DaysMissed,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(userID string, previous, daysMissed int, at time.Time) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:  NewBaseEvent(EventStreakBroken, userID, at),
		Previous:   previous,
		DaysMissed: daysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Quest Events
// ═══════════════════════════════════════════════════════════════════════════

// QuestCompletedEvent fires once per quest instance.
type QuestCompletedEvent struct {
	BaseEvent
	QuestID       string `json:"quest_id"`
	TotalXPEarned int64  `json:"total_xp_earned"`
}

// Payload implements Event interface.
func (e QuestCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"quest_id":        e.QuestID,
		"total_xp_earned": e.TotalXPEarned,
	}
}

// NewQuestCompletedEvent creates a new QuestCompletedEvent.
func NewQuestCompletedEvent(userID, questID string, totalXP int64, at time.Time) QuestCompletedEvent {
	return QuestCompletedEvent{
		BaseEvent:     NewBaseEvent(EventQuestCompleted, userID, at),
		QuestID:       questID,
		TotalXPEarned: totalXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedEvent is emitted when a user's position moves between two snapshots.
type RankChangedEvent struct {
	BaseEvent
	Window  string `json:"window"`
	OldRank int    `json:"old_rank"`
	NewRank int    `json:"new_rank"`
}

// Payload implements Event interface.
func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"window":   e.Window,
		"old_rank": e.OldRank,
		"new_rank": e.NewRank,
	}
}

// NewRankChangedEvent creates a new RankChangedEvent.
func NewRankChangedEvent(userID, window string, oldRank, newRank int, at time.Time) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent: NewBaseEvent(EventRankChanged, userID, at),
		Window:    window,
		OldRank:   oldRank,
		NewRank:   newRank,
	}
}

// MovedUp returns true if the user improved their position.
// Entering the ranking (OldRank 0) counts as moving up.
func (e RankChangedEvent) MovedUp() bool {
	return e.OldRank == 0 || e.NewRank < e.OldRank
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// PublishAll publishes events in order and returns the first error.
// All events are attempted even if one fails.
func PublishAll(ctx context.Context, p EventPublisher, events ...Event) error {
	if p == nil {
		return nil
	}
	var first error
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
