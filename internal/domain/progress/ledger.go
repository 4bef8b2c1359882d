package progress

import (
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// Reason describes where an XP delta came from.
type Reason string

const (
	ReasonQuest       Reason = "quest"
	ReasonAchievement Reason = "achievement"
	ReasonManual      Reason = "manual"
)

// IsValid returns true for known reasons.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonQuest, ReasonAchievement, ReasonManual:
		return true
	}
	return false
}

// Record is a user's progress as owned by the ledger.
// Level is always Curve.LevelOf(XP); Version is the storage concurrency token.
type Record struct {
	UserID    string
	XP        int64
	Level     int
	Version   int64
	UpdatedAt time.Time
}

// NewRecord returns the record of a user with no XP yet.
func NewRecord(userID string) Record {
	return Record{UserID: userID, XP: 0, Level: 1}
}

// Change is one entry of a user's XP history, appended with every mutation.
type Change struct {
	ID       string
	UserID   string
	Delta    int64
	OldXP    int64
	NewXP    int64
	Reason   Reason
	SourceID string
	At       time.Time
}

// Update is the result of applying a delta.
type Update struct {
	Previous Record
	Current  Record

	// Change is nil when the delta was zero.
	Change *Change

	// LevelUp is set only when the level strictly increased.
	LevelUp *shared.LevelUpEvent
}

// Changed reports whether XP moved.
func (u Update) Changed() bool {
	return u.Change != nil
}

// Events returns the domain events of this update in publish order.
func (u Update) Events() []shared.Event {
	if u.Change == nil {
		return nil
	}
	events := []shared.Event{
		shared.NewXPChangedEvent(u.Current.UserID, u.Change.Delta, u.Change.OldXP, u.Change.NewXP,
			string(u.Change.Reason), u.Change.SourceID, u.Change.At),
	}
	if u.LevelUp != nil {
		events = append(events, *u.LevelUp)
	}
	return events
}

// Ledger applies XP deltas to records. It holds no per-user state.
type Ledger struct {
	curve Curve
}

// NewLedger creates a ledger over the given curve.
func NewLedger(curve Curve) *Ledger {
	return &Ledger{curve: curve}
}

// Curve returns the ledger's level curve.
func (l *Ledger) Curve() Curve {
	return l.curve
}

// Apply computes the record that results from adding delta.
// A delta that would make XP negative is rejected with ErrInvalidDelta and rec is left untouched.
func (l *Ledger) Apply(rec Record, delta int64, reason Reason, sourceID string, at time.Time) (Update, error) {
	if rec.UserID == "" {
		return Update{}, shared.NewDomainError("progress", "Apply", shared.ErrEmptyValue, "user id is required")
	}
	if !reason.IsValid() {
		return Update{}, shared.Errorf("progress", "Apply", shared.ErrInvalidInput, "unknown xp reason %q", reason)
	}

	if delta > 0 && delta > MaxXP-rec.XP {
		return Update{}, shared.Errorf("progress", "Apply", shared.ErrValueOutOfRange,
			"xp would exceed %d", MaxXP)
	}
	newXP := rec.XP + delta
	if newXP < 0 {
		return Update{}, shared.Errorf("progress", "Apply", shared.ErrInvalidDelta,
			"delta %d would leave user %s at %d xp", delta, rec.UserID, newXP)
	}

	prevLevel := l.curve.LevelOf(rec.XP)
	if delta == 0 {
		rec.Level = prevLevel
		return Update{Previous: rec, Current: rec}, nil
	}

	cur := rec
	cur.XP = newXP
	cur.Level = l.curve.LevelOf(newXP)
	cur.UpdatedAt = at

	update := Update{
		Previous: rec,
		Current:  cur,
		Change: &Change{
			UserID:   rec.UserID,
			Delta:    delta,
			OldXP:    rec.XP,
			NewXP:    newXP,
			Reason:   reason,
			SourceID: sourceID,
			At:       at,
		},
	}

	if cur.Level > prevLevel {
		ev := shared.NewLevelUpEvent(rec.UserID, prevLevel, cur.Level, newXP, at)
		update.LevelUp = &ev
	}

	return update, nil
}
