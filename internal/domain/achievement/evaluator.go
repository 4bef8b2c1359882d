package achievement

import (
	"context"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// Snapshot is the progress state unlock predicates are evaluated against.
type Snapshot struct {
	UserID          string
	XP              int64
	Level           int
	StreakDays      int
	BestStreak      int
	TasksCompleted  int
	QuestsCompleted int
	Rank            shared.Rank
}

// Validate rejects snapshots that cannot come from consistent state.
func (s Snapshot) Validate() error {
	if s.UserID == "" {
		return shared.NewDomainError("achievement", "Evaluate", shared.ErrMalformedSnapshot, "user id is required")
	}
	if s.XP < 0 || s.Level < 1 || s.StreakDays < 0 || s.BestStreak < 0 ||
		s.TasksCompleted < 0 || s.QuestsCompleted < 0 || s.Rank < 0 {
		return shared.Errorf("achievement", "Evaluate", shared.ErrMalformedSnapshot,
			"snapshot for %s has negative or zero-level fields", s.UserID)
	}
	return nil
}

// Evaluate returns the IDs of achievements whose criterion is satisfied by s and
// that are not in unlocked, in catalog order. It is pure: equal inputs give equal output.
func Evaluate(c *Catalog, s Snapshot, unlocked map[string]bool) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var out []string
	for _, d := range c.defs {
		if unlocked[d.ID] {
			continue
		}
		if d.Criterion.SatisfiedBy(s) {
			out = append(out, d.ID)
		}
	}
	return out, nil
}

// Unlock records that a user earned an achievement. At most one exists per (UserID, AchievementID).
type Unlock struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	EarnedAt      time.Time `json:"earned_at"`
}

// UnlockRepository stores unlock records behind a uniqueness constraint on (user, achievement).
type UnlockRepository interface {
	// Record inserts the unlock if none exists for the pair. It returns false,
	// without error, when the pair was already unlocked.
	Record(ctx context.Context, u Unlock) (inserted bool, err error)

	// ListByUser returns a user's unlocks ordered by EarnedAt.
	ListByUser(ctx context.Context, userID string) ([]Unlock, error)
}

// UnlockedSet turns unlock records into a lookup set.
func UnlockedSet(unlocks []Unlock) map[string]bool {
	set := make(map[string]bool, len(unlocks))
	for _, u := range unlocks {
		set[u.AchievementID] = true
	}
	return set
}
