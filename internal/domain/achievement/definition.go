// Package achievement contains the achievement catalog, unlock predicates and
// the pure unlock evaluator. Recording unlocks and granting rewards is done by
// the application layer as two separate steps.
package achievement

import (
	"strings"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RARITY
// ══════════════════════════════════════════════════════════════════════════════

// Rarity is the display tier of an achievement.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid returns true for known rarities.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// CRITERION
// ══════════════════════════════════════════════════════════════════════════════

// CriterionKind selects which snapshot field a criterion reads.
type CriterionKind string

const (
	CriterionXPTotal         CriterionKind = "xp_total"
	CriterionLevel           CriterionKind = "level"
	CriterionStreakDays      CriterionKind = "streak_days"
	CriterionBestStreak      CriterionKind = "best_streak"
	CriterionTasksCompleted  CriterionKind = "tasks_completed"
	CriterionQuestsCompleted CriterionKind = "quests_completed"

	// CriterionLeaderboardRank is satisfied when the user is ranked and rank <= Threshold.
	CriterionLeaderboardRank CriterionKind = "leaderboard_rank"
)

// IsValid returns true for known kinds.
func (k CriterionKind) IsValid() bool {
	switch k {
	case CriterionXPTotal, CriterionLevel, CriterionStreakDays, CriterionBestStreak,
		CriterionTasksCompleted, CriterionQuestsCompleted, CriterionLeaderboardRank:
		return true
	}
	return false
}

// Criterion is the unlock predicate of a definition.
type Criterion struct {
	Kind      CriterionKind `json:"kind"`
	Threshold int64         `json:"threshold"`
}

// SatisfiedBy evaluates the criterion against a snapshot.
func (c Criterion) SatisfiedBy(s Snapshot) bool {
	switch c.Kind {
	case CriterionXPTotal:
		return s.XP >= c.Threshold
	case CriterionLevel:
		return int64(s.Level) >= c.Threshold
	case CriterionStreakDays:
		return int64(s.StreakDays) >= c.Threshold
	case CriterionBestStreak:
		return int64(s.BestStreak) >= c.Threshold
	case CriterionTasksCompleted:
		return int64(s.TasksCompleted) >= c.Threshold
	case CriterionQuestsCompleted:
		return int64(s.QuestsCompleted) >= c.Threshold
	case CriterionLeaderboardRank:
		return !s.Rank.IsUnranked() && int64(s.Rank) <= c.Threshold
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// Definition is an immutable catalog entry.
type Definition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IconRef     string    `json:"icon"`
	XPReward    int64     `json:"xp_reward"`
	Rarity      Rarity    `json:"rarity"`
	Criterion   Criterion `json:"criterion"`
}

// Validate checks the definition for authoring mistakes.
func (d Definition) Validate() error {
	var problems []string

	if strings.TrimSpace(d.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is required")
	}
	if d.XPReward < 0 {
		problems = append(problems, "xp_reward cannot be negative")
	}
	if !d.Rarity.IsValid() {
		problems = append(problems, "unknown rarity "+string(d.Rarity))
	}
	if !d.Criterion.Kind.IsValid() {
		problems = append(problems, "unknown criterion kind "+string(d.Criterion.Kind))
	}
	if d.Criterion.Threshold < 0 ||
		(d.Criterion.Kind == CriterionLeaderboardRank && d.Criterion.Threshold < 1) {
		problems = append(problems, "criterion threshold out of range")
	}

	if len(problems) > 0 {
		return shared.Errorf("achievement", "Validate", shared.ErrInvalidConfiguration,
			"definition %q: %s", d.ID, strings.Join(problems, "; "))
	}
	return nil
}
