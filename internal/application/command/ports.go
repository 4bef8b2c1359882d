// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/logger"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// Interfaces the commands depend on. Implementations live in infrastructure.
// ══════════════════════════════════════════════════════════════════════════════

// Transactor runs fn atomically: either every write made through ctx inside fn
// is committed or none is. Nested calls join the outer transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	// GenerateID generates a new unique ID.
	GenerateID() string
}

// UUIDGenerator generates random (v4) UUIDs.
type UUIDGenerator struct{}

// GenerateID implements IDGenerator.
func (UUIDGenerator) GenerateID() string {
	return uuid.NewString()
}

// FeatureGate answers whether a feature is enabled for a user.
type FeatureGate interface {
	IsEnabledFor(feature, userID string) bool
}

// Feature names checked by the application layer.
const (
	FeatureAchievementXPRewards = "achievements.xp_rewards"
	FeatureStreakTracking       = "streak.tracking"
	FeatureQuestCompletionXP    = "quest.completion_xp"
	FeatureLeaderboardRankDelta = "leaderboard.rank_delta"
	FeatureLeaderboardCache     = "leaderboard.cache"
)

// FeatureEnabled treats a nil gate as "everything on".
func FeatureEnabled(g FeatureGate, feature, userID string) bool {
	return g == nil || g.IsEnabledFor(feature, userID)
}

// AchievementChecker runs unlock evaluation for a user after a state change.
type AchievementChecker interface {
	// CheckAchievements evaluates and grants achievements to a fixed point.
	// It returns the IDs unlocked by this call in unlock order.
	CheckAchievements(ctx context.Context, userID string) ([]string, error)
}

// checkAfterCommit runs the checker once the command's write is committed.
// The write stands either way: a failure is logged and the IDs unlocked
// before it are returned.
func checkAfterCommit(ctx context.Context, checker AchievementChecker, log *logger.Logger, userID string) []string {
	if checker == nil {
		return nil
	}
	unlocked, err := checker.CheckAchievements(ctx, userID)
	if err != nil {
		if shared.IsConfiguration(err) {
			log.Error("achievement evaluation misconfigured", logger.UserID(userID), logger.Err(err))
		} else {
			log.Warn("achievement evaluation failed", logger.UserID(userID), logger.Err(err))
		}
	}
	return unlocked
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
