// Package saga contains business processes that orchestrate
// multiple domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
	"github.com/alem-hub/learnquest/pkg/logger"
	"github.com/alem-hub/learnquest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Build Snapshot → Evaluate → (Record Unlock + Grant XP) per new ID →
//
//	repeat until a pass unlocks nothing.
//
// A reward can raise XP or level enough to satisfy another criterion, so the
// loop runs to a fixed point. The number of passes is capped; hitting the cap
// is a catalog configuration error and is reported, never truncated.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMaxPasses bounds evaluation passes per run.
const DefaultMaxPasses = 8

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	// MaxPasses is the number of productive evaluation passes allowed per run.
	MaxPasses int
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{MaxPasses: DefaultMaxPasses}
}

// AchievementFlowDeps groups the saga's collaborators.
type AchievementFlowDeps struct {
	Catalog   *achievement.Catalog
	Progress  progress.Repository
	Streaks   streak.Repository
	Quests    quest.Repository
	Unlocks   achievement.UnlockRepository
	Snapshots leaderboard.SnapshotRepository
	XP        *command.ApplyXPHandler
	Tx        command.Transactor
	Publisher shared.EventPublisher
	IDs       command.IDGenerator
	Flags     command.FeatureGate
	Logger    *logger.Logger
}

// AchievementFlowResult contains the result of one run.
type AchievementFlowResult struct {
	UserID string

	// Unlocked lists newly unlocked achievement IDs in unlock order.
	Unlocked []string

	// TotalXPBonus is the XP granted by all unlocks of this run.
	TotalXPBonus int64

	// Passes is the number of evaluation passes performed.
	Passes int
}

// HasNewAchievements returns true if any achievements were unlocked.
func (r *AchievementFlowResult) HasNewAchievements() bool {
	return len(r.Unlocked) > 0
}

// AchievementFlowSaga orchestrates achievement evaluation and granting.
type AchievementFlowSaga struct {
	deps      AchievementFlowDeps
	maxPasses int
	retrier   *retry.Retrier
	log       *logger.Logger
	now       command.Clock
}

// NewAchievementFlowSaga creates a new achievement flow saga.
func NewAchievementFlowSaga(deps AchievementFlowDeps, config AchievementFlowConfig) (*AchievementFlowSaga, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("achievement_flow: catalog is required")
	case deps.Progress == nil || deps.Streaks == nil || deps.Quests == nil || deps.Unlocks == nil:
		return nil, errors.New("achievement_flow: repositories are required")
	case deps.XP == nil || deps.Tx == nil:
		return nil, errors.New("achievement_flow: xp handler and transactor are required")
	}
	if config.MaxPasses <= 0 {
		config.MaxPasses = DefaultMaxPasses
	}
	if deps.IDs == nil {
		deps.IDs = command.UUIDGenerator{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &AchievementFlowSaga{
		deps:      deps,
		maxPasses: config.MaxPasses,
		retrier:   retry.OptimisticLockRetrier(shared.IsRetryable),
		log:       log.With(logger.Component("achievement_flow")),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the time source.
func (s *AchievementFlowSaga) WithClock(now command.Clock) *AchievementFlowSaga {
	s.now = now
	return s
}

// CheckAchievements implements command.AchievementChecker.
func (s *AchievementFlowSaga) CheckAchievements(ctx context.Context, userID string) ([]string, error) {
	res, err := s.Execute(ctx, userID)
	if res == nil {
		return nil, err
	}
	return res.Unlocked, err
}

// Execute runs evaluation to a fixed point for one user.
// On overflow the unlocks already granted are kept and returned with the error.
func (s *AchievementFlowSaga) Execute(ctx context.Context, userID string) (*AchievementFlowResult, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}

	existing, err := s.deps.Unlocks.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("achievement_flow: load unlocks: %w", err)
	}
	unlocked := achievement.UnlockedSet(existing)

	result := &AchievementFlowResult{UserID: userID}

	for pass := 0; ; pass++ {
		snap, err := s.BuildSnapshot(ctx, userID)
		if err != nil {
			return result, fmt.Errorf("achievement_flow: %w", err)
		}

		ids, err := achievement.Evaluate(s.deps.Catalog, snap, unlocked)
		if err != nil {
			return result, fmt.Errorf("achievement_flow: %w", err)
		}
		result.Passes = pass + 1
		if len(ids) == 0 {
			return result, nil
		}

		if pass >= s.maxPasses {
			s.log.Error("unlock evaluation did not converge",
				logger.UserID(userID),
				logger.Int("max_passes", s.maxPasses),
				logger.Any("pending", ids),
			)
			return result, shared.Errorf("achievement", "Execute", shared.ErrUnlockEvaluationOverflow,
				"still unlocking %v after %d passes", ids, s.maxPasses)
		}

		for _, id := range ids {
			granted, reward, err := s.grant(ctx, userID, id)
			if err != nil {
				return result, fmt.Errorf("achievement_flow: grant %s: %w", id, err)
			}
			unlocked[id] = true
			if granted {
				result.Unlocked = append(result.Unlocked, id)
				result.TotalXPBonus += reward
			}
		}
	}
}

// grant records one unlock and its XP reward atomically, then publishes.
// A concurrent duplicate is absorbed: granted=false, no reward.
func (s *AchievementFlowSaga) grant(ctx context.Context, userID, achievementID string) (bool, int64, error) {
	def, ok := s.deps.Catalog.Get(achievementID)
	if !ok {
		return false, 0, shared.ErrAchievementNotFound
	}

	at := s.now()
	withReward := def.XPReward > 0 && command.FeatureEnabled(s.deps.Flags, command.FeatureAchievementXPRewards, userID)

	var (
		inserted bool
		events   []shared.Event
	)
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.deps.Tx.RunInTx(ctx, func(ctx context.Context) error {
			events = nil

			var err error
			inserted, err = s.deps.Unlocks.Record(ctx, achievement.Unlock{
				ID:            s.deps.IDs.GenerateID(),
				UserID:        userID,
				AchievementID: achievementID,
				EarnedAt:      at,
			})
			if err != nil {
				return err
			}
			if !inserted {
				return nil
			}

			events = append(events, shared.NewAchievementUnlockedEvent(userID, def.ID, string(def.Rarity), def.XPReward, at))
			if !withReward {
				return nil
			}

			update, err := s.deps.XP.Apply(ctx, userID, def.XPReward, progress.ReasonAchievement, def.ID, at)
			if err != nil {
				return err
			}
			events = append(events, update.Events()...)
			return nil
		})
	})
	if err != nil {
		return false, 0, err
	}
	if !inserted {
		s.log.Debug("duplicate unlock absorbed", logger.UserID(userID), logger.AchievementID(achievementID))
		return false, 0, nil
	}

	s.log.Info("achievement unlocked",
		logger.UserID(userID),
		logger.AchievementID(achievementID),
		logger.String("rarity", string(def.Rarity)),
	)

	if s.deps.Publisher != nil {
		if err := shared.PublishAll(ctx, s.deps.Publisher, events...); err != nil {
			s.log.Warn("failed to publish achievement events", logger.UserID(userID), logger.Err(err))
		}
	}

	reward := int64(0)
	if withReward {
		reward = def.XPReward
	}
	return true, reward, nil
}

// BuildSnapshot gathers the state achievement criteria are evaluated against.
func (s *AchievementFlowSaga) BuildSnapshot(ctx context.Context, userID string) (achievement.Snapshot, error) {
	snap := achievement.Snapshot{UserID: userID, Level: 1}

	rec, err := s.deps.Progress.Get(ctx, userID)
	switch {
	case err == nil:
		snap.XP = rec.XP
		snap.Level = s.deps.XP.Ledger().Curve().LevelOf(rec.XP)
	case !errors.Is(err, shared.ErrNotFound):
		return snap, fmt.Errorf("load progress: %w", err)
	}

	st, err := s.deps.Streaks.Get(ctx, userID)
	switch {
	case err == nil:
		snap.StreakDays = st.Current
		snap.BestStreak = st.Best
	case !errors.Is(err, shared.ErrNotFound):
		return snap, fmt.Errorf("load streak: %w", err)
	}

	quests, tasks, err := s.deps.Quests.CountCompleted(ctx, userID)
	if err != nil {
		return snap, fmt.Errorf("count quests: %w", err)
	}
	snap.QuestsCompleted = quests
	snap.TasksCompleted = tasks

	if s.deps.Snapshots != nil {
		latest, err := s.deps.Snapshots.Latest(ctx, leaderboard.WindowAllTime)
		switch {
		case err == nil:
			snap.Rank = latest.RankOf(userID)
		case !errors.Is(err, shared.ErrNotFound):
			return snap, fmt.Errorf("load leaderboard: %w", err)
		}
	}

	return snap, nil
}
