package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/logger"
	"github.com/alem-hub/learnquest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY XP COMMAND
// Applies a signed XP delta to a user's ledger record.
// Read → Ledger.Apply → versioned Save (+ history entry) → publish events →
// achievement evaluation.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyXPCommand contains the data to apply an XP delta.
type ApplyXPCommand struct {
	// UserID is the user whose XP changes.
	UserID string

	// Delta is the signed XP change.
	Delta int64

	// Reason is the origin of the delta (quest, achievement, manual).
	Reason progress.Reason

	// SourceID optionally references the quest or achievement.
	SourceID string
}

// Validate validates the command.
func (c ApplyXPCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if !c.Reason.IsValid() {
		return shared.Errorf("progress", "ApplyXP", shared.ErrInvalidInput, "unknown reason %q", c.Reason)
	}
	return nil
}

// ApplyXPResult contains the result of applying a delta.
type ApplyXPResult struct {
	UserID    string
	OldXP     int64
	NewXP     int64
	Level     int
	LeveledUp bool

	// Unlocked lists achievements unlocked by the follow-up evaluation.
	Unlocked []string

	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyXPHandler handles ApplyXPCommand.
type ApplyXPHandler struct {
	repo      progress.Repository
	ledger    *progress.Ledger
	tx        Transactor
	publisher shared.EventPublisher
	ids       IDGenerator
	retrier   *retry.Retrier
	log       *logger.Logger
	now       Clock

	// checker is set after construction because the achievement flow
	// itself depends on this handler.
	checker AchievementChecker
}

// NewApplyXPHandler creates a new ApplyXPHandler.
func NewApplyXPHandler(
	repo progress.Repository,
	ledger *progress.Ledger,
	tx Transactor,
	publisher shared.EventPublisher,
	ids IDGenerator,
	log *logger.Logger,
) *ApplyXPHandler {
	if log == nil {
		log = logger.Nop()
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &ApplyXPHandler{
		repo:      repo,
		ledger:    ledger,
		tx:        tx,
		publisher: publisher,
		ids:       ids,
		retrier:   retry.OptimisticLockRetrier(shared.IsRetryable),
		log:       log.With(logger.Component("apply_xp")),
		now:       systemClock,
	}
}

// SetAchievementChecker wires achievement evaluation after each successful delta.
func (h *ApplyXPHandler) SetAchievementChecker(c AchievementChecker) {
	h.checker = c
}

// WithClock replaces the time source.
func (h *ApplyXPHandler) WithClock(now Clock) *ApplyXPHandler {
	h.now = now
	return h
}

// Ledger returns the ledger used by the handler.
func (h *ApplyXPHandler) Ledger() *progress.Ledger {
	return h.ledger
}

// Handle executes the command as its own transaction, retrying version conflicts.
func (h *ApplyXPHandler) Handle(ctx context.Context, cmd ApplyXPCommand) (*ApplyXPResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := h.now()
	var update progress.Update

	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			update, err = h.Apply(ctx, cmd.UserID, cmd.Delta, cmd.Reason, cmd.SourceID, at)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("apply_xp: %w", err)
	}

	result := &ApplyXPResult{
		UserID:    cmd.UserID,
		OldXP:     update.Previous.XP,
		NewXP:     update.Current.XP,
		Level:     update.Current.Level,
		LeveledUp: update.LevelUp != nil,
		Events:    update.Events(),
	}

	if !update.Changed() {
		return result, nil
	}

	h.log.Info("xp applied",
		logger.UserID(cmd.UserID),
		logger.XPAmount(cmd.Delta),
		logger.String("reason", string(cmd.Reason)),
		logger.Int("level", update.Current.Level),
	)

	if err := shared.PublishAll(ctx, h.publisher, result.Events...); err != nil {
		h.log.Warn("failed to publish xp events", logger.UserID(cmd.UserID), logger.Err(err))
	}

	result.Unlocked = checkAfterCommit(ctx, h.checker, h.log, cmd.UserID)

	return result, nil
}

// Apply runs one ledger mutation inside the caller's transaction. It neither
// retries nor publishes: callers publish update.Events() after commit.
func (h *ApplyXPHandler) Apply(
	ctx context.Context,
	userID string,
	delta int64,
	reason progress.Reason,
	sourceID string,
	at time.Time,
) (progress.Update, error) {
	rec, err := h.repo.Get(ctx, userID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		fresh := progress.NewRecord(userID)
		rec = &fresh
	case err != nil:
		return progress.Update{}, fmt.Errorf("load progress: %w", err)
	}

	update, err := h.ledger.Apply(*rec, delta, reason, sourceID, at)
	if err != nil {
		return progress.Update{}, err
	}
	if !update.Changed() {
		return update, nil
	}

	update.Change.ID = h.ids.GenerateID()
	cur := update.Current
	if err := h.repo.Save(ctx, &cur, rec.Version, update.Change); err != nil {
		return progress.Update{}, err
	}
	update.Current = cur

	return update, nil
}
