package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
	"github.com/alem-hub/learnquest/pkg/logger"
	"github.com/alem-hub/learnquest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Records that a user was active on a calendar day and updates the streak.
// Same-day activity is a no-op; a gap resets the streak to 1.
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityCommand contains the data to record an activity.
type RecordActivityCommand struct {
	// UserID is the active user.
	UserID string

	// At is when the activity occurred (defaults to now if zero).
	At time.Time
}

// Validate validates the command.
func (c RecordActivityCommand) Validate() error {
	_, err := shared.NewUserID(c.UserID)
	return err
}

// RecordActivityResult contains the result of recording an activity.
type RecordActivityResult struct {
	UserID  string
	Outcome streak.OutcomeKind
	Current int
	Best    int

	// StreakBroken indicates the activity came after a gap.
	StreakBroken   bool
	PreviousStreak int

	// Tracking is false when streak tracking is disabled for the user.
	Tracking bool

	Unlocked []string
	Events   []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityHandler handles RecordActivityCommand.
type RecordActivityHandler struct {
	repo      streak.Repository
	tx        Transactor
	publisher shared.EventPublisher
	checker   AchievementChecker
	flags     FeatureGate
	loc       *time.Location
	retrier   *retry.Retrier
	log       *logger.Logger
	now       Clock
}

// RecordActivityHandlerConfig contains configuration for the handler.
type RecordActivityHandlerConfig struct {
	// Location defines calendar days. Nil means UTC.
	Location *time.Location
}

// NewRecordActivityHandler creates a new RecordActivityHandler.
func NewRecordActivityHandler(
	repo streak.Repository,
	tx Transactor,
	publisher shared.EventPublisher,
	checker AchievementChecker,
	flags FeatureGate,
	log *logger.Logger,
	config RecordActivityHandlerConfig,
) *RecordActivityHandler {
	if log == nil {
		log = logger.Nop()
	}
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	return &RecordActivityHandler{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		checker:   checker,
		flags:     flags,
		loc:       loc,
		retrier:   retry.OptimisticLockRetrier(shared.IsRetryable),
		log:       log.With(logger.Component("record_activity")),
		now:       systemClock,
	}
}

// WithClock replaces the time source.
func (h *RecordActivityHandler) WithClock(now Clock) *RecordActivityHandler {
	h.now = now
	return h
}

// Handle executes the record activity command.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := cmd.At
	if at.IsZero() {
		at = h.now()
	}

	result := &RecordActivityResult{UserID: cmd.UserID, Tracking: true}
	if !FeatureEnabled(h.flags, FeatureStreakTracking, cmd.UserID) {
		result.Tracking = false
		result.Outcome = streak.OutcomeUnchanged
		return result, nil
	}

	var outcome streak.Outcome
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.tx.RunInTx(ctx, func(ctx context.Context) error {
			s, err := h.repo.Get(ctx, cmd.UserID)
			switch {
			case errors.Is(err, shared.ErrNotFound):
				s = streak.New(cmd.UserID)
			case err != nil:
				return fmt.Errorf("load streak: %w", err)
			}

			outcome, err = s.RecordActivity(at, h.loc)
			if err != nil {
				return err
			}
			if !outcome.Changed() {
				return nil
			}
			return h.repo.Save(ctx, s, s.Version)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("record_activity: %w", err)
	}

	result.Outcome = outcome.Kind
	result.Current = outcome.Current
	result.Best = outcome.Best
	result.StreakBroken = outcome.Kind == streak.OutcomeReset
	result.PreviousStreak = outcome.Previous
	result.Events = outcome.Events(cmd.UserID, at)

	if !outcome.Changed() {
		return result, nil
	}

	h.log.Debug("streak updated",
		logger.UserID(cmd.UserID),
		logger.String("outcome", string(outcome.Kind)),
		logger.Int("current", outcome.Current),
	)

	if err := shared.PublishAll(ctx, h.publisher, result.Events...); err != nil {
		h.log.Warn("failed to publish streak events", logger.UserID(cmd.UserID), logger.Err(err))
	}

	result.Unlocked = checkAfterCommit(ctx, h.checker, h.log, cmd.UserID)

	return result, nil
}
