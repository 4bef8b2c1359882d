package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/logger"
	"github.com/alem-hub/learnquest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOGGLE TASK COMMAND
// Flips a task's completion flag. The toggle that first brings a quest to 100%
// fires completion once and grants the quest's total XP to the ledger in the
// same transaction.
// ══════════════════════════════════════════════════════════════════════════════

// ToggleTaskCommand contains the data to toggle a task.
type ToggleTaskCommand struct {
	QuestID string
	TaskID  string
}

// Validate validates the command.
func (c ToggleTaskCommand) Validate() error {
	if c.QuestID == "" || c.TaskID == "" {
		return shared.NewDomainError("quest", "Toggle", shared.ErrEmptyValue, "quest_id and task_id are required")
	}
	return nil
}

// ToggleTaskResult contains the result of a toggle.
type ToggleTaskResult struct {
	Quest     *quest.Quest
	TaskID    string
	Completed bool
	Summary   quest.Summary

	// QuestCompleted is true only on the toggle that fired completion.
	QuestCompleted bool
	XPGranted      int64

	Unlocked []string
	Events   []shared.Event
}

// ToggleTaskHandler handles ToggleTaskCommand.
type ToggleTaskHandler struct {
	repo      quest.Repository
	xp        *ApplyXPHandler
	tx        Transactor
	publisher shared.EventPublisher
	checker   AchievementChecker
	flags     FeatureGate
	retrier   *retry.Retrier
	log       *logger.Logger
	now       Clock
}

// NewToggleTaskHandler creates a new ToggleTaskHandler.
func NewToggleTaskHandler(
	repo quest.Repository,
	xp *ApplyXPHandler,
	tx Transactor,
	publisher shared.EventPublisher,
	checker AchievementChecker,
	flags FeatureGate,
	log *logger.Logger,
) *ToggleTaskHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ToggleTaskHandler{
		repo:      repo,
		xp:        xp,
		tx:        tx,
		publisher: publisher,
		checker:   checker,
		flags:     flags,
		retrier:   retry.OptimisticLockRetrier(shared.IsRetryable),
		log:       log.With(logger.Component("toggle_task")),
		now:       systemClock,
	}
}

// WithClock replaces the time source.
func (h *ToggleTaskHandler) WithClock(now Clock) *ToggleTaskHandler {
	h.now = now
	return h
}

// Handle executes the command.
func (h *ToggleTaskHandler) Handle(ctx context.Context, cmd ToggleTaskCommand) (*ToggleTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := h.now()
	var (
		result *ToggleTaskResult
		events []shared.Event
	)

	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.tx.RunInTx(ctx, func(ctx context.Context) error {
			result, events = nil, nil

			q, err := h.repo.Get(ctx, cmd.QuestID)
			if err != nil {
				return err
			}

			out, err := q.Toggle(cmd.TaskID, at)
			if err != nil {
				return err
			}
			if err := h.repo.Save(ctx, q, q.Version); err != nil {
				return err
			}

			result = &ToggleTaskResult{
				Quest:     q,
				TaskID:    out.TaskID,
				Completed: out.Completed,
				Summary:   out.Summary,
			}

			if out.Completion == nil {
				return nil
			}

			result.QuestCompleted = true
			events = append(events, *out.Completion)

			if !FeatureEnabled(h.flags, FeatureQuestCompletionXP, q.UserID) {
				return nil
			}
			update, err := h.xp.Apply(ctx, q.UserID, out.Completion.TotalXPEarned, progress.ReasonQuest, q.ID, at)
			if err != nil {
				return fmt.Errorf("grant quest xp: %w", err)
			}
			result.XPGranted = out.Completion.TotalXPEarned
			events = append(events, update.Events()...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("toggle_task: %w", err)
	}

	result.Events = events
	if result.QuestCompleted {
		h.log.Info("quest completed",
			logger.UserID(result.Quest.UserID),
			logger.QuestID(result.Quest.ID),
			logger.XPAmount(result.XPGranted),
		)
		if err := shared.PublishAll(ctx, h.publisher, events...); err != nil {
			h.log.Warn("failed to publish quest events", logger.QuestID(cmd.QuestID), logger.Err(err))
		}
	}

	// Task counts feed achievement criteria, so only un-completing skips evaluation.
	if result.Completed {
		result.Unlocked = checkAfterCommit(ctx, h.checker, h.log, result.Quest.UserID)
	}

	return result, nil
}
