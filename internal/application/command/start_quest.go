package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// START QUEST COMMAND
// Creates a new quest instance for a user from a template.
// ══════════════════════════════════════════════════════════════════════════════

// StartQuestCommand contains the data to start a quest.
type StartQuestCommand struct {
	UserID     string
	TemplateID string
}

// Validate validates the command.
func (c StartQuestCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.TemplateID == "" {
		return shared.NewDomainError("quest", "Start", shared.ErrEmptyValue, "template_id is required")
	}
	return nil
}

// StartQuestHandler handles StartQuestCommand.
type StartQuestHandler struct {
	templates *quest.Templates
	repo      quest.Repository
	ids       IDGenerator
	log       *logger.Logger
	now       Clock
}

// NewStartQuestHandler creates a new StartQuestHandler.
func NewStartQuestHandler(templates *quest.Templates, repo quest.Repository, ids IDGenerator, log *logger.Logger) *StartQuestHandler {
	if log == nil {
		log = logger.Nop()
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &StartQuestHandler{
		templates: templates,
		repo:      repo,
		ids:       ids,
		log:       log.With(logger.Component("start_quest")),
		now:       systemClock,
	}
}

// Handle executes the command.
func (h *StartQuestHandler) Handle(ctx context.Context, cmd StartQuestCommand) (*quest.Quest, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := h.templates.Get(cmd.TemplateID)
	if err != nil {
		return nil, err
	}

	q, err := tmpl.Instantiate(h.ids.GenerateID(), cmd.UserID, h.now())
	if err != nil {
		return nil, err
	}

	if err := h.repo.Save(ctx, q, 0); err != nil {
		return nil, fmt.Errorf("start_quest: %w", err)
	}

	h.log.Info("quest started", logger.UserID(cmd.UserID), logger.QuestID(q.ID), logger.String("template_id", tmpl.ID))
	return q, nil
}
