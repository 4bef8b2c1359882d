package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEST QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// QuestDTO - состояние квеста для отображения.
type QuestDTO struct {
	ID          string        `json:"id"`
	TemplateID  string        `json:"template_id,omitempty"`
	UserID      string        `json:"user_id"`
	Title       string        `json:"title"`
	Tasks       []quest.Task  `json:"tasks"`
	Summary     quest.Summary `json:"summary"`
	Completed   bool          `json:"completed"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewQuestDTO строит DTO из доменной модели.
func NewQuestDTO(q *quest.Quest) QuestDTO {
	tasks := make([]quest.Task, len(q.Tasks))
	copy(tasks, q.Tasks)
	return QuestDTO{
		ID:          q.ID,
		TemplateID:  q.TemplateID,
		UserID:      q.UserID,
		Title:       q.Title,
		Tasks:       tasks,
		Summary:     q.Summary(),
		Completed:   q.CompletionFired,
		CompletedAt: q.CompletedAt,
		CreatedAt:   q.CreatedAt,
	}
}

// GetQuestHandler читает квесты и шаблоны.
type GetQuestHandler struct {
	repo      quest.Repository
	templates *quest.Templates
}

// NewGetQuestHandler создаёт новый обработчик.
func NewGetQuestHandler(repo quest.Repository, templates *quest.Templates) *GetQuestHandler {
	return &GetQuestHandler{repo: repo, templates: templates}
}

// Handle возвращает квест по ID.
func (h *GetQuestHandler) Handle(ctx context.Context, questID string) (*QuestDTO, error) {
	if questID == "" {
		return nil, shared.NewDomainError("quest", "Get", shared.ErrEmptyValue, "quest_id is required")
	}
	q, err := h.repo.Get(ctx, questID)
	if err != nil {
		return nil, fmt.Errorf("get_quest: %w", err)
	}
	dto := NewQuestDTO(q)
	return &dto, nil
}

// ListByUser возвращает квесты пользователя, новые первыми.
func (h *GetQuestHandler) ListByUser(ctx context.Context, userID string) ([]QuestDTO, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}
	quests, err := h.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list_quests: %w", err)
	}
	out := make([]QuestDTO, 0, len(quests))
	for _, q := range quests {
		out = append(out, NewQuestDTO(q))
	}
	return out, nil
}

// Templates возвращает доступные шаблоны квестов.
func (h *GetQuestHandler) Templates() []quest.Template {
	return h.templates.All()
}
