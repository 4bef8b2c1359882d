package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEST REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

var _ quest.Repository = (*QuestRepository)(nil)

// QuestRepository stores quest instances. Tasks live in a JSONB column.
type QuestRepository struct {
	conn *Connection
}

// NewQuestRepository creates a new QuestRepository.
func NewQuestRepository(conn *Connection) *QuestRepository {
	return &QuestRepository{conn: conn}
}

var questColumns = []string{
	"id", "template_id", "user_id", "title", "tasks",
	"completion_fired", "completed_at", "created_at", "updated_at", "version",
}

// Get returns a quest or shared.ErrQuestNotFound.
func (r *QuestRepository) Get(ctx context.Context, questID string) (*quest.Quest, error) {
	q, err := scanQuest(r.conn.queryRow(ctx, psql.
		Select(questColumns...).
		From("quests").
		Where(sq.Eq{"id": questID})))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrQuestNotFound
		}
		return nil, fmt.Errorf("failed to get quest: %w", err)
	}
	return q, nil
}

// Save stores the quest under an optimistic version check.
func (r *QuestRepository) Save(ctx context.Context, q *quest.Quest, expectedVersion int64) error {
	stmt, err := saveQuestQuery(q, expectedVersion)
	if err != nil {
		return err
	}
	tag, err := r.conn.exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to save quest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrQuestConflict
	}
	q.Version = expectedVersion + 1
	return nil
}

func saveQuestQuery(q *quest.Quest, expectedVersion int64) (sq.Sqlizer, error) {
	tasks, err := json.Marshal(q.Tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quest tasks: %w", err)
	}

	var completedAt interface{}
	if q.CompletedAt != nil {
		completedAt = *q.CompletedAt
	}

	if expectedVersion == 0 {
		return psql.Insert("quests").
			Columns(questColumns...).
			Values(q.ID, q.TemplateID, q.UserID, q.Title, tasks,
				q.CompletionFired, completedAt, q.CreatedAt, q.UpdatedAt, 1).
			Suffix("ON CONFLICT (id) DO NOTHING"), nil
	}
	return psql.Update("quests").
		Set("title", q.Title).
		Set("tasks", tasks).
		Set("completion_fired", q.CompletionFired).
		Set("completed_at", completedAt).
		Set("updated_at", q.UpdatedAt).
		Set("version", expectedVersion+1).
		Where(sq.Eq{"id": q.ID, "version": expectedVersion}), nil
}

// ListByUser returns a user's quests, newest first.
func (r *QuestRepository) ListByUser(ctx context.Context, userID string) ([]*quest.Quest, error) {
	rows, err := r.conn.query(ctx, psql.
		Select(questColumns...).
		From("quests").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list quests: %w", err)
	}
	defer rows.Close()

	var out []*quest.Quest
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quest: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CountCompleted returns completed quests and completed tasks across all quests of a user.
func (r *QuestRepository) CountCompleted(ctx context.Context, userID string) (int, int, error) {
	var quests, tasks int
	err := r.conn.queryRow(ctx, countCompletedQuery(userID)).Scan(&quests, &tasks)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count completed quests: %w", err)
	}
	return quests, tasks, nil
}

func countCompletedQuery(userID string) sq.SelectBuilder {
	return psql.
		Select(
			"COUNT(*) FILTER (WHERE completion_fired)",
			"COALESCE(SUM((SELECT COUNT(*) FROM jsonb_array_elements(tasks) t WHERE (t->>'completed')::boolean)), 0)::BIGINT",
		).
		From("quests").
		Where(sq.Eq{"user_id": userID})
}

func scanQuest(row pgx.Row) (*quest.Quest, error) {
	var (
		q           quest.Quest
		tasks       []byte
		completedAt *time.Time
	)
	err := row.Scan(&q.ID, &q.TemplateID, &q.UserID, &q.Title, &tasks,
		&q.CompletionFired, &completedAt, &q.CreatedAt, &q.UpdatedAt, &q.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tasks, &q.Tasks); err != nil {
		return nil, fmt.Errorf("failed to decode quest tasks: %w", err)
	}
	q.CompletedAt = completedAt
	return &q, nil
}
