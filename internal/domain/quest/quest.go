// Package quest aggregates task completion into quest progress.
//
// Progress and earned XP are always recomputed from task state. Completion
// fires at most once per quest instance, guarded by CompletionFired.
package quest

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// Task is one unit of work inside a quest.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	XPValue   int64  `json:"xp"`
	Completed bool   `json:"completed"`
}

// Quest is a user's instance of a quest template.
type Quest struct {
	ID         string
	TemplateID string
	UserID     string
	Title      string
	Tasks      []Task

	// CompletionFired is set the first time all tasks are done and never cleared.
	CompletionFired bool
	CompletedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// New validates and creates a quest instance with every task open.
func New(id, templateID, userID, title string, tasks []Task, at time.Time) (*Quest, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(userID) == "" {
		return nil, shared.NewDomainError("quest", "New", shared.ErrEmptyValue, "quest id and user id are required")
	}
	if len(tasks) == 0 {
		return nil, shared.NewDomainError("quest", "New", shared.ErrInvalidInput, "quest needs at least one task")
	}

	seen := make(map[string]bool, len(tasks))
	copied := make([]Task, len(tasks))
	for i, t := range tasks {
		if strings.TrimSpace(t.ID) == "" {
			return nil, shared.Errorf("quest", "New", shared.ErrEmptyValue, "task %d has no id", i)
		}
		if seen[t.ID] {
			return nil, shared.Errorf("quest", "New", shared.ErrInvalidInput, "duplicate task id %q", t.ID)
		}
		if t.XPValue < 0 {
			return nil, shared.Errorf("quest", "New", shared.ErrNegativeValue, "task %q has negative xp", t.ID)
		}
		seen[t.ID] = true
		t.Completed = false
		copied[i] = t
	}

	q := &Quest{
		ID:         id,
		TemplateID: templateID,
		UserID:     userID,
		Title:      title,
		Tasks:      copied,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	return q, nil
}

// Summary is the derived view of a quest's task state.
type Summary struct {
	CompletedCount  int   `json:"completed_count"`
	TotalCount      int   `json:"total_count"`
	ProgressPercent int   `json:"progress_percent"`
	EarnedXP        int64 `json:"earned_xp"`
	TotalXP         int64 `json:"total_xp"`
}

// Done returns true when every task is completed.
func (s Summary) Done() bool {
	return s.TotalCount > 0 && s.CompletedCount == s.TotalCount
}

// Summary recomputes the derived view from task state.
func (q *Quest) Summary() Summary {
	var s Summary
	s.TotalCount = len(q.Tasks)
	for _, t := range q.Tasks {
		s.TotalXP += t.XPValue
		if t.Completed {
			s.CompletedCount++
			s.EarnedXP += t.XPValue
		}
	}
	if s.TotalCount > 0 {
		s.ProgressPercent = int(math.Round(float64(s.CompletedCount) / float64(s.TotalCount) * 100))
	}
	return s
}

// Outcome is the result of Toggle.
type Outcome struct {
	TaskID    string
	Completed bool // new state of the toggled task
	Summary   Summary

	// Completion is set only on the toggle that first brings the quest to 100%.
	Completion *shared.QuestCompletedEvent
}

// Toggle flips a task's completion flag and recomputes progress.
func (q *Quest) Toggle(taskID string, at time.Time) (Outcome, error) {
	idx := -1
	for i := range q.Tasks {
		if q.Tasks[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Outcome{}, shared.WrapError("quest", "Toggle", shared.ErrNotFound,
			"task "+taskID+" not in quest "+q.ID, shared.ErrTaskNotFound)
	}

	q.Tasks[idx].Completed = !q.Tasks[idx].Completed
	q.UpdatedAt = at

	out := Outcome{
		TaskID:    taskID,
		Completed: q.Tasks[idx].Completed,
		Summary:   q.Summary(),
	}

	if out.Summary.Done() && !q.CompletionFired {
		q.CompletionFired = true
		completedAt := at
		q.CompletedAt = &completedAt
		ev := shared.NewQuestCompletedEvent(q.UserID, q.ID, out.Summary.EarnedXP, at)
		out.Completion = &ev
	}

	return out, nil
}

// Clone returns a deep copy.
func (q *Quest) Clone() *Quest {
	c := *q
	c.Tasks = make([]Task, len(q.Tasks))
	copy(c.Tasks, q.Tasks)
	if q.CompletedAt != nil {
		at := *q.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Repository persists quest instances with optimistic versioning.
type Repository interface {
	// Get returns a quest or an error matching shared.ErrNotFound.
	Get(ctx context.Context, questID string) (*Quest, error)

	// Save stores the quest if the stored version equals expectedVersion
	// (0 inserts). On success q.Version = expectedVersion+1.
	Save(ctx context.Context, q *Quest, expectedVersion int64) error

	// ListByUser returns a user's quests, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Quest, error)

	// CountCompleted returns the number of completed quests and completed tasks of a user.
	CountCompleted(ctx context.Context, userID string) (quests int, tasks int, err error)
}
