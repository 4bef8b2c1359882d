package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
	"github.com/alem-hub/learnquest/internal/infrastructure/persistence/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 9, 14, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type countingChecker struct {
	calls []string
}

func (c *countingChecker) CheckAchievements(_ context.Context, userID string) ([]string, error) {
	c.calls = append(c.calls, userID)
	return nil, nil
}

// failingChecker grants partial unlocks, then fails.
type failingChecker struct {
	unlocked []string
	err      error
}

func (c *failingChecker) CheckAchievements(context.Context, string) ([]string, error) {
	return c.unlocked, c.err
}

type staticFlags map[string]bool

func (f staticFlags) IsEnabledFor(feature, _ string) bool {
	enabled, ok := f[feature]
	return !ok || enabled
}

type seqIDs struct{ n int }

func (g *seqIDs) GenerateID() string {
	g.n++
	return "id-" + string(rune('0'+g.n))
}

// conflictOnce fails the first Save with a version conflict.
type conflictOnce struct {
	progress.Repository
	failed bool
}

func (r *conflictOnce) Save(ctx context.Context, rec *progress.Record, expected int64, change *progress.Change) error {
	if !r.failed {
		r.failed = true
		return shared.ErrVersionConflict
	}
	return r.Repository.Save(ctx, rec, expected, change)
}

func newXPHandler(store *memory.Store, pub shared.EventPublisher) *command.ApplyXPHandler {
	return command.NewApplyXPHandler(store, progress.NewLedger(progress.DefaultCurve()), store, pub, &seqIDs{}, nil).
		WithClock(clock)
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLY XP
// ══════════════════════════════════════════════════════════════════════════════

func TestApplyXP_LevelUpAndEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	checker := &countingChecker{}
	h := newXPHandler(store, pub)
	h.SetAchievementChecker(checker)

	res, err := h.Handle(ctx, command.ApplyXPCommand{UserID: "u1", Delta: 250, Reason: progress.ReasonManual})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.OldXP)
	assert.Equal(t, int64(250), res.NewXP)
	assert.Equal(t, 2, res.Level)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, []shared.EventType{shared.EventXPChanged, shared.EventLevelUp}, pub.types())
	assert.Equal(t, []string{"u1"}, checker.calls)

	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), rec.XP)
	assert.Equal(t, 2, rec.Level)

	history, err := store.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "id-1", history[0].ID)
}

func TestApplyXP_InvalidDeltaLeavesRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := newXPHandler(store, pub)

	_, err := h.Handle(ctx, command.ApplyXPCommand{UserID: "u1", Delta: 40, Reason: progress.ReasonManual})
	require.NoError(t, err)

	_, err = h.Handle(ctx, command.ApplyXPCommand{UserID: "u1", Delta: -50, Reason: progress.ReasonManual})
	assert.ErrorIs(t, err, shared.ErrInvalidDelta)

	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), rec.XP)
	assert.Len(t, pub.types(), 1)
}

func TestApplyXP_ZeroDeltaIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	checker := &countingChecker{}
	h := newXPHandler(store, pub)
	h.SetAchievementChecker(checker)

	res, err := h.Handle(ctx, command.ApplyXPCommand{UserID: "u1", Delta: 0, Reason: progress.ReasonManual})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Level)
	assert.Empty(t, pub.types())
	assert.Empty(t, checker.calls)
}

func TestApplyXP_Validation(t *testing.T) {
	h := newXPHandler(memory.NewStore(), nil)

	_, err := h.Handle(context.Background(), command.ApplyXPCommand{UserID: "", Delta: 5, Reason: progress.ReasonManual})
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	_, err = h.Handle(context.Background(), command.ApplyXPCommand{UserID: "u1", Delta: 5, Reason: "bribe"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestApplyXP_RetriesVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := &conflictOnce{Repository: store}
	h := command.NewApplyXPHandler(repo, progress.NewLedger(progress.DefaultCurve()), store, nil, nil, nil)

	res, err := h.Handle(ctx, command.ApplyXPCommand{UserID: "u1", Delta: 70, Reason: progress.ReasonQuest})
	require.NoError(t, err)
	assert.True(t, repo.failed)
	assert.Equal(t, int64(70), res.NewXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordActivity_Sequence(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	h := command.NewRecordActivityHandler(store.Streaks(), store, pub, nil, nil, nil, command.RecordActivityHandlerConfig{})

	var current []int
	for _, offset := range []int{0, 0, 1, 3} {
		res, err := h.Handle(ctx, command.RecordActivityCommand{UserID: "u1", At: fixedNow.AddDate(0, 0, offset)})
		require.NoError(t, err)
		current = append(current, res.Current)
	}
	assert.Equal(t, []int{1, 1, 2, 1}, current)
	assert.Equal(t, []shared.EventType{shared.EventStreakUpdated, shared.EventStreakUpdated, shared.EventStreakBroken}, pub.types())

	st, err := store.Streaks().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Best)
	assert.Equal(t, int64(3), st.Version)
}

func TestRecordActivity_OutOfOrderRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	h := command.NewRecordActivityHandler(store.Streaks(), store, nil, nil, nil, nil, command.RecordActivityHandlerConfig{})

	_, err := h.Handle(ctx, command.RecordActivityCommand{UserID: "u1", At: fixedNow})
	require.NoError(t, err)
	_, err = h.Handle(ctx, command.RecordActivityCommand{UserID: "u1", At: fixedNow.AddDate(0, 0, -2)})
	assert.ErrorIs(t, err, shared.ErrOutOfOrderActivity)
}

func TestRecordActivity_TrackingDisabled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	flags := staticFlags{command.FeatureStreakTracking: false}
	h := command.NewRecordActivityHandler(store.Streaks(), store, nil, nil, flags, nil, command.RecordActivityHandlerConfig{})

	res, err := h.Handle(ctx, command.RecordActivityCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Tracking)
	assert.Equal(t, streak.OutcomeUnchanged, res.Outcome)

	_, err = store.Streaks().Get(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestStartQuest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	h := command.NewStartQuestHandler(quest.DefaultTemplates(), store.Quests(), nil, nil)

	q, err := h.Handle(ctx, command.StartQuestCommand{UserID: "u1", TemplateID: "ml-101"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Version)
	assert.Len(t, q.Tasks, 3)

	_, err = h.Handle(ctx, command.StartQuestCommand{UserID: "u1", TemplateID: "nope"})
	assert.ErrorIs(t, err, shared.ErrTemplateNotFound)
}

func TestToggleTask_CompletionGrantsXPOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	checker := &countingChecker{}
	xp := newXPHandler(store, pub)

	start := command.NewStartQuestHandler(quest.DefaultTemplates(), store.Quests(), nil, nil)
	q, err := start.Handle(ctx, command.StartQuestCommand{UserID: "u1", TemplateID: "python-fundamentals"})
	require.NoError(t, err)

	toggle := command.NewToggleTaskHandler(store.Quests(), xp, store, pub, checker, nil, nil).WithClock(clock)

	var completions int
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		res, err := toggle.Handle(ctx, command.ToggleTaskCommand{QuestID: q.ID, TaskID: id})
		require.NoError(t, err)
		if res.QuestCompleted {
			completions++
			assert.Equal(t, int64(550), res.XPGranted)
			assert.Equal(t, 100, res.Summary.ProgressPercent)
		}
	}
	assert.Equal(t, 1, completions)
	assert.Len(t, checker.calls, 5)

	// Un-complete and complete again: no second grant.
	res, err := toggle.Handle(ctx, command.ToggleTaskCommand{QuestID: q.ID, TaskID: "5"})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	res, err = toggle.Handle(ctx, command.ToggleTaskCommand{QuestID: q.ID, TaskID: "5"})
	require.NoError(t, err)
	assert.False(t, res.QuestCompleted)
	assert.Equal(t, int64(0), res.XPGranted)

	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(550), rec.XP)
	assert.Equal(t, 3, rec.Level)

	assert.Equal(t, []shared.EventType{shared.EventQuestCompleted, shared.EventXPChanged, shared.EventLevelUp}, pub.types())
}

func TestToggleTask_CompletionXPDisabled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	flags := staticFlags{command.FeatureQuestCompletionXP: false}

	start := command.NewStartQuestHandler(quest.DefaultTemplates(), store.Quests(), nil, nil)
	q, err := start.Handle(ctx, command.StartQuestCommand{UserID: "u1", TemplateID: "ui-ux-basics"})
	require.NoError(t, err)

	toggle := command.NewToggleTaskHandler(store.Quests(), newXPHandler(store, nil), store, nil, nil, flags, nil)
	for _, id := range []string{"1", "2", "3"} {
		_, err := toggle.Handle(ctx, command.ToggleTaskCommand{QuestID: q.ID, TaskID: id})
		require.NoError(t, err)
	}

	_, err = store.Get(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestToggleTask_UnknownTaskRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	start := command.NewStartQuestHandler(quest.DefaultTemplates(), store.Quests(), nil, nil)
	q, err := start.Handle(ctx, command.StartQuestCommand{UserID: "u1", TemplateID: "ui-ux-basics"})
	require.NoError(t, err)

	toggle := command.NewToggleTaskHandler(store.Quests(), newXPHandler(store, nil), store, nil, nil, nil, nil)
	_, err = toggle.Handle(ctx, command.ToggleTaskCommand{QuestID: q.ID, TaskID: "42"})
	assert.ErrorIs(t, err, shared.ErrTaskNotFound)

	_, err = toggle.Handle(ctx, command.ToggleTaskCommand{QuestID: "missing", TaskID: "1"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT CHECK AFTER COMMIT
// ══════════════════════════════════════════════════════════════════════════════

func TestApplyXP_CheckerFailureKeepsCommittedWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	h := newXPHandler(store, nil)
	h.SetAchievementChecker(&failingChecker{unlocked: []string{"first_steps"}, err: errors.New("unlocks unavailable")})

	res, err := h.Handle(ctx, command.ApplyXPCommand{UserID: "u1", Delta: 100, Reason: progress.ReasonManual})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.NewXP)
	assert.Equal(t, []string{"first_steps"}, res.Unlocked)

	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.XP)
}

func TestToggleTask_CheckerFailureKeepsToggle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	start := command.NewStartQuestHandler(quest.DefaultTemplates(), store.Quests(), nil, nil)
	q, err := start.Handle(ctx, command.StartQuestCommand{UserID: "u1", TemplateID: "ui-ux-basics"})
	require.NoError(t, err)

	checker := &failingChecker{err: shared.ErrUnlockEvaluationOverflow}
	toggle := command.NewToggleTaskHandler(store.Quests(), newXPHandler(store, nil), store, nil, checker, nil, nil)

	res, err := toggle.Handle(ctx, command.ToggleTaskCommand{QuestID: q.ID, TaskID: "1"})
	require.NoError(t, err)
	assert.True(t, res.Completed)

	stored, err := store.Quests().Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", stored.Tasks[0].ID)
	assert.True(t, stored.Tasks[0].Completed)
}

func TestRecordActivity_CheckerFailureKeepsStreak(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	checker := &failingChecker{err: errors.New("unlocks unavailable")}
	h := command.NewRecordActivityHandler(store.Streaks(), store, nil, checker, nil, nil, command.RecordActivityHandlerConfig{})

	res, err := h.Handle(ctx, command.RecordActivityCommand{UserID: "u1", At: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Current)

	st, err := store.Streaks().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Current)
}
