package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/infrastructure/persistence/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

// cascadeCatalog: unlocking "a" grants enough XP to unlock "b".
func cascadeCatalog() *achievement.Catalog {
	return achievement.MustCatalog(
		achievement.Definition{ID: "a", Name: "A", XPReward: 100, Rarity: achievement.RarityCommon,
			Criterion: achievement.Criterion{Kind: achievement.CriterionXPTotal, Threshold: 100}},
		achievement.Definition{ID: "b", Name: "B", XPReward: 50, Rarity: achievement.RarityRare,
			Criterion: achievement.Criterion{Kind: achievement.CriterionXPTotal, Threshold: 200}},
	)
}

type events struct {
	mu   sync.Mutex
	list []shared.Event
}

func (e *events) Publish(_ context.Context, ev shared.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
	return nil
}

func (e *events) count(t shared.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.list {
		if ev.EventType() == t {
			n++
		}
	}
	return n
}

type flags map[string]bool

func (f flags) IsEnabledFor(feature, _ string) bool {
	v, ok := f[feature]
	return !ok || v
}

type fixture struct {
	store *memory.Store
	xp    *command.ApplyXPHandler
	saga  *AchievementFlowSaga
	pub   *events
}

func newFixture(t *testing.T, catalog *achievement.Catalog, maxPasses int, gate command.FeatureGate) *fixture {
	t.Helper()
	store := memory.NewStore()
	pub := &events{}
	xp := command.NewApplyXPHandler(store, progress.NewLedger(progress.DefaultCurve()), store, pub, nil, nil).
		WithClock(func() time.Time { return at })

	s, err := NewAchievementFlowSaga(AchievementFlowDeps{
		Catalog:   catalog,
		Progress:  store,
		Streaks:   store.Streaks(),
		Quests:    store.Quests(),
		Unlocks:   store,
		Snapshots: store.Snapshots(),
		XP:        xp,
		Tx:        store,
		Publisher: pub,
		Flags:     gate,
	}, AchievementFlowConfig{MaxPasses: maxPasses})
	require.NoError(t, err)
	s.WithClock(func() time.Time { return at })

	return &fixture{store: store, xp: xp, saga: s, pub: pub}
}

func (f *fixture) seedXP(t *testing.T, userID string, xp int64) {
	t.Helper()
	_, err := f.xp.Handle(context.Background(), command.ApplyXPCommand{UserID: userID, Delta: xp, Reason: progress.ReasonManual})
	require.NoError(t, err)
}

func (f *fixture) xpOf(t *testing.T, userID string) int64 {
	t.Helper()
	rec, err := f.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return rec.XP
}

func TestExecute_CascadesToFixedPoint(t *testing.T) {
	f := newFixture(t, cascadeCatalog(), DefaultMaxPasses, nil)
	f.seedXP(t, "u1", 100)

	res, err := f.saga.Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Unlocked)
	assert.Equal(t, int64(150), res.TotalXPBonus)
	assert.Equal(t, 3, res.Passes)
	assert.Equal(t, int64(250), f.xpOf(t, "u1"))
	assert.Equal(t, 2, f.pub.count(shared.EventAchievementUnlocked))

	// Idempotent: a second run unlocks nothing.
	res, err = f.saga.Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.HasNewAchievements())
	assert.Equal(t, int64(250), f.xpOf(t, "u1"))
}

func TestExecute_OverflowReportsError(t *testing.T) {
	f := newFixture(t, cascadeCatalog(), 1, nil)
	f.seedXP(t, "u1", 100)

	res, err := f.saga.Execute(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrUnlockEvaluationOverflow)
	require.NotNil(t, res)
	assert.Equal(t, []string{"a"}, res.Unlocked)

	unlocks, err := f.store.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, unlocks, 1)
}

func TestExecute_ConcurrentRunsGrantOnce(t *testing.T) {
	f := newFixture(t, cascadeCatalog(), DefaultMaxPasses, nil)
	f.seedXP(t, "u1", 100)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.saga.Execute(context.Background(), "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(250), f.xpOf(t, "u1"))
	unlocks, err := f.store.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, unlocks, 2)
	assert.Equal(t, 2, f.pub.count(shared.EventAchievementUnlocked))
}

func TestExecute_RewardsDisabled(t *testing.T) {
	f := newFixture(t, cascadeCatalog(), DefaultMaxPasses, flags{command.FeatureAchievementXPRewards: false})
	f.seedXP(t, "u1", 100)

	res, err := f.saga.Execute(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Unlocked)
	assert.Equal(t, int64(0), res.TotalXPBonus)
	assert.Equal(t, int64(100), f.xpOf(t, "u1"))
}

func TestApplyXP_TriggersSagaThroughChecker(t *testing.T) {
	f := newFixture(t, cascadeCatalog(), DefaultMaxPasses, nil)
	f.xp.SetAchievementChecker(f.saga)

	res, err := f.xp.Handle(context.Background(), command.ApplyXPCommand{UserID: "u1", Delta: 120, Reason: progress.ReasonQuest})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Unlocked)
	assert.Equal(t, int64(270), f.xpOf(t, "u1"))
}

func TestBuildSnapshot_UsesLeaderboardRank(t *testing.T) {
	catalog := achievement.MustCatalog(achievement.Definition{
		ID: "top", Name: "Top", Rarity: achievement.RarityEpic,
		Criterion: achievement.Criterion{Kind: achievement.CriterionLeaderboardRank, Threshold: 2},
	})
	f := newFixture(t, catalog, DefaultMaxPasses, nil)
	ctx := context.Background()

	snap, err := f.saga.BuildSnapshot(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, snap.Rank.IsUnranked())
	assert.Equal(t, 1, snap.Level)

	entries, err := leaderboard.Rank([]leaderboard.Standing{{UserID: "u1", XP: 900}, {UserID: "u2", XP: 500}, {UserID: "u3", XP: 10}})
	require.NoError(t, err)
	require.NoError(t, f.store.Snapshots().Save(ctx, leaderboard.NewSnapshot("s1", leaderboard.WindowAllTime, at, entries)))

	res, err := f.saga.Execute(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"top"}, res.Unlocked)

	res, err = f.saga.Execute(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
}

func TestNewAchievementFlowSaga_RequiresDeps(t *testing.T) {
	_, err := NewAchievementFlowSaga(AchievementFlowDeps{}, DefaultAchievementFlowConfig())
	assert.Error(t, err)
}
