package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestProgress_VersionedSave(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Get(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	rec := progress.NewRecord("u1")
	rec.XP = 100
	require.NoError(t, s.Save(ctx, &rec, 0, nil))
	assert.Equal(t, int64(1), rec.Version)

	stale := progress.NewRecord("u1")
	err = s.Save(ctx, &stale, 0, nil)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)

	rec.XP = 150
	require.NoError(t, s.Save(ctx, &rec, 1, nil))
	err = s.Save(ctx, &rec, 1, nil)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.XP)
	assert.Equal(t, int64(2), got.Version)
}

func TestProgress_HistoryAndSums(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	rec := progress.NewRecord("u1")
	deltas := []int64{100, -30, 50}
	for i, d := range deltas {
		old := rec.XP
		rec.XP += d
		change := &progress.Change{ID: string(rune('a' + i)), UserID: "u1", Delta: d, OldXP: old, NewXP: rec.XP, At: t0.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.Save(ctx, &rec, rec.Version, change))
	}

	history, err := s.History(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c", history[0].ID)
	assert.Equal(t, "b", history[1].ID)

	sum, err := s.SumGainedSince(ctx, "u1", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(50), sum)

	since := t0
	standings, err := s.Standings(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, []leaderboard.Standing{{UserID: "u1", XP: 150}}, standings)

	standings, err = s.Standings(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []leaderboard.Standing{{UserID: "u1", XP: 120}}, standings)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		rec := progress.NewRecord("u1")
		rec.XP = 500
		require.NoError(t, s.Save(ctx, &rec, 0, nil))
		_, err := s.Record(ctx, achievement.Unlock{ID: "x", UserID: "u1", AchievementID: "first_steps", EarnedAt: t0})
		require.NoError(t, err)

		// Nested call joins the outer transaction.
		return s.RunInTx(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	unlocks, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, unlocks)
}

func TestRunInTx_SerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunInTx(ctx, func(ctx context.Context) error {
				rec, err := s.Get(ctx, "u1")
				if errors.Is(err, shared.ErrNotFound) {
					fresh := progress.NewRecord("u1")
					rec = &fresh
				}
				expected := rec.Version
				rec.XP += 10
				return s.Save(ctx, rec, expected, nil)
			})
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.XP)
}

func TestUnlocks_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	inserted, err := s.Record(ctx, achievement.Unlock{ID: "1", UserID: "u1", AchievementID: "a", EarnedAt: t0})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Record(ctx, achievement.Unlock{ID: "2", UserID: "u1", AchievementID: "a", EarnedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, inserted)

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].ID)
}

func TestStreaks(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Streaks()

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	st := streak.New("u1")
	_, err = st.RecordActivity(t0, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, st, 0))
	assert.ErrorIs(t, repo.Save(ctx, st, 0), shared.ErrConcurrentModification)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Current)
}

func TestQuests_CloneOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Quests()

	tmpl, err := quest.DefaultTemplates().Get("ui-ux-basics")
	require.NoError(t, err)
	q, err := tmpl.Instantiate("q1", "u1", t0)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, q, 0))

	// Mutating the caller's copy must not leak into the store.
	_, err = q.Toggle("1", t0)
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, stored.Tasks[0].Completed)

	for _, id := range []string{"1", "2", "3"} {
		_, err := stored.Toggle(id, t0)
		require.NoError(t, err)
	}
	require.NoError(t, repo.Save(ctx, stored, stored.Version))

	quests, tasks, err := repo.CountCompleted(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, quests)
	assert.Equal(t, 3, tasks)

	list, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSnapshots_LatestPreviousPrune(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Snapshots()

	_, err := repo.Latest(ctx, leaderboard.WindowAllTime)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	for i := 0; i < 4; i++ {
		entries, err := leaderboard.Rank([]leaderboard.Standing{{UserID: "u1", XP: int64(i * 10)}})
		require.NoError(t, err)
		snap := leaderboard.NewSnapshot(string(rune('a'+i)), leaderboard.WindowAllTime, t0.Add(time.Duration(i)*time.Minute), entries)
		require.NoError(t, repo.Save(ctx, snap))
	}

	latest, err := repo.Latest(ctx, leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, "d", latest.ID)
	prev, err := repo.Previous(ctx, leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, "c", prev.ID)

	removed, err := repo.Prune(ctx, leaderboard.WindowAllTime, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = repo.Latest(ctx, leaderboard.WindowWeek)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
