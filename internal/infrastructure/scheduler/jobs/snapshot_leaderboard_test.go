package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

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

type stubLocker struct {
	acquired bool
	released int
}

func (l *stubLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

type stubCache struct {
	mu          sync.Mutex
	setErr      error
	set         map[leaderboard.Window]string
	invalidated []leaderboard.Window
}

func (c *stubCache) Get(context.Context, leaderboard.Window) (*leaderboard.Snapshot, error) {
	return nil, shared.ErrNotFound
}

func (c *stubCache) Set(_ context.Context, s *leaderboard.Snapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	if c.set == nil {
		c.set = make(map[leaderboard.Window]string)
	}
	c.set[s.Window] = s.ID
	return nil
}

func (c *stubCache) Invalidate(_ context.Context, w leaderboard.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, w)
	return nil
}

type failingPopulation struct{}

func (failingPopulation) Standings(context.Context, *time.Time) ([]leaderboard.Standing, error) {
	return nil, errors.New("db down")
}

func ids() func() string {
	var n int
	return func() string { n++; return fmt.Sprintf("snap-%d", n) }
}

func grant(t *testing.T, store *memory.Store, userID string, delta int64) {
	t.Helper()
	ctx := context.Background()

	rec := progress.NewRecord(userID)
	if cur, err := store.Get(ctx, userID); err == nil {
		rec = *cur
	}
	expected := rec.Version
	old := rec.XP
	rec.XP += delta
	rec.UpdatedAt = now
	require.NoError(t, store.Save(ctx, &rec, expected, &progress.Change{
		ID: userID + fmt.Sprint(rec.XP), UserID: userID, Delta: delta,
		OldXP: old, NewXP: rec.XP, Reason: progress.ReasonManual, At: now,
	}))
}

func newJob(t *testing.T, store *memory.Store, pub shared.EventPublisher, locker Locker) *SnapshotLeaderboardJob {
	t.Helper()
	job, err := NewSnapshotLeaderboardJob(SnapshotLeaderboardDeps{
		Population: store,
		Snapshots:  store.Snapshots(),
		Publisher:  pub,
		Locker:     locker,
		NewID:      ids(),
	}, DefaultSnapshotLeaderboardConfig())
	require.NoError(t, err)
	return job.WithClock(func() time.Time { return now })
}

func TestSnapshotLeaderboard_StoresAndSkipsUnchanged(t *testing.T) {
	store := memory.NewStore()
	grant(t, store, "a", 300)
	grant(t, store, "b", 200)
	grant(t, store, "c", 100)

	pub := &recordingPublisher{}
	job := newJob(t, store, pub, nil)
	ctx := context.Background()

	stats, err := job.Execute(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Windows, 3)
	for _, w := range stats.Windows {
		assert.False(t, w.Unchanged, w.Window)
		assert.Equal(t, 3, w.Entries, w.Window)
	}
	// Only all-time moves are announced; on the first run everyone enters.
	require.Len(t, pub.events, 3)
	for _, e := range pub.events {
		rc := e.(shared.RankChangedEvent)
		assert.Equal(t, 0, rc.OldRank)
		assert.True(t, rc.MovedUp())
	}

	latest, err := store.Snapshots().Latest(ctx, leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, "a", latest.Entries[0].UserID)

	stats, err = job.Execute(ctx)
	require.NoError(t, err)
	for _, w := range stats.Windows {
		assert.True(t, w.Unchanged, w.Window)
	}
	assert.Same(t, stats, job.LastStats())
}

func TestSnapshotLeaderboard_PublishesAllTimeMoves(t *testing.T) {
	store := memory.NewStore()
	grant(t, store, "a", 300)
	grant(t, store, "b", 200)

	pub := &recordingPublisher{}
	job := newJob(t, store, pub, nil)
	ctx := context.Background()

	_, err := job.Execute(ctx)
	require.NoError(t, err)
	pub.events = nil

	grant(t, store, "b", 250)

	stats, err := job.Execute(ctx)
	require.NoError(t, err)

	var allTime WindowResult
	for _, w := range stats.Windows {
		if w.Window == leaderboard.WindowAllTime {
			allTime = w
		}
	}
	assert.Equal(t, 2, allTime.Moves)

	require.Len(t, pub.events, 2)
	moved := map[string]shared.RankChangedEvent{}
	for _, e := range pub.events {
		rc, ok := e.(shared.RankChangedEvent)
		require.True(t, ok)
		assert.Equal(t, "all_time", rc.Window)
		moved[rc.AggregateID()] = rc
	}
	assert.True(t, moved["b"].MovedUp())
	assert.Equal(t, 2, moved["b"].OldRank)
	assert.Equal(t, 1, moved["b"].NewRank)
	assert.False(t, moved["a"].MovedUp())

	prev, err := store.Snapshots().Previous(ctx, leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, "a", prev.Entries[0].UserID)
}

func TestSnapshotLeaderboard_PublishesEntrants(t *testing.T) {
	store := memory.NewStore()
	grant(t, store, "a", 300)

	pub := &recordingPublisher{}
	job := newJob(t, store, pub, nil)
	ctx := context.Background()

	_, err := job.Execute(ctx)
	require.NoError(t, err)
	pub.events = nil

	grant(t, store, "z", 9000)

	_, err = job.Execute(ctx)
	require.NoError(t, err)

	moved := map[string]shared.RankChangedEvent{}
	for _, e := range pub.events {
		rc := e.(shared.RankChangedEvent)
		moved[rc.AggregateID()] = rc
	}
	require.Len(t, moved, 2)
	assert.Equal(t, 0, moved["z"].OldRank)
	assert.Equal(t, 1, moved["z"].NewRank)
	assert.True(t, moved["z"].MovedUp())
	assert.Equal(t, 1, moved["a"].OldRank)
	assert.Equal(t, 2, moved["a"].NewRank)
}

func newCachedJob(t *testing.T, store *memory.Store, cache leaderboard.SnapshotCache) *SnapshotLeaderboardJob {
	t.Helper()
	job, err := NewSnapshotLeaderboardJob(SnapshotLeaderboardDeps{
		Population: store,
		Snapshots:  store.Snapshots(),
		Cache:      cache,
		NewID:      ids(),
	}, DefaultSnapshotLeaderboardConfig())
	require.NoError(t, err)
	return job.WithClock(func() time.Time { return now })
}

func TestSnapshotLeaderboard_RefreshesCache(t *testing.T) {
	store := memory.NewStore()
	grant(t, store, "a", 100)
	cache := &stubCache{}

	stats, err := newCachedJob(t, store, cache).Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, cache.set, 3)
	for _, w := range stats.Windows {
		assert.Equal(t, w.SnapshotID, cache.set[w.Window], w.Window)
	}
	assert.Empty(t, cache.invalidated)
}

func TestSnapshotLeaderboard_InvalidatesCacheWhenRefreshFails(t *testing.T) {
	store := memory.NewStore()
	grant(t, store, "a", 100)
	cache := &stubCache{setErr: errors.New("redis down")}

	_, err := newCachedJob(t, store, cache).Execute(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, leaderboard.AllWindows(), cache.invalidated)

	// The snapshot itself is stored regardless of the cache.
	_, err = store.Snapshots().Latest(context.Background(), leaderboard.WindowAllTime)
	require.NoError(t, err)
}

func TestSnapshotLeaderboard_LockHeldSkips(t *testing.T) {
	store := memory.NewStore()
	grant(t, store, "a", 100)

	job := newJob(t, store, nil, &stubLocker{acquired: false})
	stats, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Skipped)

	_, err = store.Snapshots().Latest(context.Background(), leaderboard.WindowAllTime)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSnapshotLeaderboard_ReleasesLock(t *testing.T) {
	store := memory.NewStore()
	locker := &stubLocker{acquired: true}

	job := newJob(t, store, nil, locker)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, locker.released)
}

func TestSnapshotLeaderboard_JoinsWindowErrors(t *testing.T) {
	store := memory.NewStore()
	job, err := NewSnapshotLeaderboardJob(SnapshotLeaderboardDeps{
		Population: failingPopulation{},
		Snapshots:  store.Snapshots(),
		NewID:      ids(),
	}, SnapshotLeaderboardConfig{Windows: []leaderboard.Window{leaderboard.WindowWeek, leaderboard.WindowMonth}})
	require.NoError(t, err)

	_, err = job.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window week")
	assert.Contains(t, err.Error(), "window month")
}

func TestNewSnapshotLeaderboardJob_RequiresDeps(t *testing.T) {
	_, err := NewSnapshotLeaderboardJob(SnapshotLeaderboardDeps{}, DefaultSnapshotLeaderboardConfig())
	assert.Error(t, err)
}
