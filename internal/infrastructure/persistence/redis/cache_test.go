package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCache connects to LEARNQUEST_TEST_REDIS_ADDR or skips.
func testCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("LEARNQUEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEARNQUEST_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return NewCacheFromClient(client)
}

func TestKeys_ShareHashSlot(t *testing.T) {
	ranks, xp, meta := Keys(leaderboard.WindowWeek)
	assert.Equal(t, "learnquest:leaderboard:{week}:ranks", ranks)
	assert.Equal(t, "learnquest:leaderboard:{week}:xp", xp)
	assert.Equal(t, "learnquest:leaderboard:{week}:meta", meta)
}

func TestDecodeEntries(t *testing.T) {
	entries, err := decodeEntries(
		[]goredis.Z{{Score: 1, Member: "b"}, {Score: 2, Member: "a"}},
		map[string]string{"a": "10", "b": "30"},
	)
	require.NoError(t, err)
	assert.Equal(t, []leaderboard.Entry{{UserID: "b", XP: 30, Rank: 1}, {UserID: "a", XP: 10, Rank: 2}}, entries)

	_, err = decodeEntries([]goredis.Z{{Score: 1, Member: "a"}}, map[string]string{})
	assert.ErrorIs(t, err, ErrCacheSerialization)
}

func TestLeaderboardCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	lc := NewLeaderboardCache(testCache(t))

	_, err := lc.Get(ctx, leaderboard.WindowAllTime)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	entries, err := leaderboard.Rank([]leaderboard.Standing{{UserID: "a", XP: 5}, {UserID: "b", XP: 50}, {UserID: "c", XP: 5}})
	require.NoError(t, err)
	taken := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := leaderboard.NewSnapshot("s1", leaderboard.WindowAllTime, taken, entries)
	require.NoError(t, lc.Set(ctx, snap, time.Minute))

	got, err := lc.Get(ctx, leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, snap.Checksum, got.Checksum)
	assert.Equal(t, snap.Entries, got.Entries)
	assert.True(t, got.TakenAt.Equal(taken))

	require.NoError(t, lc.Invalidate(ctx, leaderboard.WindowAllTime))
	_, err = lc.Get(ctx, leaderboard.WindowAllTime)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTryLock(t *testing.T) {
	ctx := context.Background()
	c := testCache(t)

	lock, err := c.TryLock(ctx, "snapshot", time.Minute)
	require.NoError(t, err)

	_, err = c.TryLock(ctx, "snapshot", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release(ctx))
	again, err := c.TryLock(ctx, "snapshot", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
