package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// Хранит последний снапшот каждого окна:
//   - Sorted Set "…:{window}:ranks"  userID -> rank (score)
//   - Hash       "…:{window}:xp"     userID -> XP
//   - String     "…:{window}:meta"   JSON: id, taken_at, checksum, count
//
// Все три ключа пишутся одной MULTI-транзакцией. Hash tag {window}
// держит их в одном слоте Redis Cluster.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache implements leaderboard.SnapshotCache.
type LeaderboardCache struct {
	client redis.UniversalClient
}

var _ leaderboard.SnapshotCache = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a new LeaderboardCache.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{client: cache.Client()}
}

type snapshotMeta struct {
	ID       string    `json:"id"`
	Window   string    `json:"window"`
	TakenAt  time.Time `json:"taken_at"`
	Checksum string    `json:"checksum"`
	Count    int       `json:"count"`
}

// Keys returns the ranks, xp and meta keys of a window.
func Keys(w leaderboard.Window) (ranks, xp, meta string) {
	base := PrefixLeaderboard + "{" + string(w) + "}:"
	return base + "ranks", base + "xp", base + "meta"
}

// Set replaces the cached snapshot of s.Window.
func (l *LeaderboardCache) Set(ctx context.Context, s *leaderboard.Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}
	ranksKey, xpKey, metaKey := Keys(s.Window)

	meta, err := json.Marshal(snapshotMeta{
		ID:       s.ID,
		Window:   string(s.Window),
		TakenAt:  s.TakenAt,
		Checksum: s.Checksum,
		Count:    len(s.Entries),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ranksKey, xpKey, metaKey)
		if len(s.Entries) > 0 {
			members := make([]redis.Z, 0, len(s.Entries))
			xp := make(map[string]interface{}, len(s.Entries))
			for _, e := range s.Entries {
				members = append(members, redis.Z{Score: float64(e.Rank), Member: e.UserID})
				xp[e.UserID] = e.XP
			}
			pipe.ZAdd(ctx, ranksKey, members...)
			pipe.HSet(ctx, xpKey, xp)
			pipe.Expire(ctx, ranksKey, ttl)
			pipe.Expire(ctx, xpKey, ttl)
		}
		pipe.Set(ctx, metaKey, meta, ttl)
		return nil
	})
	return err
}

// Get returns the cached snapshot or an error matching shared.ErrNotFound.
// A snapshot whose checksum no longer matches is treated as a miss.
func (l *LeaderboardCache) Get(ctx context.Context, w leaderboard.Window) (*leaderboard.Snapshot, error) {
	ranksKey, xpKey, metaKey := Keys(w)

	var (
		metaCmd  *redis.StringCmd
		ranksCmd *redis.ZSliceCmd
		xpCmd    *redis.MapStringStringCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.Get(ctx, metaKey)
		ranksCmd = pipe.ZRangeWithScores(ctx, ranksKey, 0, -1)
		xpCmd = pipe.HGetAll(ctx, xpKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	raw, err := metaCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.WrapError("leaderboard", "CacheGet", shared.ErrNotFound, "cache miss", ErrCacheMiss)
	}
	if err != nil {
		return nil, err
	}
	var meta snapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	entries, err := decodeEntries(ranksCmd.Val(), xpCmd.Val())
	if err != nil {
		return nil, err
	}

	snap := leaderboard.NewSnapshot(meta.ID, leaderboard.Window(meta.Window), meta.TakenAt, entries)
	snap.Checksum = meta.Checksum
	if len(entries) != meta.Count {
		return nil, shared.NewDomainError("leaderboard", "CacheGet", shared.ErrNotFound, "cached snapshot is incomplete")
	}
	if err := snap.Verify(); err != nil {
		return nil, shared.WrapError("leaderboard", "CacheGet", shared.ErrNotFound, "cached snapshot is corrupt", err)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot of a window.
func (l *LeaderboardCache) Invalidate(ctx context.Context, w leaderboard.Window) error {
	ranksKey, xpKey, metaKey := Keys(w)
	return l.client.Del(ctx, ranksKey, xpKey, metaKey).Err()
}

// decodeEntries joins the rank set (already ordered by rank) with the XP hash.
func decodeEntries(ranks []redis.Z, xp map[string]string) ([]leaderboard.Entry, error) {
	entries := make([]leaderboard.Entry, 0, len(ranks))
	for _, z := range ranks {
		userID, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("%w: member %v", ErrCacheSerialization, z.Member)
		}
		v, err := strconv.ParseInt(xp[userID], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: xp of %s: %v", ErrCacheSerialization, userID, err)
		}
		entries = append(entries, leaderboard.Entry{UserID: userID, XP: v, Rank: int(z.Score)})
	}
	return entries, nil
}
