package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Get implements progress.Repository.
func (s *Store) Get(ctx context.Context, userID string) (*progress.Record, error) {
	var out *progress.Record
	err := s.read(ctx, func(st *state) error {
		rec, ok := st.progress[userID]
		if !ok {
			return shared.ErrProgressNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

// Save implements progress.Repository.
func (s *Store) Save(ctx context.Context, rec *progress.Record, expectedVersion int64, change *progress.Change) error {
	return s.write(ctx, func(st *state) error {
		cur, exists := st.progress[rec.UserID]
		if expectedVersion == 0 && exists || expectedVersion != 0 && (!exists || cur.Version != expectedVersion) {
			return shared.ErrVersionConflict
		}
		saved := *rec
		saved.Version = expectedVersion + 1
		st.progress[rec.UserID] = saved
		if change != nil {
			st.changes = append(st.changes, *change)
		}
		rec.Version = saved.Version
		return nil
	})
}

// SumGainedSince implements progress.Repository.
func (s *Store) SumGainedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var sum int64
	err := s.read(ctx, func(st *state) error {
		for _, c := range st.changes {
			if c.UserID == userID && c.Delta > 0 && !c.At.Before(since) {
				sum += c.Delta
			}
		}
		return nil
	})
	return sum, err
}

// History implements progress.Repository.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]progress.Change, error) {
	var out []progress.Change
	err := s.read(ctx, func(st *state) error {
		for i := len(st.changes) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
			if st.changes[i].UserID == userID {
				out = append(out, st.changes[i])
			}
		}
		return nil
	})
	return out, err
}

// Standings implements leaderboard.PopulationSource.
func (s *Store) Standings(ctx context.Context, since *time.Time) ([]leaderboard.Standing, error) {
	var out []leaderboard.Standing
	err := s.read(ctx, func(st *state) error {
		if since == nil {
			for id, rec := range st.progress {
				out = append(out, leaderboard.Standing{UserID: id, XP: rec.XP})
			}
		} else {
			gained := make(map[string]int64)
			for _, c := range st.changes {
				if c.Delta > 0 && !c.At.Before(*since) {
					gained[c.UserID] += c.Delta
				}
			}
			for id, xp := range gained {
				out = append(out, leaderboard.Standing{UserID: id, XP: xp})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streaks returns a streak.Repository view of the store.
func (s *Store) Streaks() streak.Repository {
	return streakRepo{s}
}

type streakRepo struct{ s *Store }

func (r streakRepo) Get(ctx context.Context, userID string) (*streak.Streak, error) {
	var out *streak.Streak
	err := r.s.read(ctx, func(st *state) error {
		v, ok := st.streaks[userID]
		if !ok {
			return shared.NewDomainError("streak", "Get", shared.ErrNotFound, "streak not found")
		}
		out = &v
		return nil
	})
	return out, err
}

func (r streakRepo) Save(ctx context.Context, v *streak.Streak, expectedVersion int64) error {
	return r.s.write(ctx, func(st *state) error {
		cur, exists := st.streaks[v.UserID]
		if expectedVersion == 0 && exists || expectedVersion != 0 && (!exists || cur.Version != expectedVersion) {
			return shared.ErrStreakConflict
		}
		saved := *v
		saved.Version = expectedVersion + 1
		st.streaks[v.UserID] = saved
		v.Version = saved.Version
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// QUEST
// ══════════════════════════════════════════════════════════════════════════════

// Quests returns a quest.Repository view of the store.
func (s *Store) Quests() quest.Repository {
	return questRepo{s}
}

type questRepo struct{ s *Store }

func (r questRepo) Get(ctx context.Context, questID string) (*quest.Quest, error) {
	var out *quest.Quest
	err := r.s.read(ctx, func(st *state) error {
		q, ok := st.quests[questID]
		if !ok {
			return shared.ErrQuestNotFound
		}
		out = q.Clone()
		return nil
	})
	return out, err
}

func (r questRepo) Save(ctx context.Context, q *quest.Quest, expectedVersion int64) error {
	return r.s.write(ctx, func(st *state) error {
		cur, exists := st.quests[q.ID]
		if expectedVersion == 0 && exists || expectedVersion != 0 && (!exists || cur.Version != expectedVersion) {
			return shared.ErrQuestConflict
		}
		saved := q.Clone()
		saved.Version = expectedVersion + 1
		st.quests[q.ID] = saved
		q.Version = saved.Version
		return nil
	})
}

func (r questRepo) ListByUser(ctx context.Context, userID string) ([]*quest.Quest, error) {
	var out []*quest.Quest
	err := r.s.read(ctx, func(st *state) error {
		for _, q := range st.quests {
			if q.UserID == userID {
				out = append(out, q.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r questRepo) CountCompleted(ctx context.Context, userID string) (int, int, error) {
	var quests, tasks int
	err := r.s.read(ctx, func(st *state) error {
		for _, q := range st.quests {
			if q.UserID != userID {
				continue
			}
			if q.CompletionFired {
				quests++
			}
			for _, t := range q.Tasks {
				if t.Completed {
					tasks++
				}
			}
		}
		return nil
	})
	return quests, tasks, err
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT UNLOCKS
// ══════════════════════════════════════════════════════════════════════════════

// Record implements achievement.UnlockRepository.
func (s *Store) Record(ctx context.Context, u achievement.Unlock) (bool, error) {
	inserted := false
	err := s.write(ctx, func(st *state) error {
		for _, existing := range st.unlocks[u.UserID] {
			if existing.AchievementID == u.AchievementID {
				return nil
			}
		}
		st.unlocks[u.UserID] = append(st.unlocks[u.UserID], u)
		inserted = true
		return nil
	})
	return inserted, err
}

// ListByUser implements achievement.UnlockRepository.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	var out []achievement.Unlock
	err := s.read(ctx, func(st *state) error {
		out = append(out, st.unlocks[userID]...)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// Snapshots returns a leaderboard.SnapshotRepository view of the store.
func (s *Store) Snapshots() leaderboard.SnapshotRepository {
	return snapshotRepo{s}
}

type snapshotRepo struct{ s *Store }

func (r snapshotRepo) Save(ctx context.Context, snap *leaderboard.Snapshot) error {
	stored := leaderboard.NewSnapshot(snap.ID, snap.Window, snap.TakenAt, snap.Entries)
	return r.s.write(ctx, func(st *state) error {
		st.snapshots[snap.Window] = append(st.snapshots[snap.Window], stored)
		return nil
	})
}

func (r snapshotRepo) Latest(ctx context.Context, w leaderboard.Window) (*leaderboard.Snapshot, error) {
	return r.nth(ctx, w, 1)
}

func (r snapshotRepo) Previous(ctx context.Context, w leaderboard.Window) (*leaderboard.Snapshot, error) {
	return r.nth(ctx, w, 2)
}

// nth returns the n-th newest snapshot of a window.
func (r snapshotRepo) nth(ctx context.Context, w leaderboard.Window, n int) (*leaderboard.Snapshot, error) {
	var out *leaderboard.Snapshot
	err := r.s.read(ctx, func(st *state) error {
		list := st.snapshots[w]
		if len(list) < n {
			return shared.ErrSnapshotNotFound
		}
		out = list[len(list)-n]
		return nil
	})
	return out, err
}

func (r snapshotRepo) Prune(ctx context.Context, w leaderboard.Window, keep int) (int64, error) {
	var removed int64
	err := r.s.write(ctx, func(st *state) error {
		list := st.snapshots[w]
		if keep < 1 {
			keep = 1
		}
		if len(list) <= keep {
			return nil
		}
		removed = int64(len(list) - keep)
		st.snapshots[w] = append([]*leaderboard.Snapshot(nil), list[len(list)-keep:]...)
		return nil
	})
	return removed, err
}
