// Package memory implements every repository in process memory.
// It backs single-process deployments without a database and the application tests.
//
// Transactions are serialized: RunInTx holds a writer lock for its whole
// duration, snapshots the state up front and restores it if fn fails.
// Writes made outside a transaction take the same writer lock per call.
package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/streak"
)

type state struct {
	progress  map[string]progress.Record
	changes   []progress.Change
	streaks   map[string]streak.Streak
	quests    map[string]*quest.Quest
	unlocks   map[string][]achievement.Unlock
	snapshots map[leaderboard.Window][]*leaderboard.Snapshot
}

func newState() state {
	return state{
		progress:  make(map[string]progress.Record),
		streaks:   make(map[string]streak.Streak),
		quests:    make(map[string]*quest.Quest),
		unlocks:   make(map[string][]achievement.Unlock),
		snapshots: make(map[leaderboard.Window][]*leaderboard.Snapshot),
	}
}

// clone copies everything that repositories mutate in place.
// Snapshots are immutable once saved, so their pointers are shared.
func (st state) clone() state {
	c := newState()
	for k, v := range st.progress {
		c.progress[k] = v
	}
	c.changes = append([]progress.Change(nil), st.changes...)
	for k, v := range st.streaks {
		c.streaks[k] = v
	}
	for k, v := range st.quests {
		c.quests[k] = v.Clone()
	}
	for k, v := range st.unlocks {
		c.unlocks[k] = append([]achievement.Unlock(nil), v...)
	}
	for k, v := range st.snapshots {
		c.snapshots[k] = append([]*leaderboard.Snapshot(nil), v...)
	}
	return c
}

// Store is an in-memory implementation of every repository port.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

var (
	_ progress.Repository            = (*Store)(nil)
	_ streak.Repository              = streakRepo{}
	_ quest.Repository               = questRepo{}
	_ achievement.UnlockRepository   = (*Store)(nil)
	_ leaderboard.SnapshotRepository = snapshotRepo{}
	_ leaderboard.PopulationSource   = (*Store)(nil)
)

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// RunInTx runs fn atomically. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	backup := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.st = backup
		s.mu.Unlock()
		return err
	}
	return nil
}

// write applies fn under the writer locks appropriate for ctx.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.st)
}

// Health always succeeds.
func (s *Store) Health(ctx context.Context) error {
	return ctx.Err()
}
