// Package jobs contains the scheduled jobs of the LearnQuest worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT LEADERBOARD JOB
// Ranks the XP population of every window, stores a snapshot when the
// ranking changed, refreshes the cache and announces all-time rank moves,
// including users who enter the ranking.
// ══════════════════════════════════════════════════════════════════════════════

// JobNameSnapshotLeaderboard is the scheduler name of the job.
const JobNameSnapshotLeaderboard = "snapshot_leaderboard"

// Locker guards the job against running on several workers at once.
type Locker interface {
	// Acquire returns acquired=false, without error, when another holder owns the lock.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// SnapshotLeaderboardConfig contains configuration for the job.
type SnapshotLeaderboardConfig struct {
	// Windows to snapshot (default: all).
	Windows []leaderboard.Window

	// Keep is the number of snapshots retained per window.
	Keep int

	// Timezone defines week and month boundaries.
	Timezone *time.Location

	// CacheTTL is the TTL of cached snapshots.
	CacheTTL time.Duration

	// LockTTL bounds how long the distributed lock is held.
	LockTTL time.Duration

	// NotifyWindows lists windows whose rank moves are published.
	NotifyWindows []leaderboard.Window
}

// DefaultSnapshotLeaderboardConfig returns sensible defaults.
func DefaultSnapshotLeaderboardConfig() SnapshotLeaderboardConfig {
	return SnapshotLeaderboardConfig{
		Windows:       leaderboard.AllWindows(),
		Keep:          10,
		Timezone:      time.UTC,
		CacheTTL:      30 * time.Minute,
		LockTTL:       2 * time.Minute,
		NotifyWindows: []leaderboard.Window{leaderboard.WindowAllTime},
	}
}

// SnapshotLeaderboardDeps groups the job's collaborators. Cache, Locker and
// Publisher are optional.
type SnapshotLeaderboardDeps struct {
	Population leaderboard.PopulationSource
	Snapshots  leaderboard.SnapshotRepository
	Cache      leaderboard.SnapshotCache
	Locker     Locker
	Publisher  shared.EventPublisher
	NewID      func() string
	Logger     *logger.Logger
}

// WindowResult describes what happened to one window.
type WindowResult struct {
	Window     leaderboard.Window
	SnapshotID string
	Entries    int
	Unchanged  bool
	Pruned     int64
	Moves      int
	Err        error
}

// RunStats contains statistics from one run.
type RunStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Skipped   bool // lock held by another worker
	Windows   []WindowResult
}

// SnapshotLeaderboardJob implements scheduler.Job.
type SnapshotLeaderboardJob struct {
	deps   SnapshotLeaderboardDeps
	config SnapshotLeaderboardConfig
	log    *logger.Logger
	now    func() time.Time

	lastStats atomic.Pointer[RunStats]
}

// NewSnapshotLeaderboardJob creates the job.
func NewSnapshotLeaderboardJob(deps SnapshotLeaderboardDeps, config SnapshotLeaderboardConfig) (*SnapshotLeaderboardJob, error) {
	if deps.Population == nil || deps.Snapshots == nil {
		return nil, errors.New("snapshot_leaderboard: population and snapshot repository are required")
	}
	if deps.NewID == nil {
		return nil, errors.New("snapshot_leaderboard: id generator is required")
	}

	defaults := DefaultSnapshotLeaderboardConfig()
	if len(config.Windows) == 0 {
		config.Windows = defaults.Windows
	}
	if config.Keep < 2 {
		// Previous() needs at least two snapshots.
		config.Keep = 2
	}
	if config.Timezone == nil {
		config.Timezone = defaults.Timezone
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &SnapshotLeaderboardJob{
		deps:   deps,
		config: config,
		log:    log.With(logger.Component(JobNameSnapshotLeaderboard)),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the time source.
func (j *SnapshotLeaderboardJob) WithClock(now func() time.Time) *SnapshotLeaderboardJob {
	j.now = now
	return j
}

// Name implements scheduler.Job.
func (j *SnapshotLeaderboardJob) Name() string { return JobNameSnapshotLeaderboard }

// Description implements scheduler.Job.
func (j *SnapshotLeaderboardJob) Description() string {
	return "Ranks XP per leaderboard window and stores changed snapshots"
}

// LastStats returns the statistics of the last completed run.
func (j *SnapshotLeaderboardJob) LastStats() *RunStats {
	return j.lastStats.Load()
}

// Run implements scheduler.Job.
func (j *SnapshotLeaderboardJob) Run(ctx context.Context) error {
	_, err := j.Execute(ctx)
	return err
}

// Execute snapshots every window in parallel. A failing window does not
// stop the others; all window errors are joined.
func (j *SnapshotLeaderboardJob) Execute(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{StartedAt: j.now()}

	if j.deps.Locker != nil {
		release, acquired, err := j.deps.Locker.Acquire(ctx, JobNameSnapshotLeaderboard, j.config.LockTTL)
		if err != nil {
			return stats, fmt.Errorf("snapshot_leaderboard: acquire lock: %w", err)
		}
		if !acquired {
			j.log.Info("another worker holds the lock, skipping")
			stats.Skipped = true
			return stats, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log.Warn("failed to release lock", logger.Err(err))
			}
		}()
	}

	results := make([]WindowResult, len(j.config.Windows))
	var g errgroup.Group
	for i, w := range j.config.Windows {
		g.Go(func() error {
			results[i] = j.snapshotWindow(ctx, w, stats.StartedAt)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("window %s: %w", r.Window, r.Err))
		}
	}

	stats.Windows = results
	stats.Duration = j.now().Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.log.Info("leaderboard snapshot run finished",
		logger.Int("windows", len(results)),
		logger.Int("failed", len(errs)),
		logger.Latency(stats.Duration),
	)
	return stats, errors.Join(errs...)
}

func (j *SnapshotLeaderboardJob) snapshotWindow(ctx context.Context, w leaderboard.Window, at time.Time) WindowResult {
	res := WindowResult{Window: w}
	log := j.log.With(logger.Window(string(w)))

	standings, err := j.deps.Population.Standings(ctx, w.Since(at, j.config.Timezone))
	if err != nil {
		res.Err = fmt.Errorf("load population: %w", err)
		return res
	}
	entries, err := leaderboard.Rank(standings)
	if err != nil {
		res.Err = err
		return res
	}
	res.Entries = len(entries)

	var previous []leaderboard.Entry
	latest, err := j.deps.Snapshots.Latest(ctx, w)
	switch {
	case err == nil:
		previous = latest.Entries
		if latest.Checksum == leaderboard.Checksum(entries) {
			res.Unchanged = true
			res.SnapshotID = latest.ID
			log.Debug("ranking unchanged", logger.String("snapshot_id", latest.ID))
			return res
		}
	case !errors.Is(err, shared.ErrNotFound):
		res.Err = fmt.Errorf("load latest snapshot: %w", err)
		return res
	}

	snap := leaderboard.NewSnapshot(j.deps.NewID(), w, at, entries)
	if err := j.deps.Snapshots.Save(ctx, snap); err != nil {
		res.Err = fmt.Errorf("save snapshot: %w", err)
		return res
	}
	res.SnapshotID = snap.ID

	if j.deps.Cache != nil {
		if err := j.deps.Cache.Set(ctx, snap, j.config.CacheTTL); err != nil {
			log.Warn("failed to cache snapshot", logger.Err(err))
			// Readers fall back to storage instead of the previous ranking.
			if err := j.deps.Cache.Invalidate(ctx, w); err != nil {
				log.Warn("failed to invalidate cached snapshot", logger.Err(err))
			}
		}
	}

	pruned, err := j.deps.Snapshots.Prune(ctx, w, j.config.Keep)
	if err != nil {
		log.Warn("failed to prune snapshots", logger.Err(err))
	}
	res.Pruned = pruned

	if j.notifies(w) {
		res.Moves = j.publishMoves(ctx, w, entries, previous, at)
	}

	log.Info("leaderboard snapshot stored",
		logger.String("snapshot_id", snap.ID),
		logger.Int("entries", res.Entries),
		logger.Int("moves", res.Moves),
	)
	return res
}

func (j *SnapshotLeaderboardJob) notifies(w leaderboard.Window) bool {
	for _, n := range j.config.NotifyWindows {
		if n == w {
			return true
		}
	}
	return false
}

func (j *SnapshotLeaderboardJob) publishMoves(ctx context.Context, w leaderboard.Window, current, previous []leaderboard.Entry, at time.Time) int {
	moves := leaderboard.Movements(current, previous)
	if j.deps.Publisher == nil || len(moves) == 0 {
		return len(moves)
	}

	events := make([]shared.Event, 0, len(moves))
	entrants := 0
	for _, m := range moves {
		if m.IsEntry() {
			entrants++
		}
		events = append(events, shared.NewRankChangedEvent(m.UserID, string(w), m.OldRank, m.NewRank, at))
	}
	j.log.Debug("publishing rank changes",
		logger.Window(string(w)),
		logger.Int("moves", len(moves)),
		logger.Int("entrants", entrants),
	)
	if err := shared.PublishAll(ctx, j.deps.Publisher, events...); err != nil {
		j.log.Warn("failed to publish rank changes", logger.Window(string(w)), logger.Err(err))
	}
	return len(moves)
}
