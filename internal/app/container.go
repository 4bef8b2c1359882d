// Package app wires configuration, storage, messaging and the application
// layer into one container shared by cmd/server and cmd/worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/learnquest/config"
	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/application/eventhandler"
	"github.com/alem-hub/learnquest/internal/application/query"
	"github.com/alem-hub/learnquest/internal/application/saga"
	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/quest"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
	"github.com/alem-hub/learnquest/internal/infrastructure/messaging"
	"github.com/alem-hub/learnquest/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learnquest/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learnquest/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/learnquest/internal/infrastructure/scheduler"
	"github.com/alem-hub/learnquest/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/learnquest/internal/interface/http/handlers"
	"github.com/alem-hub/learnquest/pkg/circuitbreaker"
	"github.com/alem-hub/learnquest/pkg/logger"
	"github.com/alem-hub/learnquest/pkg/retry"
)

// EventBus is what both the in-memory and the Redis bus provide.
type EventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

// Container holds every wired component.
type Container struct {
	Config   *config.Config
	Logger   *logger.Logger
	Flags    *config.FeatureFlags
	Location *time.Location

	// Storage
	Progress   progress.Repository
	Population leaderboard.PopulationSource
	Streaks    streak.Repository
	Quests     quest.Repository
	Unlocks    achievement.UnlockRepository
	Snapshots  leaderboard.SnapshotRepository
	Tx         command.Transactor

	// Optional Redis pieces; nil when redis.enabled is false.
	Cache         *redis.Cache
	SnapshotCache leaderboard.SnapshotCache

	Bus EventBus

	Catalog   *achievement.Catalog
	Templates *quest.Templates
	Curve     progress.Curve

	// Commands
	ApplyXP        *command.ApplyXPHandler
	RecordActivity *command.RecordActivityHandler
	StartQuest     *command.StartQuestHandler
	ToggleTask     *command.ToggleTaskHandler
	Achievements   *saga.AchievementFlowSaga

	// Queries
	GetProgress     *query.GetProgressHandler
	GetQuest        *query.GetQuestHandler
	GetLeaderboard  *query.GetLeaderboardHandler
	AchievementList *query.AchievementsHandler

	Health *handlers.CompositeHealthChecker

	// InMemory is true when no database URL is configured.
	InMemory bool

	closers []func() error
}

// Build wires the container. The caller must Close it.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}
	loc, err := cfg.Progression.Location()
	if err != nil {
		return nil, fmt.Errorf("app: timezone: %w", err)
	}

	c := &Container{
		Config:   cfg,
		Logger:   log,
		Flags:    cfg.Flags(),
		Location: loc,
		Catalog:  achievement.DefaultCatalog(),
		Health:   handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	if err := c.buildStorage(ctx); err != nil {
		c.Close()
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (cache + event bus)
	// ─────────────────────────────────────────────────────────────────────────
	if err := c.buildMessaging(); err != nil {
		c.Close()
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	if err := c.buildApplication(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Container) buildStorage(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		c.Logger.Warn("database.url is empty, using the in-memory store")
		store := memory.NewStore()
		c.InMemory = true
		c.Progress = store
		c.Population = store
		c.Streaks = store.Streaks()
		c.Quests = store.Quests()
		c.Unlocks = store
		c.Snapshots = store.Snapshots()
		c.Tx = store
		c.Health.AddCheck("store", store.Health)
		return nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = c.Config.Database.URL
	pgCfg.MaxConns = c.Config.Database.MaxConns
	pgCfg.MinConns = c.Config.Database.MinConns
	pgCfg.MaxConnLifetime = c.Config.Database.MaxConnLifetime
	pgCfg.MaxConnIdleTime = c.Config.Database.MaxConnIdleTime
	pgCfg.ConnectTimeout = c.Config.Database.ConnectTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("app: connect to postgres: %w", err)
	}
	c.closers = append(c.closers, func() error { conn.Close(); return nil })
	c.Logger.Info("connected to postgres")

	if c.Config.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("app: migrate: %w", err)
		}
	}

	progressRepo := postgres.NewProgressRepository(conn)
	c.Progress = progressRepo
	c.Population = progressRepo
	c.Streaks = postgres.NewStreakRepository(conn)
	c.Quests = postgres.NewQuestRepository(conn)
	c.Unlocks = postgres.NewUnlockRepository(conn)
	c.Snapshots = postgres.NewSnapshotRepository(conn)
	c.Tx = conn
	c.Health.AddCheck("postgres", conn.Health)
	return nil
}

func (c *Container) buildMessaging() error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = c.Logger
	local.Middlewares = []messaging.Middleware{
		messaging.LoggingMiddleware(c.Logger),
		messaging.RetryMiddleware(retry.OptimisticLockRetrier(shared.IsRetryable)),
	}

	if !c.Config.Redis.Enabled {
		bus := messaging.NewInMemoryEventBus(local)
		c.Bus = bus
		c.closers = append(c.closers, bus.Close)
		return nil
	}

	rc := c.Config.Redis
	redisCfg := redis.DefaultConfig()
	redisCfg.Host = rc.Host
	redisCfg.Port = rc.Port
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	redisCfg.PoolSize = rc.PoolSize
	redisCfg.MinIdleConns = rc.MinIdleConns
	redisCfg.DialTimeout = rc.DialTimeout
	redisCfg.ReadTimeout = rc.ReadTimeout
	redisCfg.WriteTimeout = rc.WriteTimeout

	cache, err := redis.NewCache(redisCfg)
	if err != nil {
		return fmt.Errorf("app: connect to redis: %w", err)
	}
	c.Cache = cache
	c.SnapshotCache = redis.NewLeaderboardCache(cache)
	c.Health.AddCheck("redis", cache.Ping)

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		PubSub:         messaging.NewGoRedisPubSub(cache.Client()),
		Channel:        rc.EventChannel,
		LocalBusConfig: local,
		Logger:         c.Logger,
	})
	if err != nil {
		_ = cache.Close()
		return fmt.Errorf("app: redis event bus: %w", err)
	}
	c.Bus = bus
	// Closers run in reverse: the bus stops before the client closes.
	c.closers = append(c.closers, cache.Close, bus.Close)
	c.Logger.Info("connected to redis", logger.String("addr", redisCfg.Addr()))
	return nil
}

func (c *Container) buildApplication() error {
	p := c.Config.Progression

	curve, err := progress.NewCurve(p.LevelStep)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	c.Curve = curve
	c.Templates = quest.DefaultTemplates()

	ids := command.UUIDGenerator{}

	c.ApplyXP = command.NewApplyXPHandler(c.Progress, progress.NewLedger(curve), c.Tx, c.Bus, ids, c.Logger)

	flow, err := saga.NewAchievementFlowSaga(saga.AchievementFlowDeps{
		Catalog:   c.Catalog,
		Progress:  c.Progress,
		Streaks:   c.Streaks,
		Quests:    c.Quests,
		Unlocks:   c.Unlocks,
		Snapshots: c.Snapshots,
		XP:        c.ApplyXP,
		Tx:        c.Tx,
		Publisher: c.Bus,
		IDs:       ids,
		Flags:     c.Flags,
		Logger:    c.Logger,
	}, saga.AchievementFlowConfig{MaxPasses: p.MaxUnlockPasses})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	c.Achievements = flow
	c.ApplyXP.SetAchievementChecker(flow)

	c.RecordActivity = command.NewRecordActivityHandler(c.Streaks, c.Tx, c.Bus, flow, c.Flags, c.Logger,
		command.RecordActivityHandlerConfig{Location: c.Location})
	c.StartQuest = command.NewStartQuestHandler(c.Templates, c.Quests, ids, c.Logger)
	c.ToggleTask = command.NewToggleTaskHandler(c.Quests, c.ApplyXP, c.Tx, c.Bus, flow, c.Flags, c.Logger)

	c.GetProgress = query.NewGetProgressHandler(c.Progress, c.Streaks, c.Snapshots, curve, query.GetProgressConfig{
		DailyGoalXP: p.DailyGoalXP,
		Location:    c.Location,
	})
	c.GetQuest = query.NewGetQuestHandler(c.Quests, c.Templates)
	c.AchievementList = query.NewAchievementsHandler(c.Catalog, c.Unlocks)

	var breaker *circuitbreaker.CircuitBreaker
	if c.SnapshotCache != nil {
		lb := c.Config.Leaderboard
		breaker = circuitbreaker.CacheBreaker("leaderboard_cache",
			circuitbreaker.WithFailureThreshold(lb.BreakerThreshold),
			circuitbreaker.WithCooldown(lb.BreakerCooldown),
		)
	}
	c.GetLeaderboard = query.NewGetLeaderboardHandler(c.Snapshots, c.SnapshotCache, breaker, c.Flags, c.Logger)

	return nil
}

// SubscribeRankChanged registers the rank-changed handler on the bus.
func (c *Container) SubscribeRankChanged() error {
	h := eventhandler.NewOnRankChangedHandler(c.Achievements, c.Logger, eventhandler.DefaultRankChangedConfig())
	return h.Register(c.Bus)
}

// NewSnapshotJob builds the leaderboard snapshot job.
func (c *Container) NewSnapshotJob() (*jobs.SnapshotLeaderboardJob, error) {
	cfg := jobs.DefaultSnapshotLeaderboardConfig()
	cfg.Keep = c.Config.Leaderboard.KeepSnapshots
	cfg.Timezone = c.Location
	cfg.CacheTTL = c.Config.Leaderboard.CacheTTL
	cfg.LockTTL = c.Config.Scheduler.LockTTL

	deps := jobs.SnapshotLeaderboardDeps{
		Population: c.Population,
		Snapshots:  c.Snapshots,
		Cache:      c.SnapshotCache,
		Publisher:  c.Bus,
		NewID:      uuid.NewString,
		Logger:     c.Logger,
	}
	if c.Cache != nil {
		deps.Locker = c.Cache
	}
	return jobs.NewSnapshotLeaderboardJob(deps, cfg)
}

// NewScheduler builds a scheduler with the snapshot job registered.
func (c *Container) NewScheduler() (*scheduler.Scheduler, error) {
	schedule, err := scheduler.ParseSchedule(c.Config.Scheduler.LeaderboardSchedule)
	if err != nil {
		return nil, fmt.Errorf("app: leaderboard schedule: %w", err)
	}
	job, err := c.NewSnapshotJob()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	sc := scheduler.DefaultConfig()
	sc.Logger = c.Logger
	sc.Timezone = c.Location
	sc.JobTimeout = c.Config.Scheduler.JobTimeout

	s := scheduler.New(sc)
	if err := s.Register(job, schedule); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("close failed", logger.Err(err))
		}
	}
	c.closers = nil
}
