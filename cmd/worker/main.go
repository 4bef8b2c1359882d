// Package main - точка входа фонового процесса (Worker) LearnQuest.
//
// Worker периодически снимает снапшоты лидерборда по всем окнам, кладёт их
// в Redis-кеш, публикует leaderboard.rank_changed и пересчитывает
// достижения по рангу для поднявшихся пользователей.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/learnquest/config"
	"github.com/alem-hub/learnquest/internal/app"
	"github.com/alem-hub/learnquest/internal/infrastructure/scheduler"
	"github.com/alem-hub/learnquest/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/learnquest/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Scheduler.Enabled {
		return errors.New("scheduler.enabled is false, nothing to run")
	}

	log, err := logger.New(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddCaller: cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(logger.Component("worker"))

	log.Info("starting LearnQuest worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("schedule", cfg.Scheduler.LeaderboardSchedule),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ, REDIS, ПРИЛОЖЕНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	c, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.InMemory {
		log.Warn("worker runs on a private in-memory store; snapshots are invisible to the API")
	}
	if c.Cache == nil {
		log.Warn("redis disabled: no distributed lock, run a single worker instance")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДПИСКИ НА СОБЫТИЯ
	// ─────────────────────────────────────────────────────────────────────────
	if err := c.SubscribeRankChanged(); err != nil {
		return fmt.Errorf("failed to subscribe rank handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := c.NewScheduler()
	if err != nil {
		return err
	}
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if r.Error != nil {
			log.Error("job failed", logger.String("job", r.JobName), logger.Err(r.Error))
		}
	})

	// Первый снапшот сразу при старте, не дожидаясь расписания.
	if _, err := sched.RunNow(ctx, jobs.JobNameSnapshotLeaderboard); err != nil {
		log.Warn("initial snapshot failed", logger.Err(err))
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", logger.Err(err))
	}

	m := sched.Metrics().Snapshot()
	log.Info("shutdown completed",
		logger.Int64("executions", m.TotalExecutions),
		logger.Int64("failures", m.TotalFailures),
	)
	return nil
}
