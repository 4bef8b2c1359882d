// Package main - точка входа HTTP API движка прогрессии LearnQuest.
//
// Сервер принимает XP, активность и переключения задач, отдаёт прогресс,
// квесты, достижения и лидерборд. Без database.url работает на in-memory
// хранилище и сам снимает снапшоты лидерборда.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/learnquest/config"
	"github.com/alem-hub/learnquest/internal/app"
	"github.com/alem-hub/learnquest/internal/infrastructure/scheduler"
	httpapi "github.com/alem-hub/learnquest/internal/interface/http"
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

	log, err := logger.New(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddCaller: cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting LearnQuest API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.Progression.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ, REDIS, ПРИЛОЖЕНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	c, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ВСТРОЕННЫЙ ПЛАНИРОВЩИК (только для in-memory хранилища)
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if c.InMemory && cfg.Scheduler.Enabled {
		if err := c.SubscribeRankChanged(); err != nil {
			return fmt.Errorf("failed to subscribe rank handler: %w", err)
		}
		sched, err = c.NewScheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("embedded scheduler started", logger.String("schedule", cfg.Scheduler.LeaderboardSchedule))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.Mode = cfg.HTTP.Mode
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.Location = c.Location
	httpCfg.HistoryLimit = cfg.Progression.HistoryLimit
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	server, err := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		ApplyXP:        c.ApplyXP,
		RecordActivity: c.RecordActivity,
		StartQuest:     c.StartQuest,
		ToggleTask:     c.ToggleTask,
		GetProgress:    c.GetProgress,
		GetQuest:       c.GetQuest,
		GetLeaderboard: c.GetLeaderboard,
		Achievements:   c.AchievementList,
		HealthChecker:  c.Health,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}

	log.Info("shutdown completed")
	return nil
}
