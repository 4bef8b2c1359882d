// Package http exposes the progression engine over a JSON REST API built on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/application/query"
	"github.com/alem-hub/learnquest/internal/interface/http/handlers"
	"github.com/alem-hub/learnquest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	// Mode - gin mode: debug, release or test.
	Mode string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// Location defines calendar days of activity dates. Nil means UTC.
	Location *time.Location

	// HistoryLimit is the default number of XP changes in the progress view.
	HistoryLimit int

	// RateLimitPerMinute - requests per minute per client IP on /api/v1 (0 = disabled).
	RateLimitPerMinute int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Mode:           gin.ReleaseMode,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
		Location:       time.UTC,
		HistoryLimit:   20,

		RateLimitPerMinute: 600,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (write side)
	ApplyXP        *command.ApplyXPHandler
	RecordActivity *command.RecordActivityHandler
	StartQuest     *command.StartQuestHandler
	ToggleTask     *command.ToggleTaskHandler

	// Query Handlers (read side)
	GetProgress    *query.GetProgressHandler
	GetQuest       *query.GetQuestHandler
	GetLeaderboard *query.GetLeaderboardHandler
	Achievements   *query.AchievementsHandler

	HealthChecker handlers.HealthChecker

	Logger *logger.Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.ApplyXP == nil, d.RecordActivity == nil, d.StartQuest == nil, d.ToggleTask == nil:
		return errors.New("http: command handlers are required")
	case d.GetProgress == nil, d.GetQuest == nil, d.GetLeaderboard == nil, d.Achievements == nil:
		return errors.New("http: query handlers are required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.With(logger.Component("http"))
	if s.deps.HealthChecker == nil {
		s.deps.HealthChecker = handlers.NewCompositeHealthChecker("v1")
	}

	s.engine = gin.New()
	s.engine.Use(
		handlers.RequestID(),
		handlers.Recovery(s.logger),
		handlers.Logging(s.logger),
	)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status
	// ─────────────────────────────────────────────────────────────────────────
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	v1 := s.engine.Group("/api/v1")
	if s.config.RateLimitPerMinute > 0 {
		v1.Use(handlers.RateLimit(handlers.NewRateLimiter(handlers.RateLimiterConfig{
			PerMinute: s.config.RateLimitPerMinute,
		})))
	}
	v1.GET("/health", s.handleHealth)

	v1.GET("/achievements", s.handleAchievementCatalog)
	v1.GET("/quest-templates", s.handleQuestTemplates)
	v1.GET("/leaderboard", s.handleGetLeaderboard)

	users := v1.Group("/users/:user_id")
	users.GET("/progress", s.handleGetProgress)
	users.POST("/xp", s.handleApplyXP)
	users.POST("/activity", s.handleRecordActivity)
	users.GET("/achievements", s.handleUserAchievements)
	users.GET("/quests", s.handleListQuests)
	users.POST("/quests", s.handleStartQuest)

	quests := v1.Group("/quests/:quest_id")
	quests.GET("", s.handleGetQuest)
	quests.POST("/tasks/:task_id/toggle", s.handleToggleTask)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Error: "route not found", Code: "not_found"})
	})
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
