// Package config loads LearnQuest configuration from defaults, an optional
// YAML file and LEARNQUEST_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: progression.daily_goal_xp
// is read from LEARNQUEST_PROGRESSION_DAILY_GOAL_XP.
const EnvPrefix = "LEARNQUEST"

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Progression   ProgressionConfig   `mapstructure:"progression"`
	Leaderboard   LeaderboardConfig   `mapstructure:"leaderboard"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`

	// Features is keyed by FeatureConfigKey(name), e.g. "leaderboard_cache".
	Features map[string]FeatureConfig `mapstructure:"features"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     Environment   `mapstructure:"environment"`
	Version         string        `mapstructure:"version"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// EventChannel is the pub/sub channel of the event bus.
	EventChannel string `mapstructure:"event_channel"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// RateLimitPerMinute is per client IP; 0 disables limiting.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProgressionConfig holds XP, level, streak and achievement settings.
type ProgressionConfig struct {
	// Timezone defines calendar days for streaks, daily goals and windows.
	Timezone string `mapstructure:"timezone"`

	// LevelStep is the XP step of the level curve: Threshold(n) = step*n(n-1)/2.
	LevelStep int64 `mapstructure:"level_step"`

	// MaxUnlockPasses caps achievement evaluation passes per run.
	MaxUnlockPasses int `mapstructure:"max_unlock_passes"`

	DailyGoalXP  int64 `mapstructure:"daily_goal_xp"`
	HistoryLimit int   `mapstructure:"history_limit"`
}

// Location resolves Timezone.
func (c ProgressionConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// LeaderboardConfig holds leaderboard read and snapshot settings.
type LeaderboardConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	KeepSnapshots    int           `mapstructure:"keep_snapshots"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// LeaderboardSchedule is "@every <duration>" or a cron expression.
	LeaderboardSchedule string        `mapstructure:"leaderboard_schedule"`
	JobTimeout          time.Duration `mapstructure:"job_timeout"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `mapstructure:"log_level"`  // debug, info, warn, error
	LogFormat string `mapstructure:"log_format"` // json, console
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load reads the file named by LEARNQUEST_CONFIG, or ./config.yaml if present.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "_CONFIG"))
}

// LoadFile loads configuration using path as the YAML file. An empty path
// searches ./config.yaml and ./config/config.yaml and tolerates their absence.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "learnquest")
	v.SetDefault("app.environment", string(EnvDevelopment))
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.event_channel", "learnquest:events")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", time.Minute)
	v.SetDefault("http.rate_limit_per_minute", 600)

	v.SetDefault("progression.timezone", "UTC")
	v.SetDefault("progression.level_step", 100)
	v.SetDefault("progression.max_unlock_passes", 8)
	v.SetDefault("progression.daily_goal_xp", 200)
	v.SetDefault("progression.history_limit", 20)

	v.SetDefault("leaderboard.cache_ttl", 30*time.Minute)
	v.SetDefault("leaderboard.keep_snapshots", 10)
	v.SetDefault("leaderboard.breaker_threshold", 3)
	v.SetDefault("leaderboard.breaker_cooldown", 15*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.leaderboard_schedule", "@every 5m")
	v.SetDefault("scheduler.job_timeout", 5*time.Minute)
	v.SetDefault("scheduler.lock_ttl", 2*time.Minute)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")

	for name, f := range DefaultFeatures() {
		key := "features." + FeatureConfigKey(name)
		v.SetDefault(key+".enabled", f.Enabled)
		v.SetDefault(key+".rollout_percent", f.RolloutPercent)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate checks if the configuration is valid and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("app.environment %q is unknown", c.App.Environment))
	}
	if c.App.Environment == EnvProduction && c.Database.URL == "" {
		errs = append(errs, "database.url is required in production")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be 1-65535")
	}
	if c.HTTP.RateLimitPerMinute < 0 {
		errs = append(errs, "http.rate_limit_per_minute must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		errs = append(errs, "redis.host is required when redis is enabled")
	}

	if _, err := c.Progression.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("progression.timezone: %v", err))
	}
	if c.Progression.LevelStep <= 0 {
		errs = append(errs, "progression.level_step must be positive")
	}
	if c.Progression.MaxUnlockPasses <= 0 {
		errs = append(errs, "progression.max_unlock_passes must be positive")
	}
	if c.Progression.DailyGoalXP <= 0 {
		errs = append(errs, "progression.daily_goal_xp must be positive")
	}

	if c.Leaderboard.KeepSnapshots < 2 {
		errs = append(errs, "leaderboard.keep_snapshots must be at least 2")
	}
	if c.Scheduler.Enabled && c.Scheduler.LeaderboardSchedule == "" {
		errs = append(errs, "scheduler.leaderboard_schedule is required")
	}

	for name, f := range c.Features {
		if f.RolloutPercent < 0 || f.RolloutPercent > 100 {
			errs = append(errs, fmt.Sprintf("features.%s.rollout_percent must be 0-100", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
