package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// FeatureFlags manages feature toggles with per-user percentage rollout.
// It satisfies the application's FeatureGate.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// userOverrides: userID -> feature -> enabled
	userOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent (0-100). Users are bucketed by a hash of feature:user,
	// so a user stays in the same bucket across restarts.
	RolloutPercent int
}

// FeatureConfig is the configurable part of a feature.
type FeatureConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	RolloutPercent int  `mapstructure:"rollout_percent"`
}

// Feature flag names.
const (
	FeatureAchievementXPRewards = "achievements.xp_rewards" // XP reward on unlock
	FeatureStreakTracking       = "streak.tracking"         // daily streak updates
	FeatureQuestCompletionXP    = "quest.completion_xp"     // XP grant on quest completion
	FeatureLeaderboardRankDelta = "leaderboard.rank_delta"  // +2 / -1 in leaderboard responses
	FeatureLeaderboardCache     = "leaderboard.cache"       // Redis snapshot cache reads
)

var featureDescriptions = map[string]string{
	FeatureAchievementXPRewards: "Grant the achievement's XP reward when it unlocks",
	FeatureStreakTracking:       "Update daily activity streaks",
	FeatureQuestCompletionXP:    "Grant quest XP when every task is completed",
	FeatureLeaderboardRankDelta: "Show rank movement since the previous snapshot",
	FeatureLeaderboardCache:     "Serve leaderboard snapshots from Redis",
}

// DefaultFeatures returns every known feature, fully enabled.
func DefaultFeatures() map[string]FeatureConfig {
	out := make(map[string]FeatureConfig, len(featureDescriptions))
	for name := range featureDescriptions {
		out[name] = FeatureConfig{Enabled: true, RolloutPercent: 100}
	}
	return out
}

// FeatureConfigKey converts a feature name to its config key.
// "leaderboard.rank_delta" -> "leaderboard_rank_delta", so the env override is
// LEARNQUEST_FEATURES_LEADERBOARD_RANK_DELTA_ENABLED.
func FeatureConfigKey(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// NewFeatureFlags builds flags from configuration keyed by FeatureConfigKey.
// Known features missing from cfg keep their defaults.
func NewFeatureFlags(cfg map[string]FeatureConfig) *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}
	for name, def := range DefaultFeatures() {
		fc, ok := cfg[FeatureConfigKey(name)]
		if !ok {
			fc = def
		}
		ff.features[name] = &Feature{
			Name:           name,
			Description:    featureDescriptions[name],
			Enabled:        fc.Enabled,
			RolloutPercent: fc.RolloutPercent,
		}
	}
	return ff
}

// Flags returns the feature flags of this configuration.
func (c *Config) Flags() *FeatureFlags {
	return NewFeatureFlags(c.Features)
}

// IsEnabledFor reports whether a feature is on for a user. Without a user,
// a partial rollout counts as enabled.
func (ff *FeatureFlags) IsEnabledFor(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != "" {
		if overrides, ok := ff.userOverrides[userID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled || feature.RolloutPercent <= 0 {
		return false
	}
	if feature.RolloutPercent >= 100 || userID == "" {
		return true
	}
	return inRollout(featureName, userID, feature.RolloutPercent)
}

// inRollout maps feature:user to a stable bucket in [0, 100).
func inRollout(featureName, userID string, percent int) bool {
	bucket := xxhash.Sum64String(featureName+":"+userID) % 100
	return int(bucket) < percent
}

// SetUserOverride forces a feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// All returns copies of every feature, ordered by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
