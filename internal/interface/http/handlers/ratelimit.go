package handlers

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT MIDDLEWARE
// Token bucket per key: the bucket holds up to Burst tokens and refills at
// PerMinute tokens per minute. Idle buckets are dropped on sweep.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig configures RateLimiter.
type RateLimiterConfig struct {
	PerMinute int

	// Burst is the bucket size (default: PerMinute/6, at least 1).
	Burst int

	// IdleTTL is how long an untouched bucket is kept (default: 10m).
	IdleTTL time.Duration
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a keyed token-bucket limiter.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxTokens  float64
	refillRate float64 // tokens per second
	idleTTL    time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter. PerMinute must be positive.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = config.PerMinute / 6
		if config.Burst < 1 {
			config.Burst = 1
		}
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  float64(config.Burst),
		refillRate: float64(config.PerMinute) / 60,
		idleTTL:    config.IdleTTL,
		lastSweep:  time.Now(),
		now:        time.Now,
	}
}

// Allow takes a token for key. When the bucket is empty it returns false and
// the time until the next token.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(rl.maxTokens, b.tokens+elapsed*rl.refillRate)
		b.lastRefill = now
	}

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / rl.refillRate * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

// sweep drops idle buckets at most once per idleTTL. Must be called with lock held.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) >= rl.idleTTL {
			delete(rl.buckets, key)
		}
	}
	rl.lastSweep = now
}

// RateLimit rejects requests over the limit with 429 and a Retry-After header.
// Requests are keyed by client IP.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.Allow(c.ClientIP())
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
