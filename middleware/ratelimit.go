package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
)

// RateLimitConfig defines the limit for a route.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	KeyFn  func(c *fiber.Ctx) string
	Clock  clockwork.Clock
}

type entry struct {
	count     int
	windowEnd time.Time
}

// RateLimiter is an in-memory fixed-window limiter keyed per caller.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  RateLimitConfig
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.KeyFn == nil {
		cfg.KeyFn = KeyByUser
	}
	return &RateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
	}
}

// Handler enforces the limit and sets X-RateLimit-* headers.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, remaining, resetAt := rl.take(rl.config.KeyFn(c))

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.Max))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			retryAfter := int(resetAt.Sub(rl.config.Clock.Now()).Seconds()) + 1
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"message":     fmt.Sprintf("too many requests, try again in %d seconds", retryAfter),
				"retry_after": retryAfter,
			})
		}
		return c.Next()
	}
}

// Allow consumes one request for key.
func (rl *RateLimiter) Allow(key string) bool {
	allowed, _, _ := rl.take(key)
	return allowed
}

func (rl *RateLimiter) take(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Clock.Now()
	rl.sweep(now)

	e, ok := rl.entries[key]
	if !ok || !now.Before(e.windowEnd) {
		e = &entry{windowEnd: now.Add(rl.config.Window)}
		rl.entries[key] = e
	}
	e.count++
	remaining := rl.config.Max - e.count
	if remaining < 0 {
		return false, 0, e.windowEnd
	}
	return true, remaining, e.windowEnd
}

// sweep drops expired windows once the map grows; callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if len(rl.entries) < 1024 {
		return
	}
	for key, e := range rl.entries {
		if !now.Before(e.windowEnd) {
			delete(rl.entries, key)
		}
	}
}

// KeyByUser limits per authenticated user, falling back to the client IP.
func KeyByUser(c *fiber.Ctx) string {
	if uid := UserID(c); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.IP()
}

// NewVoteRateLimiter allows perMinute votes per user per minute.
func NewVoteRateLimiter(perMinute int, clock clockwork.Clock) *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    perMinute,
		Window: time.Minute,
		KeyFn:  KeyByUser,
		Clock:  clock,
	})
}

// NewCreateContestRateLimiter allows perHour contest creations per user per hour.
func NewCreateContestRateLimiter(perHour int, clock clockwork.Clock) *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    perHour,
		Window: time.Hour,
		KeyFn:  KeyByUser,
		Clock:  clock,
	})
}
