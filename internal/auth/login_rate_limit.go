package auth

import (
	"context"
	"fmt"
	"time"

	"backoffice-serverless/internal/cache"
)

const loginRateKeyPrefix = "rl:login:"

// LoginRateLimiter is a fixed-window counter per client IP. Every login
// attempt is counted, successful or not.
type LoginRateLimiter struct {
	store   cache.Store
	maxHits int
	window  time.Duration
}

func NewLoginRateLimiter(store cache.Store, maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	return &LoginRateLimiter{
		store:   store,
		maxHits: maxHits,
		window:  window,
	}
}

// Allow records an attempt from ip and reports whether it is within the
// window budget. When it is not, retryAfter is the time until the window
// resets (at least one second).
func (l *LoginRateLimiter) Allow(ctx context.Context, ip string) (bool, time.Duration, error) {
	hits, ttl, err := l.store.Incr(ctx, loginRateKeyPrefix+ip, l.window)
	if err != nil {
		return false, 0, fmt.Errorf("login rate limit: %w", err)
	}
	if hits <= int64(l.maxHits) {
		return true, 0, nil
	}

	if ttl < time.Second {
		ttl = time.Second
	}
	return false, ttl, nil
}
