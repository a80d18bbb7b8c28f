package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backoffice-serverless/internal/cache"
)

const (
	lockoutFailPrefix = "lo:fail:"
	lockoutLockPrefix = "lo:lock:"
)

// Lockout counts consecutive failed password checks per account. It is keyed
// by email, independent of the caller IP, so rotating addresses does not
// widen the budget. Failures are counted over failureWindow, measured from
// the first failure; the lock itself lasts lockDuration.
type Lockout struct {
	store         cache.Store
	maxAttempts   int
	lockDuration  time.Duration
	failureWindow time.Duration
}

func NewLockout(store cache.Store, maxAttempts int, lockDuration time.Duration) *Lockout {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if lockDuration <= 0 {
		lockDuration = 15 * time.Minute
	}
	return &Lockout{store: store, maxAttempts: maxAttempts, lockDuration: lockDuration, failureWindow: lockDuration}
}

// WithFailureWindow sets how long failures keep counting toward the lock.
// Non-positive values keep the default, which equals the lock duration.
func (l *Lockout) WithFailureWindow(window time.Duration) *Lockout {
	if window > 0 {
		l.failureWindow = window
	}
	return l
}

func lockoutKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Locked reports whether the account is locked and for how long.
func (l *Lockout) Locked(ctx context.Context, email string) (bool, time.Duration, error) {
	ttl, err := l.store.TTL(ctx, lockoutLockPrefix+lockoutKey(email))
	if err != nil {
		return false, 0, fmt.Errorf("lockout check: %w", err)
	}
	if ttl <= 0 {
		// TTL is 0 both for "missing" and "no expiry"; only the former is
		// possible since locks are always written with a TTL.
		return false, 0, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return true, ttl, nil
}

// RegisterFailure counts a failed password check and reports whether this
// failure tripped the lock.
func (l *Lockout) RegisterFailure(ctx context.Context, email string) (bool, error) {
	key := lockoutKey(email)
	failures, _, err := l.store.Incr(ctx, lockoutFailPrefix+key, l.failureWindow)
	if err != nil {
		return false, fmt.Errorf("lockout increment: %w", err)
	}
	if failures < int64(l.maxAttempts) {
		return false, nil
	}

	if err := l.store.Set(ctx, lockoutLockPrefix+key, "1", l.lockDuration); err != nil {
		return false, fmt.Errorf("lockout set lock: %w", err)
	}
	if err := l.store.Delete(ctx, lockoutFailPrefix+key); err != nil {
		return true, fmt.Errorf("lockout reset counter: %w", err)
	}
	return true, nil
}

func (l *Lockout) Reset(ctx context.Context, email string) error {
	key := lockoutKey(email)
	if err := l.store.Delete(ctx, lockoutFailPrefix+key, lockoutLockPrefix+key); err != nil {
		return fmt.Errorf("lockout reset: %w", err)
	}
	return nil
}
