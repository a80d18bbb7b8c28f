// Package cache provides the shared key/counter store used for login rate
// limits, account lockouts and token revocations.
//
// Two drivers implement [Store]: RedisStore for multi-instance deployments and
// MemoryStore (go-cache) for a single process. Both guarantee that Incr is an
// atomic increment-and-read, so concurrent failures are never lost.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("cache backend unavailable")

type Store interface {
	// Incr increments key and returns the new count together with the
	// remaining lifetime of the window. The window TTL is set only on the
	// first hit (fixed-window semantics).
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime of key, or 0 when it is missing or
	// has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
