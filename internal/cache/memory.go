package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps counters in process memory. It is only correct for a
// single instance; multi-instance deployments must use RedisStore.
type MemoryStore struct {
	mu  sync.Mutex
	c   *gocache.Cache
	now func() time.Time
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryStore{
		c:   gocache.New(gocache.NoExpiration, cleanupInterval),
		now: time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exp, ok := s.c.GetWithExpiration(key)
	count, isCounter := v.(int64)
	if !ok || !isCounter {
		s.c.Set(key, int64(1), window)
		return 1, window, nil
	}

	count++
	// Keep the original expiry: the window is fixed from the first hit.
	remaining := time.Duration(0)
	if !exp.IsZero() {
		remaining = exp.Sub(s.now())
		if remaining <= 0 {
			s.c.Set(key, int64(1), window)
			return 1, window, nil
		}
	}
	s.c.Set(key, count, remainingOrForever(remaining, exp))
	return count, remaining, nil
}

func remainingOrForever(remaining time.Duration, exp time.Time) time.Duration {
	if exp.IsZero() {
		return gocache.NoExpiration
	}
	return remaining
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.c.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.c.Get(key)
	return ok, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, ok := s.c.GetWithExpiration(key)
	if !ok || exp.IsZero() {
		return 0, nil
	}
	remaining := exp.Sub(s.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.c.Delete(k)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.c.Flush()
	return nil
}
