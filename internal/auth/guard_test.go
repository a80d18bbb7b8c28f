package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice-serverless/internal/cache"
)

func TestLoginRateLimiter(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	limiter := NewLoginRateLimiter(store, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := limiter.Allow(ctx, "1.1.1.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retryAfter, err := limiter.Allow(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, 50*time.Second)
	assert.LessOrEqual(t, retryAfter, time.Minute)

	ok, _, err = limiter.Allow(ctx, "2.2.2.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockout_ThresholdAndReset(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	lockout := NewLockout(store, 3, 10*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tripped, err := lockout.RegisterFailure(ctx, "Ana@Example.com")
		require.NoError(t, err)
		assert.False(t, tripped)
	}
	locked, _, err := lockout.Locked(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, locked)

	tripped, err := lockout.RegisterFailure(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.True(t, tripped)

	locked, retryAfter, err := lockout.Locked(ctx, "ANA@example.com")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Greater(t, retryAfter, 9*time.Minute)

	require.NoError(t, lockout.Reset(ctx, "ana@example.com"))
	locked, _, err = lockout.Locked(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockout_ConcurrentFailuresAreAllCounted(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	lockout := NewLockout(store, 1000, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = lockout.RegisterFailure(ctx, "ana@example.com")
		}()
	}
	wg.Wait()

	count, _, err := store.Incr(ctx, lockoutFailPrefix+"ana@example.com", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(41), count)
}

func TestLockout_FailureWindowOutlivesLockDuration(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	lockout := NewLockout(store, 3, 50*time.Millisecond).WithFailureWindow(time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tripped, err := lockout.RegisterFailure(ctx, "ana@example.com")
		require.NoError(t, err)
		require.False(t, tripped)
	}
	time.Sleep(80 * time.Millisecond)

	tripped, err := lockout.RegisterFailure(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.True(t, tripped, "failures spaced beyond the lock duration still count")

	locked, _, err := lockout.Locked(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestLockout_FailureWindowDefaultsToLockDuration(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	lockout := NewLockout(store, 3, 50*time.Millisecond).WithFailureWindow(0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := lockout.RegisterFailure(ctx, "ana@example.com")
		require.NoError(t, err)
	}
	time.Sleep(80 * time.Millisecond)

	tripped, err := lockout.RegisterFailure(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, tripped, "counter rolled over with the window")
}
