package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/cache"
)

func newTestCache(t *testing.T, runID string, ttl time.Duration) (*cache.RunCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return cache.New(rc, runID, ttl, nil), mr
}

func TestRunCache_SetGet(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, "run-1", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "cursor", []byte("page-2")))

	val, found, err := c.Get(ctx, "cursor")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "page-2", string(val))
}

func TestRunCache_GetMissing(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, "run-1", time.Minute)

	_, found, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRunCache_ScopedByRunID(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	cacheA := cache.New(rc, "run-a", time.Minute, nil)
	cacheB := cache.New(rc, "run-b", time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, cacheA.Set(ctx, "key", []byte("value-a")))

	_, found, err := cacheB.Get(ctx, "key")
	require.NoError(t, err)
	require.False(t, found, "run-b cache must not see run-a's keys")
}

func TestRunCache_ExpiresWithTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	c := cache.New(rc, "run-1", 10*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "cursor", []byte("v")))
	mr.FastForward(20 * time.Millisecond)

	_, found, err := c.Get(ctx, "cursor")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRunCache_Clear(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, "run-1", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "b", []byte("2")))

	require.NoError(t, c.Clear(ctx))

	_, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)
}
