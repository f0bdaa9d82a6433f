package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	netyoraredis "netyora-chat/internal/redis"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a live server; set TEST_REDIS_URL to run them.
func newClient(t *testing.T) *goredis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	c, err := netyoraredis.NewClient(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDownloadGuardReservesOnce(t *testing.T) {
	c := newClient(t)
	guard := netyoraredis.NewDownloadGuard(c)
	ctx := context.Background()
	key := "download:test:" + uuid.NewString()

	ok, err := guard.Reserve(ctx, key, "req-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Reserve(ctx, key, "req-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// only the holder may extend or drop the reservation
	ok, err = guard.Extend(ctx, key, "req-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, guard.Release(ctx, key, "req-b"))
	ok, err = guard.Reserve(ctx, key, "req-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Extend(ctx, key, "req-a", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, c.PTTL(ctx, "guard:"+key).Val(), time.Minute)

	require.NoError(t, guard.Release(ctx, key, "req-a"))
	ok, err = guard.Reserve(ctx, key, "req-c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, guard.Release(ctx, key, "req-c"))
}

func TestInboxCacheInvalidate(t *testing.T) {
	c := newClient(t)
	cache := netyoraredis.NewInboxCache(c, 5*time.Second, nil)
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	cache.Set(ctx, user, "|20|", []byte(`{"chats":[]}`))
	got, ok := cache.Get(ctx, user, "|20|")
	require.True(t, ok)
	assert.JSONEq(t, `{"chats":[]}`, string(got))

	cache.Invalidate(ctx, user)
	_, ok = cache.Get(ctx, user, "|20|")
	assert.False(t, ok)
}

func TestRateLimiterBlocksAfterQuota(t *testing.T) {
	c := newClient(t)
	limiter := netyoraredis.NewRateLimiter(c, netyoraredis.RateLimitConfig{
		netyoraredis.ActionMessage: {Max: 2, Window: time.Minute},
	})
	ctx := context.Background()
	subject := "user-" + uuid.NewString()
	t.Cleanup(func() { _ = limiter.Reset(ctx, subject) })

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, netyoraredis.ActionMessage, subject)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, netyoraredis.ActionMessage, subject)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)

	res, err = limiter.Allow(ctx, netyoraredis.ActionUpload, subject)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
