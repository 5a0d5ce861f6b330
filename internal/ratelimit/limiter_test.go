package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/localvercel/intake/pkg/logger"
)

func newMemoryLimiter(t *testing.T, webhookLimit, apiLimit int) *Limiter {
	t.Helper()
	l := New(NewMemory(), Policy{Limit: webhookLimit, Window: time.Minute}, Policy{Limit: apiLimit, Window: time.Minute})
	t.Cleanup(l.Close)
	return l
}

func TestCheckLimitAllowsUpToLimitThenDenies(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLimiter(t, 3, 10)

	for i := 1; i <= 3; i++ {
		res := l.CheckLimit(ctx, "ip:10.0.0.1", true)
		require.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 3-i, res.Info.Remaining)
		assert.Zero(t, res.RetryAfter)
	}

	denied := l.CheckLimit(ctx, "ip:10.0.0.1", true)
	require.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Info.Remaining)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	headers := GenerateHeaders(denied.Info, denied.RetryAfter)
	assert.Equal(t, "3", headers.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", headers.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, headers.Get("X-RateLimit-Reset"))
	retry, err := strconv.Atoi(headers.Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
}

func TestCheckLimitSeparatesClientsAndPolicies(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLimiter(t, 1, 1)

	require.True(t, l.CheckLimit(ctx, "a", true).Allowed)
	require.False(t, l.CheckLimit(ctx, "a", true).Allowed)
	require.True(t, l.CheckLimit(ctx, "b", true).Allowed)
	require.True(t, l.CheckLimit(ctx, "a", false).Allowed, "api budget must not share webhook counters")
}

func TestCheckLimitResetClearsCounters(t *testing.T) {
	ctx := context.Background()
	l := newMemoryLimiter(t, 1, 1)

	require.True(t, l.CheckLimit(ctx, "a", true).Allowed)
	require.False(t, l.CheckLimit(ctx, "a", true).Allowed)
	l.Reset()
	require.True(t, l.CheckLimit(ctx, "a", true).Allowed)
}

func TestCheckLimitDisabledPolicy(t *testing.T) {
	l := newMemoryLimiter(t, 0, 0)
	res := l.CheckLimit(context.Background(), "a", true)
	assert.True(t, res.Allowed)
	assert.Empty(t, GenerateHeaders(res.Info, 0))
}

func TestMemoryWindowRollsOver(t *testing.T) {
	backend := NewMemory().(*memoryBackend)
	t.Cleanup(backend.Close)
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }

	ctx := context.Background()
	require.True(t, backend.Allow(ctx, "k", 1, time.Minute).Allowed)
	require.False(t, backend.Allow(ctx, "k", 1, time.Minute).Allowed)

	now = now.Add(time.Minute)
	require.True(t, backend.Allow(ctx, "k", 1, time.Minute).Allowed)

	backend.cleanup(now.Add(2 * time.Minute))
	backend.mu.Lock()
	assert.Empty(t, backend.entries)
	backend.mu.Unlock()
}

func TestGenerateHeadersOmitsRetryAfterWhenAllowed(t *testing.T) {
	reset := time.Unix(1700000000, 0)
	headers := GenerateHeaders(Info{Limit: 10, Remaining: 4, Reset: reset}, 0)
	assert.Equal(t, "10", headers.Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", headers.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000000", headers.Get("X-RateLimit-Reset"))
	assert.Empty(t, headers.Get("Retry-After"))

	headers = GenerateHeaders(Info{Limit: 10}, 1500*time.Millisecond)
	assert.Equal(t, "2", headers.Get("Retry-After"))
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := New(NewRedis(client, logger.Discard()), Policy{Limit: 2, Window: time.Minute}, Policy{Limit: 5, Window: time.Minute})
	ctx := context.Background()

	require.True(t, l.CheckLimit(ctx, "ip:1", true).Allowed)
	second := l.CheckLimit(ctx, "ip:1", true)
	require.True(t, second.Allowed)
	assert.Equal(t, 0, second.Info.Remaining)

	denied := l.CheckLimit(ctx, "ip:1", true)
	require.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	ttl := mr.TTL("intake:ratelimit:webhook:ip:1")
	assert.Equal(t, time.Minute, ttl)

	l.Reset()
	require.True(t, l.CheckLimit(ctx, "ip:1", true).Allowed)
}

func TestRedisBackendFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	l := New(NewRedis(client, logger.Discard()), Policy{Limit: 1, Window: time.Minute}, Policy{})
	for i := 0; i < 3; i++ {
		require.True(t, l.CheckLimit(context.Background(), "ip:1", true).Allowed)
	}
}
