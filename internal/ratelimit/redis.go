package ratelimit

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisBackend struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedis returns a backend whose counters live in Redis and are shared by
// every replica. Redis errors admit the request.
func NewRedis(client redis.UniversalClient, logger *slog.Logger) Backend {
	return &redisBackend{
		client:  client,
		logger:  logger,
		prefix:  "intake:ratelimit:",
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
}

func (rl *redisBackend) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logRedisError("incr", err)
		return Decision{Allowed: true}
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			rl.logRedisError("expire", err)
		}
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return Decision{
		Allowed:   int(counter) <= limit,
		Count:     int(counter),
		WindowEnd: rl.now().Add(ttl),
	}
}

// Reset deletes every counter under the backend prefix.
func (rl *redisBackend) Reset() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	iter := rl.client.Scan(ctx, 0, rl.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := rl.client.Del(ctx, iter.Val()).Err(); err != nil {
			rl.logRedisError("del", err)
		}
	}
	if err := iter.Err(); err != nil {
		rl.logRedisError("scan", err)
	}
}

// Close is a no-op; the client is owned by the caller.
func (rl *redisBackend) Close() {}

func (rl *redisBackend) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}
