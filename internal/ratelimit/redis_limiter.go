package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the subset of go-redis commands the limiter uses.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisLimiter shares windows across instances. The first hit in a window sets
// the key expiry; later hits only increment.
type RedisLimiter struct {
	rdb    Counter
	prefix string
	limit  int
	window time.Duration
	clock  Clock
}

func NewRedisLimiter(rdb Counter, prefix string, limit int, window time.Duration, clock Clock) *RedisLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window, clock: clock}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + key
	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr %s: %w", k, err)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire %s: %w", k, err)
		}
	}

	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit ttl %s: %w", k, err)
	}
	if ttl < 0 {
		// key lost its expiry (e.g. expire failed after incr); restart the window
		if err := l.rdb.PExpire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire %s: %w", k, err)
		}
		ttl = l.window
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= l.limit,
		Remaining: remaining,
		ResetAt:   l.clock.Now().Add(ttl),
	}, nil
}
