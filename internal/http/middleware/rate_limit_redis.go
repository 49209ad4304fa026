package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type redisSlidingWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisSlidingWindowLimiter keeps the per-key window in a Redis sorted
// set scored by hit time, so multiple instances behind one proxy share the
// same budget. Entries expire with the window; denied requests stay counted.
func NewRedisSlidingWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) Limiter {
	return &redisSlidingWindowLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *redisSlidingWindowLimiter) Limit() int { return l.limit }

func (l *redisSlidingWindowLimiter) key(key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", l.prefix, key)
}

func (l *redisSlidingWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	rkey := l.key(key)
	cutoff := now.Add(-l.window)

	if err := l.client.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		return Decision{}, fmt.Errorf("prune window: %w", err)
	}
	count, err := l.client.ZCard(ctx, rkey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("count window: %w", err)
	}
	if count >= int64(l.limit) {
		oldest, err := l.client.ZRangeWithScores(ctx, rkey, 0, 0).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("inspect window: %w", err)
		}
		retryAfter := l.window
		if len(oldest) == 1 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(l.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = time.Second
			}
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    now.Add(retryAfter),
		}, nil
	}

	hitID := uuid.NewString()
	if err := l.client.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: hitID}).Err(); err != nil {
		return Decision{}, fmt.Errorf("record hit: %w", err)
	}
	if err := l.client.Expire(ctx, rkey, l.window).Err(); err != nil {
		return Decision{}, fmt.Errorf("expire window: %w", err)
	}
	return Decision{
		Allowed:   true,
		Remaining: l.limit - int(count) - 1,
		ResetAt:   now.Add(l.window),
		HitID:     hitID,
	}, nil
}

func (l *redisSlidingWindowLimiter) Forgive(ctx context.Context, key, hitID string) error {
	if hitID == "" {
		return nil
	}
	return l.client.ZRem(ctx, l.key(key), hitID).Err()
}
