package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeadTokenCache shares the dead token set across replicas. Keys carry
// their own TTL; the index set exists only so Purge can clear everything.
type RedisDeadTokenCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDeadTokenCache(client redis.UniversalClient, prefix string) *RedisDeadTokenCache {
	if prefix == "" {
		prefix = "dead_tokens"
	}
	return &RedisDeadTokenCache{client: client, prefix: prefix}
}

func (c *RedisDeadTokenCache) Seen(ctx context.Context, token string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisDeadTokenCache) Mark(ctx context.Context, token string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	key := c.key(token)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, "1", ttl)
	pipe.SAdd(ctx, c.indexKey(), key)
	pipe.Expire(ctx, c.indexKey(), ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisDeadTokenCache) Purge(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	keys, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, c.indexKey())
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisDeadTokenCache) key(token string) string {
	return c.prefix + ":data:" + hashToken(token)
}

func (c *RedisDeadTokenCache) indexKey() string {
	return c.prefix + ":index"
}
