package likes

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the like cache with Redis. Individual commands are
// atomic on the server, which is what makes SAdd/SRem safe gates for the
// counter under concurrent callers.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache accepts a redis URL or a bare host:port address.
func NewRedisCache(dsn string) *RedisCache {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return &RedisCache{client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return c.client.SIsMember(ctx, key, member).Result()
}

func (c *RedisCache) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.client.SAdd(ctx, key, args...).Result()
}

func (c *RedisCache) SRem(ctx context.Context, key, member string) (int64, error) {
	return c.client.SRem(ctx, key, member).Result()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *RedisCache) Incr(ctx context.Context, key string) error {
	return c.client.Incr(ctx, key).Err()
}

func (c *RedisCache) Decr(ctx context.Context, key string) error {
	return c.client.Decr(ctx, key).Err()
}

func (c *RedisCache) GetInt(ctx context.Context, key string) (int, bool, error) {
	n, err := c.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *RedisCache) SetInt(ctx context.Context, key string, value int) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}
