package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
)

const seenPrefix = "stockbot:seen:"

// RedisCache реализует domain.Cache и domain.SeenWindow через Redis.
type RedisCache struct {
	client  *redis.Client
	seenTTL time.Duration
}

// NewRedis создаёт кэш. seenTTL задаёт ширину окна дедупликации.
func NewRedis(client *redis.Client, seenTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, seenTTL: seenTTL}
}

// Seen проверяет ключ через EXISTS.
func (c *RedisCache) Seen(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	n, err := c.client.Exists(ctx, seenPrefix+key).Result()
	metrics.ObserveNetworkRequest("redis", "exists", "seen", start, err)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkIfNew ставит ключ через SET NX и сообщает, был ли он новым.
func (c *RedisCache) MarkIfNew(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, seenPrefix+key, "1", c.seenTTL).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "seen", start, err)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Set задаёт значение.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", "cache", start, err)
	return err
}

// Get возвращает значение или domain.ErrNotFound.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "cache", start, nil)
		return nil, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("redis", "get", "cache", start, err)
	return data, err
}

var (
	_ domain.Cache      = (*RedisCache)(nil)
	_ domain.SeenWindow = (*RedisCache)(nil)
)
