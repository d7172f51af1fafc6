package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olyamironova/exchange-core/internal/port"
)

var _ port.Cache = (*RedisCache)(nil)

// RedisCache holds the idempotency mappings and carries the pub/sub
// fan-out. Entries are disposable: losing them never compromises
// correctness because the orders table is authoritative.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func idempotencyKey(key string) string { return "idempotency:" + key }

// PutIdempotencyKey is SET NX with TTL: first writer wins.
func (c *RedisCache) PutIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, idempotencyKey(key), orderID, ttl).Result()
}

func (c *RedisCache) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (c *RedisCache) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channel, data).Err()
}
