package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
)

// RedisCache is a distributed backend for multi-instance deployments.
// Redis errors are swallowed: a failed Get is a miss and a failed Put is
// dropped, so the gateway keeps serving when Redis is down.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*Entry, bool) {
	data, err := c.client.Get(ctx, fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("cache get failed, treating as miss", "error", err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}

	// Redis expires the key itself; hit counts are tracked per key.
	c.client.HIncrBy(ctx, "cache:hits", fingerprint, 1)

	return &entry, true
}

func (c *RedisCache) Put(ctx context.Context, fingerprint string, resp domain.Response, ttl time.Duration) error {
	entry := Entry{
		Fingerprint: fingerprint,
		Response:    resp,
		CreatedAt:   time.Now(),
		TTL:         ttl,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, fingerprint, data, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, fingerprint string) error {
	return c.client.Del(ctx, fingerprint).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
