package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds history-derived strategies between turns. It is optional:
// NopCache is used when no cache is configured.
type Cache interface {
	Get(ctx context.Context, userID string) (Strategy, bool, error)
	Set(ctx context.Context, userID string, s Strategy) error
	Invalidate(ctx context.Context, userID string) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, string) (Strategy, bool, error) { return Strategy{}, false, nil }
func (NopCache) Set(context.Context, string, Strategy) error         { return nil }
func (NopCache) Invalidate(context.Context, string) error            { return nil }

const (
	DefaultCacheTTL    = 5 * time.Minute
	defaultCachePrefix = "resonance:strategy"
)

// RedisCache stores strategies as JSON under "<prefix>:<userID>".
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: defaultCachePrefix, ttl: ttl}
}

// DialRedis parses a redis:// URL and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + ":" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) (Strategy, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Strategy{}, false, nil
	}
	if err != nil {
		return Strategy{}, false, fmt.Errorf("redis get strategy: %w", err)
	}
	var s Strategy
	if err := json.Unmarshal(raw, &s); err != nil {
		return Strategy{}, false, fmt.Errorf("decode cached strategy: %w", err)
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, s Strategy) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode strategy: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set strategy: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del strategy: %w", err)
	}
	return nil
}
