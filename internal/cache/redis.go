// Package cache provides a small Redis wrapper used for best-effort status
// sharing, e.g. the last mailbox poll outcome read by health endpoints and
// dashboards. Nothing in the ingest path depends on it being up.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
)

// RedisCache stores JSON-encoded values under a common key prefix.
type RedisCache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

// New connects to Redis and verifies the connection once.
func New(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "rfpflow:"
	}
	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, keyPrefix: prefix, defaultTTL: ttl}, nil
}

// Set stores a JSON-encoded value with the default TTL.
func (rc *RedisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := rc.client.Set(ctx, rc.keyPrefix+key, data, rc.defaultTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get loads a JSON-encoded value into dest. Missing keys return false with a
// nil error.
func (rc *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := rc.client.Get(ctx, rc.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return true, nil
}

// Close releases the client connection pool.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
