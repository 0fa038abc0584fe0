// Package cache keeps recently loaded candle series in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backtest-service/services/engine"
)

// Config holds Redis connection settings
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SeriesCache stores candle series as JSON blobs with a fixed TTL.
type SeriesCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	timeout time.Duration
}

func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewSeriesCache(client redis.Cmdable, cfg Config) *SeriesCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &SeriesCache{client: client, ttl: ttl, timeout: timeout}
}

// Get reports a miss as (nil, false, nil).
func (c *SeriesCache) Get(ctx context.Context, key string) ([]engine.Candle, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var series []engine.Candle
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, false, fmt.Errorf("decode cached series %s: %w", key, err)
	}
	return series, true, nil
}

func (c *SeriesCache) Set(ctx context.Context, key string, series []engine.Candle) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encode series: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping is used by the health endpoint.
func (c *SeriesCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
