/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for playlist metadata and plans.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/playplan/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultPlaylistTTL = 30 * time.Minute
	DefaultPlanTTL     = 10 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyPrefix   = "playplan:cache:"
	KeyPlaylist = KeyPrefix + "playlist:" // + playlist_id
	KeyPlan     = KeyPrefix + "plan:"     // + plan_id
)

// Store is the cache surface used by the playlist proxy and plan service.
// Values are opaque JSON blobs.
type Store interface {
	GetPlaylist(ctx context.Context, playlistID string) ([]byte, bool)
	SetPlaylist(ctx context.Context, playlistID string, data []byte) error
	InvalidatePlaylist(ctx context.Context, playlistID string) error
	GetPlan(ctx context.Context, planID string) ([]byte, bool)
	SetPlan(ctx context.Context, planID string, data []byte) error
	InvalidatePlan(ctx context.Context, planID string) error
}

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	PlaylistTTL time.Duration
	PlanTTL     time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable Redis on errors and serve from memory
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		PlaylistTTL:    DefaultPlaylistTTL,
		PlanTTL:        DefaultPlanTTL,
		DisableOnError: true,
	}
}

func (c Config) withDefaults() Config {
	if c.PlaylistTTL <= 0 {
		c.PlaylistTTL = DefaultPlaylistTTL
	}
	if c.PlanTTL <= 0 {
		c.PlanTTL = DefaultPlanTTL
	}
	return c
}

// Cache provides Redis-backed caching with an in-memory fallback.
type Cache struct {
	client   *redis.Client
	fallback *Memory
	logger   zerolog.Logger
	config   Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis is not an error;
// the cache serves from fallback instead.
func New(cfg Config, fallback *Memory, logger zerolog.Logger) (*Cache, error) {
	cfg = cfg.withDefaults()
	if fallback == nil {
		fallback = NewMemory(cfg, nil, nil)
	}
	logger = logger.With().Str("component", "cache").Logger()

	if cfg.RedisAddr == "" {
		logger.Info().Msg("Redis not configured, using in-memory cache")
		return &Cache{fallback: fallback, logger: logger, config: cfg, disabled: true}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, using in-memory cache")
		_ = client.Close()
		return &Cache{fallback: fallback, logger: logger, config: cfg, disabled: true}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client:   client,
		fallback: fallback,
		logger:   logger,
		config:   cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if Redis is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling Redis cache due to error, falling back to memory")
	}
}

func (c *Cache) get(ctx context.Context, kind, key string) ([]byte, bool) {
	var (
		data  []byte
		found bool
	)
	if c.IsAvailable() {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			data, found = raw, true
		case errors.Is(err, redis.Nil):
		default:
			c.handleError(err, "get")
			data, found = c.fallback.get(key)
		}
	} else {
		data, found = c.fallback.get(key)
	}

	if found {
		telemetry.CacheHitsTotal.WithLabelValues(kind).Inc()
	} else {
		telemetry.CacheMissesTotal.WithLabelValues(kind).Inc()
	}
	return data, found
}

func (c *Cache) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if !c.IsAvailable() {
		c.fallback.set(key, data, ttl)
		return nil
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		c.fallback.set(key, data, ttl)
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	c.fallback.delete(key)
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// GetPlaylist retrieves cached playlist metadata.
func (c *Cache) GetPlaylist(ctx context.Context, playlistID string) ([]byte, bool) {
	data, ok := c.get(ctx, "playlist", KeyPlaylist+playlistID)
	if ok {
		c.logger.Debug().Str("playlist_id", playlistID).Msg("playlist cache hit")
	}
	return data, ok
}

// SetPlaylist caches playlist metadata.
func (c *Cache) SetPlaylist(ctx context.Context, playlistID string, data []byte) error {
	c.logger.Debug().Str("playlist_id", playlistID).Msg("caching playlist")
	return c.set(ctx, KeyPlaylist+playlistID, data, c.config.PlaylistTTL)
}

// InvalidatePlaylist removes a playlist from cache.
func (c *Cache) InvalidatePlaylist(ctx context.Context, playlistID string) error {
	c.logger.Debug().Str("playlist_id", playlistID).Msg("invalidating playlist cache")
	return c.delete(ctx, KeyPlaylist+playlistID)
}

// GetPlan retrieves a cached plan.
func (c *Cache) GetPlan(ctx context.Context, planID string) ([]byte, bool) {
	return c.get(ctx, "plan", KeyPlan+planID)
}

// SetPlan caches a plan.
func (c *Cache) SetPlan(ctx context.Context, planID string, data []byte) error {
	return c.set(ctx, KeyPlan+planID, data, c.config.PlanTTL)
}

// InvalidatePlan removes a plan from cache.
func (c *Cache) InvalidatePlan(ctx context.Context, planID string) error {
	c.logger.Debug().Str("plan_id", planID).Msg("invalidating plan cache")
	return c.delete(ctx, KeyPlan+planID)
}

// Flush removes every cached key under prefix, which must be one of the
// Key constants, and reports how many Redis keys were deleted. Fallback
// entries under prefix are always dropped.
func (c *Cache) Flush(ctx context.Context, prefix string) (int, error) {
	if !strings.HasPrefix(prefix, KeyPrefix) {
		return 0, fmt.Errorf("cache: flush prefix %q outside %s", prefix, KeyPrefix)
	}
	c.logger.Warn().Str("prefix", prefix).Msg("flushing cache data")
	c.fallback.flush(prefix)
	if !c.IsAvailable() {
		return 0, nil
	}

	// SCAN rather than KEYS so a large keyspace does not block Redis.
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return removed, err
		}

		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.handleError(err, "delete_batch")
				return removed, err
			}
			removed += int(n)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
