/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently
// accessed records, with a circuit breaker that degrades to pass-through
// when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultVolumeListTTL = 5 * time.Minute
	DefaultWatcherTTL    = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	keyPrefix     = "scannarr:cache:"
	KeyVolumeList = keyPrefix + "volumes"
	KeyWatcher    = keyPrefix + "watcher:" // + watcher_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VolumeListTTL time.Duration
	WatcherTTL    time.Duration

	// If true, disable caching on Redis errors instead of retrying.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		VolumeListTTL:  DefaultVolumeListTTL,
		WatcherTTL:     DefaultWatcherTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.handleError(err, "get")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cache entry corrupt, dropping")
		c.client.Del(ctx, key)
		return false
	}
	return true
}

// set stores a value in cache with a TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.IsAvailable() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
	}
}

// GetVolumes returns the cached volume list, if present.
func (c *Cache) GetVolumes(ctx context.Context) ([]models.Volume, bool) {
	var vols []models.Volume
	if c.get(ctx, KeyVolumeList, &vols) {
		return vols, true
	}
	return nil, false
}

// SetVolumes caches the volume list.
func (c *Cache) SetVolumes(ctx context.Context, vols []models.Volume) {
	c.set(ctx, KeyVolumeList, vols, c.config.VolumeListTTL)
}

// GetWatcher returns a cached watcher row, if present.
func (c *Cache) GetWatcher(ctx context.Context, id string) (*models.Watcher, bool) {
	var w models.Watcher
	if c.get(ctx, KeyWatcher+id, &w) {
		return &w, true
	}
	return nil, false
}

// SetWatcher caches a watcher row.
func (c *Cache) SetWatcher(ctx context.Context, w *models.Watcher) {
	c.set(ctx, KeyWatcher+w.ID, w, c.config.WatcherTTL)
}

// Clear drops every cached entry. Called after handler failures and scan
// batch flushes so the next message never sees stale or partial state.
func (c *Cache) Clear(ctx context.Context) {
	if !c.IsAvailable() {
		return
	}

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.handleError(err, "clear")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.handleError(err, "clear")
		}
	}
}
