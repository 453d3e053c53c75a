// Package redis is a lookup cache shared through Redis. Entry expiry is
// delegated to Redis key TTLs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-variant/pkg/simplevariant"
)

const (
	DefaultTTL       = 5 * time.Minute
	DefaultKeyPrefix = "simplevariant:assets:"
)

// Config options for the Redis cache
type Config struct {
	TTL       time.Duration // Key expiry (default: 5m)
	KeyPrefix string        // Prefix for cache keys (default: simplevariant:assets:)
	Logger    *slog.Logger
}

// Cache implements simplevariant.Cache on top of Redis. Redis failures are
// logged and behave as misses.
type Cache struct {
	client goredis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Redis-backed cache using client
func New(client goredis.UniversalClient, config Config) *Cache {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Cache{
		client: client,
		ttl:    config.TTL,
		prefix: config.KeyPrefix,
		logger: config.Logger,
		now:    time.Now,
	}
}

// NewFromURL parses a redis:// URL and creates the client and cache.
func NewFromURL(redisURL string, config Config) (*Cache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return New(goredis.NewClient(opts), config), nil
}

func (c *Cache) key(id uuid.UUID) string {
	return c.prefix + id.String()
}

// Get loads the entry for id
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (*simplevariant.CacheEntry, bool) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("cache read failed", "image_id", id, "err", err)
		}
		return nil, false
	}

	var entry simplevariant.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "image_id", id, "err", err)
		c.Invalidate(ctx, id)
		return nil, false
	}
	return &entry, true
}

// Set writes the entry with the configured TTL
func (c *Cache) Set(ctx context.Context, entry *simplevariant.CacheEntry) {
	stored := *entry
	stored.StoredAt = c.now()
	data, err := json.Marshal(stored)
	if err != nil {
		c.logger.Warn("cache encode failed", "image_id", entry.ImageID, "err", err)
		return
	}
	if err := c.client.Set(ctx, c.key(entry.ImageID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "image_id", entry.ImageID, "err", err)
	}
}

// Invalidate deletes the entry for id
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", "image_id", id, "err", err)
	}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
