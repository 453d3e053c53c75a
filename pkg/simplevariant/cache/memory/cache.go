// Package memory is a bounded, TTL-based in-process lookup cache.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/simple-variant/pkg/simplevariant"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 10000
)

// Config options for the memory cache
type Config struct {
	TTL      time.Duration    // Age after which an entry is a miss (default: 5m)
	Capacity int              // Maximum entries before least recently used eviction (default: 10000)
	Now      func() time.Time // Time source (default: time.Now)
}

// Cache implements simplevariant.Cache. Entries older than TTL are misses
// regardless of capacity; capacity only bounds memory.
type Cache struct {
	entries *lru.Cache[uuid.UUID, simplevariant.CacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

// New creates a memory cache
func New(config Config) (*Cache, error) {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	entries, err := lru.New[uuid.UUID, simplevariant.CacheEntry](config.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &Cache{entries: entries, ttl: config.TTL, now: config.Now}, nil
}

// Get returns a copy of the entry for id when it is younger than the TTL.
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (*simplevariant.CacheEntry, bool) {
	entry, ok := c.entries.Get(id)
	if !ok {
		return nil, false
	}
	if c.expired(entry) {
		c.entries.Remove(id)
		return nil, false
	}
	return cloneEntry(entry), true
}

// Set stores entry, stamping it with the current time.
func (c *Cache) Set(ctx context.Context, entry *simplevariant.CacheEntry) {
	stored := *cloneEntry(*entry)
	stored.StoredAt = c.now()
	c.entries.Add(entry.ImageID, stored)
}

// Invalidate drops the entry for id.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) {
	c.entries.Remove(id)
}

// Len returns the number of entries held, expired or not.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	removed := 0
	for _, id := range c.entries.Keys() {
		entry, ok := c.entries.Peek(id)
		if ok && c.expired(entry) {
			c.entries.Remove(id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

func (c *Cache) expired(entry simplevariant.CacheEntry) bool {
	return !c.now().Before(entry.StoredAt.Add(c.ttl))
}

func cloneEntry(entry simplevariant.CacheEntry) *simplevariant.CacheEntry {
	assets := make(simplevariant.Assets, len(entry.Assets))
	for name, info := range entry.Assets {
		assets[name] = info
	}
	entry.Assets = assets
	return &entry
}
