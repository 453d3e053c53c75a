package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-variant/pkg/simplevariant"
	rediscache "github.com/tendant/simple-variant/pkg/simplevariant/cache/redis"
)

func setup(t *testing.T) (*miniredis.Miniredis, *rediscache.Cache) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, rediscache.New(client, rediscache.Config{TTL: 5 * time.Minute})
}

func TestRedisCache(t *testing.T) {
	mr, cache := setup(t)
	ctx := context.Background()
	id := uuid.New()

	_, ok := cache.Get(ctx, id)
	assert.False(t, ok)

	cache.Set(ctx, &simplevariant.CacheEntry{
		ImageID:     id,
		OriginalURL: "https://cdn.example.com/orig.jpg",
		Assets:      simplevariant.Assets{"webp": {URL: "https://cdn.example.com/a.webp", Width: 1280, Height: 720, SizeBytes: 4096}},
	})

	got, ok := cache.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, id, got.ImageID)
	assert.Equal(t, 1280, got.Assets["webp"].Width)
	assert.False(t, got.StoredAt.IsZero())

	assert.True(t, mr.Exists("simplevariant:assets:"+id.String()))
	assert.Equal(t, 5*time.Minute, mr.TTL("simplevariant:assets:"+id.String()))

	t.Run("ExpiresWithTTL", func(t *testing.T) {
		mr.FastForward(5*time.Minute + time.Second)
		_, ok := cache.Get(ctx, id)
		assert.False(t, ok)
	})

	t.Run("Invalidate", func(t *testing.T) {
		other := uuid.New()
		cache.Set(ctx, &simplevariant.CacheEntry{ImageID: other})
		cache.Invalidate(ctx, other)
		_, ok := cache.Get(ctx, other)
		assert.False(t, ok)
	})

	t.Run("CorruptEntryIsMiss", func(t *testing.T) {
		bad := uuid.New()
		require.NoError(t, mr.Set("simplevariant:assets:"+bad.String(), "{not json"))
		_, ok := cache.Get(ctx, bad)
		assert.False(t, ok)
		assert.False(t, mr.Exists("simplevariant:assets:"+bad.String()))
	})
}

func TestRedisCacheDegradesWhenDown(t *testing.T) {
	mr, cache := setup(t)
	mr.Close()

	ctx := context.Background()
	id := uuid.New()
	cache.Set(ctx, &simplevariant.CacheEntry{ImageID: id})
	_, ok := cache.Get(ctx, id)
	assert.False(t, ok)
}
