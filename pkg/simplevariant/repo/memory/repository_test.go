package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/repo/memory"
)

func newOriginal(createdAt time.Time) *simplevariant.Original {
	id := uuid.New()
	return &simplevariant.Original{
		ID:         id,
		StorageKey: "originals/" + id.String() + ".jpg",
		URL:        "memory://originals/" + id.String() + ".jpg",
		Width:      2000,
		Height:     1500,
		Format:     "jpeg",
		CreatedAt:  createdAt,
	}
}

func newAsset(imageID uuid.UUID, variant string, size int64) *simplevariant.DerivedAsset {
	now := time.Now()
	return &simplevariant.DerivedAsset{
		ImageID:   imageID,
		Variant:   variant,
		URL:       "memory://variants/" + variant + "/" + imageID.String() + ".jpg",
		Width:     320,
		Height:    240,
		SizeBytes: size,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryRepository_Originals(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	original := newOriginal(time.Now())
	require.NoError(t, repo.CreateOriginal(ctx, original))

	t.Run("GetOriginal", func(t *testing.T) {
		got, err := repo.GetOriginal(ctx, original.ID)
		require.NoError(t, err)
		assert.Equal(t, original.StorageKey, got.StorageKey)

		got.URL = "mutated"
		again, err := repo.GetOriginal(ctx, original.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", again.URL)
	})

	t.Run("GetOriginalNotFound", func(t *testing.T) {
		_, err := repo.GetOriginal(ctx, uuid.New())
		assert.ErrorIs(t, err, simplevariant.ErrImageNotFound)
	})

	t.Run("GetOriginalsSkipsUnknown", func(t *testing.T) {
		got, err := repo.GetOriginals(ctx, []uuid.UUID{uuid.New(), original.ID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, original.ID, got[0].ID)
	})
}

func TestMemoryRepository_UpsertIsIdempotent(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	imageID := uuid.New()

	first := newAsset(imageID, "thumb", 100)
	require.NoError(t, repo.UpsertAsset(ctx, first))

	second := newAsset(imageID, "thumb", 200)
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	require.NoError(t, repo.UpsertAsset(ctx, second))

	assets, err := repo.ListAssets(ctx, imageID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, int64(200), assets[0].SizeBytes)
	assert.True(t, first.CreatedAt.Equal(assets[0].CreatedAt), "created_at survives overwrite")
}

func TestMemoryRepository_ListAssetsByImages(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, repo.UpsertAsset(ctx, newAsset(a, "thumb", 1)))
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(a, "webp", 1)))
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(b, "large", 1)))

	assets, err := repo.ListAssetsByImages(ctx, []uuid.UUID{a, b, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, assets, 3)

	require.NoError(t, repo.DeleteAssets(ctx, a))
	assets, err = repo.ListAssets(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestMemoryRepository_ListIncomplete(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	variants := []string{"thumb", "webp"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	complete := newOriginal(base)
	missingWebp := newOriginal(base.Add(time.Minute))
	missingAll := newOriginal(base.Add(2 * time.Minute))
	for _, o := range []*simplevariant.Original{missingAll, complete, missingWebp} {
		require.NoError(t, repo.CreateOriginal(ctx, o))
	}
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(complete.ID, "thumb", 1)))
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(complete.ID, "webp", 1)))
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(missingWebp.ID, "thumb", 1)))

	incomplete, err := repo.ListIncomplete(ctx, variants, 10)
	require.NoError(t, err)
	require.Len(t, incomplete, 2)
	assert.Equal(t, missingWebp.ID, incomplete[0].Original.ID)
	assert.Equal(t, []string{"webp"}, incomplete[0].Missing)
	assert.Equal(t, missingAll.ID, incomplete[1].Original.ID)
	assert.Equal(t, []string{"thumb", "webp"}, incomplete[1].Missing)

	limited, err := repo.ListIncomplete(ctx, variants, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryRepository_VariantStats(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	a, b := newOriginal(time.Now()), newOriginal(time.Now())
	require.NoError(t, repo.CreateOriginal(ctx, a))
	require.NoError(t, repo.CreateOriginal(ctx, b))
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(a.ID, "thumb", 100)))
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(b.ID, "thumb", 300)))
	require.NoError(t, repo.UpsertAsset(ctx, newAsset(a.ID, "webp", 50)))

	stats, err := repo.VariantStats(ctx, []string{"thumb", "webp", "large"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalImages)
	assert.Equal(t, int64(3), stats.TotalAssets)
	require.Len(t, stats.Variants, 3)

	thumb := stats.Variants[0]
	assert.Equal(t, int64(2), thumb.Count)
	assert.Equal(t, 200.0, thumb.AvgSize)
	assert.Equal(t, int64(100), thumb.MinSize)
	assert.Equal(t, int64(300), thumb.MaxSize)
	assert.Equal(t, 1.0, thumb.Coverage)

	assert.Equal(t, 0.5, stats.Variants[1].Coverage)
	assert.Equal(t, int64(0), stats.Variants[2].Count)
}
