package reconcile_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
	memoryrepo "github.com/tendant/simple-variant/pkg/simplevariant/repo/memory"
	memorystorage "github.com/tendant/simple-variant/pkg/simplevariant/storage/memory"
)

// putRecordingStore remembers every key written.
type putRecordingStore struct {
	*memorystorage.Backend
	mu   sync.Mutex
	keys []string
}

func (s *putRecordingStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return s.Backend.Put(ctx, key, data, contentType)
}

func (s *putRecordingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
}

func (s *putRecordingStore) putKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

type pipeline struct {
	repo    *memoryrepo.Repository
	store   *putRecordingStore
	service simplevariant.Service
	rec     *reconcile.Reconciler
	now     time.Time
}

func newPipeline(t *testing.T, config reconcile.Config) *pipeline {
	t.Helper()
	p := &pipeline{
		repo:  memoryrepo.New(),
		store: &putRecordingStore{Backend: memorystorage.New()},
		now:   time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return p.now }

	svc, err := simplevariant.New(
		simplevariant.WithRepository(p.repo),
		simplevariant.WithBlobStore(p.store),
		simplevariant.WithClock(clock),
	)
	require.NoError(t, err)
	p.service = svc

	config.ItemDelay = -1
	config.Now = clock
	rec, err := reconcile.New(svc, simplevariant.NewActivityClock(clock), config)
	require.NoError(t, err)
	p.rec = rec
	return p
}

func (p *pipeline) seedOriginal(t *testing.T, data []byte, createdAt time.Time) *simplevariant.Original {
	t.Helper()
	ctx := context.Background()
	key := "originals/2024/06/" + uuid.NewString() + ".png"
	url, err := p.store.Backend.Put(ctx, key, data, "image/png")
	require.NoError(t, err)

	original := &simplevariant.Original{
		ID:          uuid.New(),
		StorageKey:  key,
		URL:         url,
		Width:       40,
		Height:      30,
		Format:      "png",
		ContentType: "image/png",
		CreatedAt:   createdAt,
	}
	require.NoError(t, p.repo.CreateOriginal(ctx, original))
	return original
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 6), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestReconcile_RegeneratesOnlyMissingVariant(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, reconcile.Config{})
	original := p.seedOriginal(t, encodePNG(t, 40, 30), p.now)

	seededAt := p.now.Add(-24 * time.Hour)
	for _, name := range []string{simplevariant.VariantThumb, simplevariant.VariantSmall, simplevariant.VariantMedium, simplevariant.VariantLarge} {
		require.NoError(t, p.repo.UpsertAsset(ctx, &simplevariant.DerivedAsset{
			ImageID:   original.ID,
			Variant:   name,
			Key:       "variants/" + name + "/seeded.png",
			URL:       "https://cdn.example.com/" + name + ".png",
			Width:     40,
			Height:    30,
			SizeBytes: 100,
			CreatedAt: seededAt,
			UpdatedAt: seededAt,
		}))
	}
	p.store.reset()

	summary, err := p.rec.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 1, summary.Processed)

	keys := p.store.putKeys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "variants/webp/"))
	assert.True(t, strings.HasSuffix(keys[0], ".webp"))

	rows, err := p.repo.ListAssets(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		if row.Variant == simplevariant.VariantWebP {
			assert.Equal(t, p.now, row.UpdatedAt)
			assert.Equal(t, "image/webp", row.ContentType)
			continue
		}
		assert.Equal(t, "https://cdn.example.com/"+row.Variant+".png", row.URL)
		assert.Equal(t, seededAt, row.UpdatedAt)
	}

	incomplete, err := p.service.FindIncomplete(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, incomplete)
}

func TestReconcile_CorruptOriginalDoesNotBlockScan(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, reconcile.Config{ScanLimit: 1})
	corrupt := p.seedOriginal(t, []byte("not an image"), p.now.Add(-time.Hour))
	valid := p.seedOriginal(t, encodePNG(t, 40, 30), p.now)

	summary, err := p.rec.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{corrupt.ID.String()}, summary.FailedIDs)

	summary, err = p.rec.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deferred)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Failed)

	rows, err := p.repo.ListAssets(ctx, valid.ID)
	require.NoError(t, err)
	assert.Len(t, rows, len(simplevariant.DefaultCatalog()))

	rows, err = p.repo.ListAssets(ctx, corrupt.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
