package simplevariant_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-variant/pkg/simplevariant"
	memoryrepo "github.com/tendant/simple-variant/pkg/simplevariant/repo/memory"
	memorystorage "github.com/tendant/simple-variant/pkg/simplevariant/storage/memory"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var errInjected = errors.New("injected failure")

// flakyStore fails Put for keys containing any of the configured fragments.
type flakyStore struct {
	*memorystorage.Backend
	mu       sync.Mutex
	failPuts []string
	puts     atomic.Int32
}

func newFlakyStore(failPuts ...string) *flakyStore {
	return &flakyStore{Backend: memorystorage.New(), failPuts: failPuts}
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.puts.Add(1)
	s.mu.Lock()
	fail := false
	for _, fragment := range s.failPuts {
		if strings.Contains(key, fragment) {
			fail = true
		}
	}
	s.mu.Unlock()
	if fail {
		return "", errInjected
	}
	return s.Backend.Put(ctx, key, data, contentType)
}

func (s *flakyStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = nil
}

// recordingSink records the events it receives.
type recordingSink struct {
	mu        sync.Mutex
	generated []string
	failed    []string
	repairs   []simplevariant.RepairReason
	hits      int
	misses    int
}

func (r *recordingSink) VariantGenerated(ctx context.Context, asset *simplevariant.DerivedAsset, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated = append(r.generated, asset.Variant)
}

func (r *recordingSink) VariantFailed(ctx context.Context, imageID uuid.UUID, variant string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, variant)
}

func (r *recordingSink) RepairStarted(ctx context.Context, imageID uuid.UUID, reason simplevariant.RepairReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repairs = append(r.repairs, reason)
}

func (r *recordingSink) LookupServed(ctx context.Context, imageID uuid.UUID, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *recordingSink) repairCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.repairs)
}

// gatedStore blocks Download until release is closed and counts downloads.
type gatedStore struct {
	*memorystorage.Backend
	release   chan struct{}
	downloads atomic.Int32
}

func (s *gatedStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.downloads.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Backend.Download(ctx, key)
}

// staticFetcher serves fixed bytes for any URL.
type staticFetcher struct {
	data  []byte
	calls atomic.Int32
}

func (f *staticFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.data == nil {
		return nil, errInjected
	}
	return f.data, nil
}

// assetReadFailingRepo serves originals but fails every asset listing.
type assetReadFailingRepo struct {
	*memoryrepo.Repository
}

func (r assetReadFailingRepo) ListAssets(ctx context.Context, imageID uuid.UUID) ([]*simplevariant.DerivedAsset, error) {
	return nil, errInjected
}

func (r assetReadFailingRepo) ListAssetsByImages(ctx context.Context, imageIDs []uuid.UUID) ([]*simplevariant.DerivedAsset, error) {
	return nil, errInjected
}
