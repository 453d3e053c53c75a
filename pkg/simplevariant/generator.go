package simplevariant

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tendant/simple-variant/pkg/simplevariant/imageproc"
)

const (
	defaultGenerateConcurrency = 4
	defaultVariantTimeout      = 30 * time.Second
)

// Generator produces catalog variants of an original, uploads them and
// records them in the repository.
type Generator struct {
	store   BlobStore
	repo    Repository
	catalog Catalog
	sem     *semaphore.Weighted
	timeout time.Duration
	events  EventSink
	logger  *slog.Logger
	now     func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorConcurrency bounds how many variants are encoded at once
// across all Generate calls.
func WithGeneratorConcurrency(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithVariantTimeout bounds the upload of a single variant.
func WithVariantTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGeneratorEvents sets the sink notified per variant.
func WithGeneratorEvents(sink EventSink) GeneratorOption {
	return func(g *Generator) {
		if sink != nil {
			g.events = sink
		}
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGeneratorClock sets the time source used for row timestamps.
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator creates a generator for catalog writing to store and repo.
func NewGenerator(store BlobStore, repo Repository, catalog Catalog, opts ...GeneratorOption) (*Generator, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		store:   store,
		repo:    repo,
		catalog: catalog,
		sem:     semaphore.NewWeighted(defaultGenerateConcurrency),
		timeout: defaultVariantTimeout,
		events:  NewNoopEventSink(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Catalog returns the variants this generator produces.
func (g *Generator) Catalog() Catalog {
	return g.catalog
}

// Generate produces the named variants (the whole catalog when none are named)
// from the original's bytes. Variants are produced concurrently and
// independently: the result holds exactly the variants that succeeded, and a
// failed variant is logged and left out. The error is non-nil only when the
// original cannot be decoded at all, in which case nothing is written.
func (g *Generator) Generate(ctx context.Context, original *Original, data []byte, variants ...string) (map[string]*DerivedAsset, error) {
	specs := g.specsFor(original.ID, variants)
	if len(specs) == 0 {
		return map[string]*DerivedAsset{}, nil
	}

	img, sourceFormat, err := imageproc.Decode(data)
	if err != nil {
		return nil, &ImageError{ImageID: original.ID, Op: "decode", Err: fmt.Errorf("%w: %v", ErrDecodeFailed, err)}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*DerivedAsset, len(specs))
		group   errgroup.Group
	)
	for _, spec := range specs {
		group.Go(func() error {
			asset, err := g.generateOne(ctx, original, img, sourceFormat, spec)
			if err != nil {
				g.logger.Warn("variant generation failed",
					"image_id", original.ID, "variant", spec.Name, "err", err)
				g.events.VariantFailed(ctx, original.ID, spec.Name, err)
				return nil
			}
			mu.Lock()
			results[spec.Name] = asset
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	g.logger.Debug("variants generated",
		"image_id", original.ID, "requested", len(specs), "succeeded", len(results))
	return results, nil
}

// specsFor resolves requested variant names against the catalog. Unknown
// names are logged and skipped.
func (g *Generator) specsFor(imageID uuid.UUID, variants []string) Catalog {
	if len(variants) == 0 {
		return g.catalog
	}
	known := make([]string, 0, len(variants))
	for _, name := range variants {
		if _, ok := g.catalog.Lookup(name); !ok {
			g.logger.Warn("skipping unknown variant", "image_id", imageID, "variant", name)
			continue
		}
		known = append(known, name)
	}
	if len(known) == 0 {
		return nil
	}
	specs, _ := g.catalog.Subset(known...)
	return specs
}

func (g *Generator) generateOne(ctx context.Context, original *Original, img image.Image, sourceFormat string, spec VariantSpec) (*DerivedAsset, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, &VariantError{ImageID: original.ID, Variant: spec.Name, Op: "schedule", Err: err}
	}
	defer g.sem.Release(1)

	start := time.Now()
	format := spec.Format.Resolve(sourceFormat)
	resized := imageproc.Fit(img, spec.Width)

	data, err := imageproc.EncodeBytes(resized, format, spec.Quality)
	if err != nil {
		return nil, &VariantError{ImageID: original.ID, Variant: spec.Name, Op: "encode", Err: err}
	}

	key := VariantKey(original.StorageKey, spec.Name, format)
	putCtx, cancel := context.WithTimeout(ctx, g.timeout)
	url, err := g.store.Put(putCtx, key, data, format.ContentType())
	cancel()
	if err != nil {
		return nil, &VariantError{ImageID: original.ID, Variant: spec.Name, Op: "upload", Err: err}
	}

	now := g.now()
	bounds := resized.Bounds()
	asset := &DerivedAsset{
		ImageID:     original.ID,
		Variant:     spec.Name,
		Key:         key,
		URL:         url,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		SizeBytes:   int64(len(data)),
		ContentType: format.ContentType(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.repo.UpsertAsset(ctx, asset); err != nil {
		return nil, &VariantError{ImageID: original.ID, Variant: spec.Name, Op: "record", Err: err}
	}

	g.events.VariantGenerated(ctx, asset, time.Since(start))
	return asset, nil
}
