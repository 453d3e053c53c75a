package simplevariant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tendant/simple-variant/pkg/simplevariant/imageproc"
)

const (
	defaultProbeTimeout     = 5 * time.Second
	defaultFetchTimeout     = 30 * time.Second
	defaultProbeConcurrency = 8
)

// service implements the Service interface
type service struct {
	repository Repository
	store      BlobStore
	cache      Cache
	catalog    Catalog
	prober     Prober
	fetcher    Fetcher
	eventSink  EventSink
	logger     *slog.Logger
	now        func() time.Time

	generator    *Generator
	generateOpts []GeneratorOption
	repairs      singleflight.Group

	probeAssets      bool
	probeTimeout     time.Duration
	probeConcurrency int
	fetchTimeout     time.Duration
}

// Option is a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the object storage backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithCache sets the lookup cache. Without it lookups are not cached.
func WithCache(cache Cache) Option {
	return func(s *service) {
		s.cache = cache
	}
}

// WithCatalog replaces the default variant catalog
func WithCatalog(catalog Catalog) Option {
	return func(s *service) {
		s.catalog = catalog
	}
}

// WithProber sets how asset URLs are checked for existence. Defaults to the blob store.
func WithProber(prober Prober) Option {
	return func(s *service) {
		s.prober = prober
	}
}

// WithFetcher sets a fallback used to download an original by URL when the
// blob store cannot return it.
func WithFetcher(fetcher Fetcher) Option {
	return func(s *service) {
		s.fetcher = fetcher
	}
}

// WithEventSink sets the event sink
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithAssetProbing enables or disables existence probes on cache misses
func WithAssetProbing(enabled bool) Option {
	return func(s *service) {
		s.probeAssets = enabled
	}
}

// WithProbeTimeout bounds a single existence probe
func WithProbeTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithFetchTimeout bounds downloading an original for regeneration
func WithFetchTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithGeneratorOptions passes options through to the variant generator
func WithGeneratorOptions(opts ...GeneratorOption) Option {
	return func(s *service) {
		s.generateOpts = append(s.generateOpts, opts...)
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		catalog:          DefaultCatalog(),
		probeAssets:      true,
		probeTimeout:     defaultProbeTimeout,
		probeConcurrency: defaultProbeConcurrency,
		fetchTimeout:     defaultFetchTimeout,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, errors.New("repository is required")
	}
	if s.store == nil {
		return nil, errors.New("blob store is required")
	}
	if s.cache == nil {
		s.cache = NewNoopCache()
	}
	if s.prober == nil {
		s.prober = s.store
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	genOpts := append([]GeneratorOption{
		WithGeneratorEvents(s.eventSink),
		WithGeneratorLogger(s.logger),
		WithGeneratorClock(s.now),
	}, s.generateOpts...)
	generator, err := NewGenerator(s.store, s.repository, s.catalog, genOpts...)
	if err != nil {
		return nil, err
	}
	s.generator = generator

	return s, nil
}

// Original operations

func (s *service) UploadOriginal(ctx context.Context, req UploadOriginalRequest) (*Original, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyUpload
	}

	cfg, format, err := imageproc.DecodeConfig(req.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	id := uuid.New()
	now := s.now()
	key := fmt.Sprintf("originals/%04d/%02d/%s%s", now.Year(), int(now.Month()), id, originalExtension(req.Filename, format))

	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "image/" + format
	}

	url, err := s.store.Put(ctx, key, req.Data, contentType)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "store original", Err: err}
	}

	original := &Original{
		ID:          id,
		StorageKey:  key,
		URL:         url,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      format,
		ContentType: contentType,
		SizeBytes:   int64(len(req.Data)),
		CreatedAt:   now,
	}
	if err := s.repository.CreateOriginal(ctx, original); err != nil {
		return nil, &ImageError{ImageID: id, Op: "record original", Err: err}
	}

	generated, err := s.generator.Generate(ctx, original, req.Data)
	if err != nil {
		s.logger.Warn("variant generation after upload failed", "image_id", id, "err", err)
	} else {
		s.logger.Info("original uploaded", "image_id", id, "key", key, "variants", len(generated))
	}
	return original, nil
}

func originalExtension(filename, format string) string {
	if ext := strings.ToLower(path.Ext(filename)); ext != "" {
		return ext
	}
	if format == "jpeg" {
		return ".jpg"
	}
	return "." + format
}

func (s *service) GetOriginal(ctx context.Context, id uuid.UUID) (*Original, error) {
	return s.repository.GetOriginal(ctx, id)
}

// Lookup operations

func (s *service) BestURL(ctx context.Context, id uuid.UUID, req SelectRequest) (*Selection, error) {
	entry, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	choice := Select(entry.Assets, req, entry.OriginalURL)
	return &Selection{ImageID: id, URL: choice.URL, Variant: choice.Variant}, nil
}

func (s *service) Variants(ctx context.Context, id uuid.UUID) (*CacheEntry, error) {
	return s.lookup(ctx, id)
}

func (s *service) BatchBestURLs(ctx context.Context, ids []uuid.UUID, req SelectRequest) (map[uuid.UUID]*Selection, error) {
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyImages, len(ids), MaxBatchSize)
	}

	results := make(map[uuid.UUID]*Selection, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	var misses []uuid.UUID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if entry, ok := s.cache.Get(ctx, id); ok {
			s.eventSink.LookupServed(ctx, id, true)
			results[id] = selectFor(entry, req)
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return results, nil
	}

	originals, err := s.repository.GetOriginals(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("failed to load originals: %w", err)
	}
	rows, err := s.repository.ListAssetsByImages(ctx, misses)
	if err != nil {
		s.logger.Warn("failed to list batch assets, serving originals", "images", len(misses), "err", err)
		rows = nil
	}

	byImage := make(map[uuid.UUID][]*DerivedAsset, len(originals))
	for _, row := range rows {
		byImage[row.ImageID] = append(byImage[row.ImageID], row)
	}

	for _, original := range originals {
		s.eventSink.LookupServed(ctx, original.ID, false)
		entry := &CacheEntry{
			ImageID:     original.ID,
			OriginalURL: original.URL,
			Assets:      AssetsFrom(byImage[original.ID]),
			StoredAt:    s.now(),
		}
		if len(entry.Assets) > 0 {
			s.cache.Set(ctx, entry)
		}
		results[original.ID] = selectFor(entry, req)
	}
	return results, nil
}

func selectFor(entry *CacheEntry, req SelectRequest) *Selection {
	choice := Select(entry.Assets, req, entry.OriginalURL)
	return &Selection{ImageID: entry.ImageID, URL: choice.URL, Variant: choice.Variant}
}

// Maintenance operations

func (s *service) Regenerate(ctx context.Context, id uuid.UUID, variants ...string) (map[string]*DerivedAsset, error) {
	if _, err := s.catalog.Subset(variants...); err != nil {
		return nil, err
	}
	original, err := s.repository.GetOriginal(ctx, id)
	if err != nil {
		return nil, err
	}

	generated, err := s.regenerate(ctx, original, variants...)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, id)
	return generated, nil
}

func (s *service) FindIncomplete(ctx context.Context, limit int) ([]*IncompleteImage, error) {
	return s.repository.ListIncomplete(ctx, s.catalog.Names(), limit)
}

func (s *service) DeleteVariants(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetOriginal(ctx, id); err != nil {
		return err
	}
	rows, err := s.repository.ListAssets(ctx, id)
	if err != nil {
		return &ImageError{ImageID: id, Op: "delete variants", Err: err}
	}

	for _, row := range rows {
		if row.Key == "" {
			continue
		}
		if err := s.store.Delete(ctx, row.Key); err != nil && !errors.Is(err, ErrObjectNotFound) {
			s.logger.Warn("failed to delete variant file", "image_id", id, "variant", row.Variant, "key", row.Key, "err", err)
		}
	}

	if err := s.repository.DeleteAssets(ctx, id); err != nil {
		return &ImageError{ImageID: id, Op: "delete variants", Err: err}
	}
	s.cache.Invalidate(ctx, id)
	s.logger.Info("variants deleted", "image_id", id, "count", len(rows))
	return nil
}

func (s *service) Stats(ctx context.Context) (*VariantStats, error) {
	return s.repository.VariantStats(ctx, s.catalog.Names())
}

// downloadOriginal reads the original's bytes from the blob store
func (s *service) downloadOriginal(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
