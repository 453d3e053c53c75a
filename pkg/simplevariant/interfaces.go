package simplevariant

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Service answers image lookups and owns the generation pipeline.
type Service interface {
	// UploadOriginal stores a new original and generates its variants.
	UploadOriginal(ctx context.Context, req UploadOriginalRequest) (*Original, error)
	GetOriginal(ctx context.Context, id uuid.UUID) (*Original, error)

	// BestURL picks the best available URL for the image, repairing missing
	// variants inline. It only fails when the original itself is unknown or
	// cannot be loaded; once it is, a failing asset read serves its URL.
	BestURL(ctx context.Context, id uuid.UUID, req SelectRequest) (*Selection, error)
	// Variants returns every known variant of the image.
	Variants(ctx context.Context, id uuid.UUID) (*CacheEntry, error)
	// BatchBestURLs resolves up to MaxBatchSize images at once. Unknown ids
	// are omitted from the result.
	BatchBestURLs(ctx context.Context, ids []uuid.UUID, req SelectRequest) (map[uuid.UUID]*Selection, error)

	// Regenerate rebuilds the named variants (all when none are given).
	Regenerate(ctx context.Context, id uuid.UUID, variants ...string) (map[string]*DerivedAsset, error)
	// FindIncomplete lists originals missing at least one catalog variant.
	FindIncomplete(ctx context.Context, limit int) ([]*IncompleteImage, error)
	// DeleteVariants removes every derived asset of the image. The original stays.
	DeleteVariants(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (*VariantStats, error)
}

// Prober checks whether a stored file is still reachable.
type Prober interface {
	Probe(ctx context.Context, url string) (bool, error)
}

// Fetcher downloads a file by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// BlobStore defines the interface for object storage backends
type BlobStore interface {
	Prober

	// Put stores data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns the public URL an object under key is served from.
	URL(key string) string
}

// Repository defines the metadata store for originals and derived assets
type Repository interface {
	CreateOriginal(ctx context.Context, original *Original) error
	GetOriginal(ctx context.Context, id uuid.UUID) (*Original, error)
	GetOriginals(ctx context.Context, ids []uuid.UUID) ([]*Original, error)

	// UpsertAsset inserts or overwrites the row for (ImageID, Variant).
	UpsertAsset(ctx context.Context, asset *DerivedAsset) error
	ListAssets(ctx context.Context, imageID uuid.UUID) ([]*DerivedAsset, error)
	ListAssetsByImages(ctx context.Context, imageIDs []uuid.UUID) ([]*DerivedAsset, error)
	DeleteAssets(ctx context.Context, imageID uuid.UUID) error

	// ListIncomplete returns up to limit originals, oldest first, lacking at
	// least one of the given variants.
	ListIncomplete(ctx context.Context, variants []string, limit int) ([]*IncompleteImage, error)
	VariantStats(ctx context.Context, variants []string) (*VariantStats, error)
}

// Cache is the short-lived image id to asset map cache used by lookups.
// Implementations must treat entries older than their TTL as misses.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*CacheEntry, bool)
	Set(ctx context.Context, entry *CacheEntry)
	Invalidate(ctx context.Context, id uuid.UUID)
}

// RepairReason tells why an on-demand repair was started.
type RepairReason string

const (
	RepairNoAssets     RepairReason = "no_assets"
	RepairMissingFiles RepairReason = "missing_files"
)

// EventSink receives pipeline events. Implementations must not block.
type EventSink interface {
	VariantGenerated(ctx context.Context, asset *DerivedAsset, elapsed time.Duration)
	VariantFailed(ctx context.Context, imageID uuid.UUID, variant string, err error)
	RepairStarted(ctx context.Context, imageID uuid.UUID, reason RepairReason)
	LookupServed(ctx context.Context, imageID uuid.UUID, cached bool)
}
