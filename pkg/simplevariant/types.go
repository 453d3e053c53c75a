package simplevariant

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Original is an uploaded, unmodified source image.
type Original struct {
	ID          uuid.UUID `json:"id" yaml:"id"`
	StorageKey  string    `json:"storage_key" yaml:"storage_key"`
	URL         string    `json:"url" yaml:"url"`
	Width       int       `json:"width" yaml:"width"`
	Height      int       `json:"height" yaml:"height"`
	Format      string    `json:"format" yaml:"format"`
	ContentType string    `json:"content_type" yaml:"content_type"`
	SizeBytes   int64     `json:"size_bytes" yaml:"size_bytes"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// DerivedAsset is one generated variant of one original.
// At most one exists per (ImageID, Variant).
type DerivedAsset struct {
	ImageID     uuid.UUID `json:"image_id" yaml:"image_id"`
	Variant     string    `json:"variant" yaml:"variant"`
	Key         string    `json:"key" yaml:"key"`
	URL         string    `json:"url" yaml:"url"`
	Width       int       `json:"width" yaml:"width"`
	Height      int       `json:"height" yaml:"height"`
	SizeBytes   int64     `json:"size_bytes" yaml:"size_bytes"`
	ContentType string    `json:"content_type" yaml:"content_type"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Info returns the normalized view of the asset used by selection and caching.
func (a *DerivedAsset) Info() AssetInfo {
	return AssetInfo{
		URL:       a.URL,
		Width:     a.Width,
		Height:    a.Height,
		SizeBytes: a.SizeBytes,
	}
}

// AssetInfo is the location and measured size of a derived asset.
type AssetInfo struct {
	URL       string `json:"url" yaml:"url"`
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	SizeBytes int64  `json:"size_bytes" yaml:"size_bytes"`
}

// Assets maps variant name to asset info for a single image.
type Assets map[string]AssetInfo

// AssetsFrom normalizes repository rows into an Assets map.
func AssetsFrom(rows []*DerivedAsset) Assets {
	assets := make(Assets, len(rows))
	for _, row := range rows {
		if row == nil || row.URL == "" {
			continue
		}
		assets[row.Variant] = row.Info()
	}
	return assets
}

// Has reports whether a usable asset exists for the variant.
func (a Assets) Has(variant string) bool {
	info, ok := a[variant]
	return ok && info.URL != ""
}

// Names returns the variant names in sorted order.
func (a Assets) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheEntry is what the lookup cache holds for one image.
type CacheEntry struct {
	ImageID     uuid.UUID `json:"image_id" yaml:"image_id"`
	OriginalURL string    `json:"original_url" yaml:"original_url"`
	Assets      Assets    `json:"assets" yaml:"assets"`
	StoredAt    time.Time `json:"stored_at" yaml:"stored_at"`
}

// IncompleteImage is an original whose recorded variants do not cover the catalog.
type IncompleteImage struct {
	Original *Original
	Missing  []string
}

// VariantStat aggregates the stored assets of one variant.
type VariantStat struct {
	Variant   string  `json:"variant" yaml:"variant"`
	Count     int64   `json:"count" yaml:"count"`
	AvgSize   float64 `json:"avg_size" yaml:"avg_size"`
	MinSize   int64   `json:"min_size" yaml:"min_size"`
	MaxSize   int64   `json:"max_size" yaml:"max_size"`
	AvgWidth  float64 `json:"avg_width" yaml:"avg_width"`
	AvgHeight float64 `json:"avg_height" yaml:"avg_height"`
	Coverage  float64 `json:"coverage" yaml:"coverage"`
}

// VariantStats summarizes variant coverage across all originals.
type VariantStats struct {
	TotalImages int64         `json:"total_images" yaml:"total_images"`
	TotalAssets int64         `json:"total_assets" yaml:"total_assets"`
	Variants    []VariantStat `json:"variants" yaml:"variants"`
}

// SelectRequest carries a caller's preferences for picking a variant.
// Width <= 0 means no target width.
type SelectRequest struct {
	Variant       string
	Width         int
	PreferCompact bool
}

// Choice is the outcome of selection.
type Choice struct {
	URL     string `json:"url" yaml:"url"`
	Variant string `json:"variant" yaml:"variant"`
}

// Selection is a Choice for a specific image.
type Selection struct {
	ImageID uuid.UUID `json:"image_id" yaml:"image_id"`
	URL     string    `json:"url" yaml:"url"`
	Variant string    `json:"variant" yaml:"variant"`
}

// Fallback reports whether the original was chosen instead of a variant.
func (s *Selection) Fallback() bool {
	return s.Variant == VariantOriginal
}
