package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-variant/pkg/simplevariant"
)

// Repository implements simplevariant.Repository using in-memory storage
type Repository struct {
	mu        sync.RWMutex
	originals map[uuid.UUID]*simplevariant.Original
	assets    map[uuid.UUID]map[string]*simplevariant.DerivedAsset // image_id -> variant -> asset
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		originals: make(map[uuid.UUID]*simplevariant.Original),
		assets:    make(map[uuid.UUID]map[string]*simplevariant.DerivedAsset),
	}
}

// Original operations

func (r *Repository) CreateOriginal(ctx context.Context, original *simplevariant.Original) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	originalCopy := *original
	r.originals[original.ID] = &originalCopy
	return nil
}

func (r *Repository) GetOriginal(ctx context.Context, id uuid.UUID) (*simplevariant.Original, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	original, exists := r.originals[id]
	if !exists {
		return nil, simplevariant.ErrImageNotFound
	}
	originalCopy := *original
	return &originalCopy, nil
}

func (r *Repository) GetOriginals(ctx context.Context, ids []uuid.UUID) ([]*simplevariant.Original, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simplevariant.Original, 0, len(ids))
	for _, id := range ids {
		if original, exists := r.originals[id]; exists {
			originalCopy := *original
			result = append(result, &originalCopy)
		}
	}
	return result, nil
}

// Derived asset operations

func (r *Repository) UpsertAsset(ctx context.Context, asset *simplevariant.DerivedAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byVariant, exists := r.assets[asset.ImageID]
	if !exists {
		byVariant = make(map[string]*simplevariant.DerivedAsset)
		r.assets[asset.ImageID] = byVariant
	}

	assetCopy := *asset
	if existing, ok := byVariant[asset.Variant]; ok {
		assetCopy.CreatedAt = existing.CreatedAt
	}
	byVariant[asset.Variant] = &assetCopy
	return nil
}

func (r *Repository) ListAssets(ctx context.Context, imageID uuid.UUID) ([]*simplevariant.DerivedAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listAssetsLocked(imageID), nil
}

func (r *Repository) ListAssetsByImages(ctx context.Context, imageIDs []uuid.UUID) ([]*simplevariant.DerivedAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simplevariant.DerivedAsset
	for _, id := range imageIDs {
		result = append(result, r.listAssetsLocked(id)...)
	}
	return result, nil
}

func (r *Repository) listAssetsLocked(imageID uuid.UUID) []*simplevariant.DerivedAsset {
	byVariant := r.assets[imageID]
	result := make([]*simplevariant.DerivedAsset, 0, len(byVariant))
	for _, asset := range byVariant {
		assetCopy := *asset
		result = append(result, &assetCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Variant < result[j].Variant
	})
	return result
}

func (r *Repository) DeleteAssets(ctx context.Context, imageID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.assets, imageID)
	return nil
}

func (r *Repository) ListIncomplete(ctx context.Context, variants []string, limit int) ([]*simplevariant.IncompleteImage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	originals := make([]*simplevariant.Original, 0, len(r.originals))
	for _, original := range r.originals {
		originals = append(originals, original)
	}
	sort.Slice(originals, func(i, j int) bool {
		if originals[i].CreatedAt.Equal(originals[j].CreatedAt) {
			return originals[i].ID.String() < originals[j].ID.String()
		}
		return originals[i].CreatedAt.Before(originals[j].CreatedAt)
	})

	var result []*simplevariant.IncompleteImage
	for _, original := range originals {
		if limit > 0 && len(result) >= limit {
			break
		}
		var missing []string
		for _, variant := range variants {
			if _, ok := r.assets[original.ID][variant]; !ok {
				missing = append(missing, variant)
			}
		}
		if len(missing) == 0 {
			continue
		}
		originalCopy := *original
		result = append(result, &simplevariant.IncompleteImage{Original: &originalCopy, Missing: missing})
	}
	return result, nil
}

func (r *Repository) VariantStats(ctx context.Context, variants []string) (*simplevariant.VariantStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &simplevariant.VariantStats{TotalImages: int64(len(r.originals))}
	for _, variant := range variants {
		stat := simplevariant.VariantStat{Variant: variant}
		var totalSize, totalWidth, totalHeight int64
		for _, byVariant := range r.assets {
			asset, ok := byVariant[variant]
			if !ok {
				continue
			}
			if stat.Count == 0 || asset.SizeBytes < stat.MinSize {
				stat.MinSize = asset.SizeBytes
			}
			if asset.SizeBytes > stat.MaxSize {
				stat.MaxSize = asset.SizeBytes
			}
			stat.Count++
			totalSize += asset.SizeBytes
			totalWidth += int64(asset.Width)
			totalHeight += int64(asset.Height)
		}
		if stat.Count > 0 {
			stat.AvgSize = float64(totalSize) / float64(stat.Count)
			stat.AvgWidth = float64(totalWidth) / float64(stat.Count)
			stat.AvgHeight = float64(totalHeight) / float64(stat.Count)
		}
		if stats.TotalImages > 0 {
			stat.Coverage = float64(stat.Count) / float64(stats.TotalImages)
		}
		stats.TotalAssets += stat.Count
		stats.Variants = append(stats.Variants, stat)
	}
	return stats, nil
}
