package simplevariant

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// lookup resolves the asset map for an image. Cached entries are served as
// is. On a miss the repository rows are loaded, optionally probed, and
// repaired inline when the image has no assets or some of them are gone.
func (s *service) lookup(ctx context.Context, id uuid.UUID) (*CacheEntry, error) {
	if entry, ok := s.cache.Get(ctx, id); ok {
		s.eventSink.LookupServed(ctx, id, true)
		return entry, nil
	}
	s.eventSink.LookupServed(ctx, id, false)

	original, err := s.repository.GetOriginal(ctx, id)
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			return nil, err
		}
		return nil, &ImageError{ImageID: id, Op: "lookup", Err: err}
	}

	rows, err := s.repository.ListAssets(ctx, id)
	if err != nil {
		s.logger.Warn("failed to list assets, serving original", "image_id", id, "err", err)
		return &CacheEntry{ImageID: id, OriginalURL: original.URL, Assets: Assets{}, StoredAt: s.now()}, nil
	}
	assets := AssetsFrom(rows)

	switch missing := s.missingAssets(ctx, id, assets); {
	case len(assets) == 0:
		assets = s.repair(ctx, original, assets, nil, RepairNoAssets)
	case len(missing) > 0:
		assets = s.repair(ctx, original, assets, missing, RepairMissingFiles)
	}

	entry := &CacheEntry{
		ImageID:     id,
		OriginalURL: original.URL,
		Assets:      assets,
		StoredAt:    s.now(),
	}
	if len(assets) > 0 {
		s.cache.Set(ctx, entry)
	}
	return entry, nil
}

// missingAssets probes every asset URL and returns the sorted names of the
// ones that are no longer reachable. A failed probe counts as missing.
func (s *service) missingAssets(ctx context.Context, id uuid.UUID, assets Assets) []string {
	if !s.probeAssets || len(assets) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		missing []string
		group   errgroup.Group
	)
	group.SetLimit(s.probeConcurrency)
	for name, info := range assets {
		group.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
			defer cancel()

			ok, err := s.prober.Probe(probeCtx, info.URL)
			if err != nil {
				s.logger.Debug("asset probe failed", "image_id", id, "variant", name, "err", err)
			}
			if err != nil || !ok {
				mu.Lock()
				missing = append(missing, name)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	slices.Sort(missing)
	return missing
}

// repair regenerates the full catalog for original and returns the asset map
// to serve. Missing assets that could not be regenerated are dropped so a
// dead URL is never selected. A failed repair never fails the lookup.
func (s *service) repair(ctx context.Context, original *Original, assets Assets, missing []string, reason RepairReason) Assets {
	s.eventSink.RepairStarted(ctx, original.ID, reason)
	s.logger.Info("repairing variants",
		"image_id", original.ID, "reason", reason, "missing", missing)

	served := maps.Clone(assets)
	if served == nil {
		served = Assets{}
	}
	for _, name := range missing {
		delete(served, name)
	}

	generated, err := s.regenerate(ctx, original)
	if err != nil {
		s.logger.Warn("on-demand repair failed", "image_id", original.ID, "reason", reason, "err", err)
		return served
	}
	for name, asset := range generated {
		if asset.URL != "" {
			served[name] = asset.Info()
		}
	}
	return served
}

// regenerate fetches the original and runs the generator for variants.
// Concurrent calls for the same image and variant set share one run. The run
// is detached from the caller's cancellation so waiters are not failed by the
// first caller going away; it stays bounded by the fetch and variant timeouts.
func (s *service) regenerate(ctx context.Context, original *Original, variants ...string) (map[string]*DerivedAsset, error) {
	key := original.ID.String()
	if len(variants) > 0 {
		names := slices.Clone(variants)
		slices.Sort(names)
		key += ":" + strings.Join(slices.Compact(names), ",")
	}

	result, err, shared := s.repairs.Do(key, func() (interface{}, error) {
		runCtx := context.WithoutCancel(ctx)
		data, err := s.fetchOriginal(runCtx, original)
		if err != nil {
			return nil, err
		}
		return s.generator.Generate(runCtx, original, data, variants...)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("joined in-flight regeneration", "image_id", original.ID)
	}
	return result.(map[string]*DerivedAsset), nil
}

// fetchOriginal reads the original from the blob store, falling back to the
// remote fetcher by URL.
func (s *service) fetchOriginal(ctx context.Context, original *Original) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	data, err := s.downloadOriginal(ctx, original.StorageKey)
	if err == nil {
		return data, nil
	}

	if s.fetcher != nil && original.URL != "" {
		remote, fetchErr := s.fetcher.Fetch(ctx, original.URL)
		if fetchErr == nil {
			return remote, nil
		}
		err = errors.Join(err, fetchErr)
	}
	return nil, &ImageError{
		ImageID: original.ID,
		Op:      "fetch original",
		Err:     fmt.Errorf("%w: %v", ErrOriginalUnavailable, err),
	}
}
