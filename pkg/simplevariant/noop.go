package simplevariant

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) VariantGenerated(ctx context.Context, asset *DerivedAsset, elapsed time.Duration) {
}

func (n *NoopEventSink) VariantFailed(ctx context.Context, imageID uuid.UUID, variant string, err error) {
}

func (n *NoopEventSink) RepairStarted(ctx context.Context, imageID uuid.UUID, reason RepairReason) {
}

func (n *NoopEventSink) LookupServed(ctx context.Context, imageID uuid.UUID, cached bool) {}

// NoopCache never stores anything; every Get is a miss.
type NoopCache struct{}

// NewNoopCache creates a cache that disables caching
func NewNoopCache() Cache {
	return NoopCache{}
}

func (NoopCache) Get(ctx context.Context, id uuid.UUID) (*CacheEntry, bool) { return nil, false }
func (NoopCache) Set(ctx context.Context, entry *CacheEntry)                {}
func (NoopCache) Invalidate(ctx context.Context, id uuid.UUID)              {}
