package memory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/tendant/simple-variant/pkg/simplevariant"
)

// DefaultBaseURL prefixes the URLs of objects held in memory.
const DefaultBaseURL = "memory://"

type object struct {
	data        []byte
	contentType string
}

// Backend is an in-memory implementation of the simplevariant.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// New creates a new in-memory storage backend
func New() *Backend {
	return NewWithBaseURL(DefaultBaseURL)
}

// NewWithBaseURL creates an in-memory backend whose URLs start with baseURL.
func NewWithBaseURL(baseURL string) *Backend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Backend{
		objects: make(map[string]object),
		baseURL: baseURL,
	}
}

// Put stores a copy of data under key
func (b *Backend) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = object{data: stored, contentType: contentType}
	return b.URL(key), nil
}

// Download returns the bytes stored under key
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, &simplevariant.StorageError{Backend: "memory", Key: key, Op: "download", Err: simplevariant.ErrObjectNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Probe reports whether the object behind url is held by this backend
func (b *Backend) Probe(ctx context.Context, url string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, ok := strings.CutPrefix(url, b.baseURL)
	if !ok {
		return false, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.objects[key]
	return exists, nil
}

// Delete removes the object under key
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; !exists {
		return &simplevariant.StorageError{Backend: "memory", Key: key, Op: "delete", Err: simplevariant.ErrObjectNotFound}
	}
	delete(b.objects, key)
	return nil
}

// URL returns the URL objects under key are reported at
func (b *Backend) URL(key string) string {
	return b.baseURL + strings.TrimLeft(key, "/")
}

// ContentType returns the content type recorded for key.
func (b *Backend) ContentType(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, exists := b.objects[key]
	return obj.contentType, exists
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
