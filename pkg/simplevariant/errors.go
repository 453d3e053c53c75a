package simplevariant

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrImageNotFound indicates no original exists for the id
	ErrImageNotFound = errors.New("image not found")

	// ErrObjectNotFound indicates a blob does not exist in storage
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnknownVariant indicates a variant name that is not in the catalog
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrInvalidCatalog indicates a catalog that cannot be used for generation
	ErrInvalidCatalog = errors.New("invalid variant catalog")

	// ErrDecodeFailed indicates the original could not be decoded as an image
	ErrDecodeFailed = errors.New("image decode failed")

	// ErrOriginalUnavailable indicates the original bytes could not be fetched
	ErrOriginalUnavailable = errors.New("original unavailable")

	// ErrTooManyImages indicates a batch request over the allowed size
	ErrTooManyImages = errors.New("too many images in batch")

	// ErrEmptyUpload indicates an upload without content
	ErrEmptyUpload = errors.New("empty upload")
)

// ImageError represents a failed operation on an original image
type ImageError struct {
	ImageID uuid.UUID
	Op      string
	Err     error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image operation %s failed for image %s: %v", e.Op, e.ImageID, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// VariantError represents a failure producing one variant of one image
type VariantError struct {
	ImageID uuid.UUID
	Variant string
	Op      string
	Err     error
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variant %s %s failed for image %s: %v", e.Variant, e.Op, e.ImageID, e.Err)
}

func (e *VariantError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
