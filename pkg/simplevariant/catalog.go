package simplevariant

import (
	"fmt"
	"path"
	"strings"

	"github.com/tendant/simple-variant/pkg/simplevariant/imageproc"
)

// Variant names of the default catalog.
const (
	VariantThumb  = "thumb"
	VariantSmall  = "small"
	VariantMedium = "medium"
	VariantLarge  = "large"
	VariantWebP   = "webp"

	// VariantOriginal is reported when selection falls back to the original.
	VariantOriginal = "original"
)

// VariantSpec describes one derived asset to produce for every original.
type VariantSpec struct {
	Name    string           `json:"name" yaml:"name"`
	Width   int              `json:"width" yaml:"width"`
	Format  imageproc.Format `json:"format" yaml:"format"`
	Quality int              `json:"quality" yaml:"quality"`
}

// Catalog is the ordered set of variants generated per image.
type Catalog []VariantSpec

// DefaultCatalog returns the built-in variant set.
func DefaultCatalog() Catalog {
	return Catalog{
		{Name: VariantThumb, Width: 320, Format: imageproc.FormatSource, Quality: 85},
		{Name: VariantSmall, Width: 640, Format: imageproc.FormatSource, Quality: 85},
		{Name: VariantMedium, Width: 1280, Format: imageproc.FormatSource, Quality: 85},
		{Name: VariantLarge, Width: 1920, Format: imageproc.FormatSource, Quality: 85},
		{Name: VariantWebP, Width: 1280, Format: imageproc.FormatWebP, Quality: 82},
	}
}

// Names returns variant names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, spec := range c {
		names[i] = spec.Name
	}
	return names
}

// Lookup finds a variant by name.
func (c Catalog) Lookup(name string) (VariantSpec, bool) {
	for _, spec := range c {
		if spec.Name == name {
			return spec, true
		}
	}
	return VariantSpec{}, false
}

// Subset returns the specs for names, in catalog order. An empty names list
// selects the whole catalog.
func (c Catalog) Subset(names ...string) (Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := c.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
		}
		want[name] = true
	}
	out := make(Catalog, 0, len(want))
	for _, spec := range c {
		if want[spec.Name] {
			out = append(out, spec)
		}
	}
	return out, nil
}

// Validate checks names are unique and sizes and qualities are usable.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: no variants", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c))
	for _, spec := range c {
		switch {
		case spec.Name == "" || spec.Name == VariantOriginal:
			return fmt.Errorf("%w: invalid name %q", ErrInvalidCatalog, spec.Name)
		case seen[spec.Name]:
			return fmt.Errorf("%w: duplicate variant %q", ErrInvalidCatalog, spec.Name)
		case spec.Width <= 0:
			return fmt.Errorf("%w: variant %q needs a positive width", ErrInvalidCatalog, spec.Name)
		case spec.Quality < 1 || spec.Quality > 100:
			return fmt.Errorf("%w: variant %q quality must be 1-100", ErrInvalidCatalog, spec.Name)
		}
		if _, err := imageproc.ParseFormat(string(spec.Format)); err != nil {
			return fmt.Errorf("%w: variant %q: %v", ErrInvalidCatalog, spec.Name, err)
		}
		seen[spec.Name] = true
	}
	return nil
}

// VariantKey derives the storage key of a variant from the original's key:
// variants/<name>/<original key with the extension of format>.
func VariantKey(originalKey, variant string, format imageproc.Format) string {
	key := strings.TrimLeft(originalKey, "/")
	if ext := path.Ext(key); ext != "" {
		key = strings.TrimSuffix(key, ext)
	}
	return "variants/" + variant + "/" + key + format.Extension()
}
