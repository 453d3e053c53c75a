package simplevariant

// Width bucket upper bounds used by Select.
const (
	smallWidthLimit  = 360
	mediumWidthLimit = 900
	largeWidthLimit  = 1600
)

var (
	preferCompactOrder = []string{VariantWebP, VariantMedium, VariantLarge, VariantSmall, VariantThumb}
	defaultOrder       = []string{VariantMedium, VariantLarge, VariantSmall, VariantThumb, VariantWebP}
)

// Select picks one URL for an image from its available assets. It is pure and
// deterministic. When no asset is usable it returns fallbackURL with variant
// VariantOriginal, so the result is never empty as long as fallbackURL isn't.
func Select(assets Assets, req SelectRequest, fallbackURL string) Choice {
	if req.Variant != "" && assets.Has(req.Variant) {
		return Choice{URL: assets[req.Variant].URL, Variant: req.Variant}
	}

	if choice, ok := firstPresent(assets, SizeOrder(req.Width, req.PreferCompact)); ok {
		return choice
	}

	generic := defaultOrder
	if req.PreferCompact {
		generic = preferCompactOrder
	}
	if choice, ok := firstPresent(assets, generic); ok {
		return choice
	}

	// variants outside the default catalog
	if choice, ok := firstPresent(assets, assets.Names()); ok {
		return choice
	}

	return Choice{URL: fallbackURL, Variant: VariantOriginal}
}

// SizeOrder returns the variant preference order for a target width, with the
// compact format first when preferred and last otherwise.
func SizeOrder(width int, preferCompact bool) []string {
	var sizes []string
	switch {
	case width <= 0:
		sizes = []string{VariantMedium, VariantLarge, VariantSmall, VariantThumb}
	case width <= smallWidthLimit:
		sizes = []string{VariantThumb, VariantSmall, VariantMedium, VariantLarge}
	case width <= mediumWidthLimit:
		sizes = []string{VariantSmall, VariantMedium, VariantLarge, VariantThumb}
	case width <= largeWidthLimit:
		sizes = []string{VariantMedium, VariantLarge, VariantSmall, VariantThumb}
	default:
		sizes = []string{VariantLarge, VariantMedium, VariantSmall, VariantThumb}
	}

	if preferCompact {
		return append([]string{VariantWebP}, sizes...)
	}
	return append(sizes, VariantWebP)
}

func firstPresent(assets Assets, order []string) (Choice, bool) {
	for _, name := range order {
		if assets.Has(name) {
			return Choice{URL: assets[name].URL, Variant: name}, true
		}
	}
	return Choice{}, false
}
