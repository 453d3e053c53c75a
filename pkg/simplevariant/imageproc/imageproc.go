// Package imageproc decodes, resizes and encodes images for variant generation.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp" // register webp decoding for image.Decode
)

// Format is an output encoding for a variant.
type Format string

const (
	// FormatSource keeps the decoded format when it can be encoded.
	FormatSource Format = "source"
	FormatJPEG   Format = "jpeg"
	FormatPNG    Format = "png"
	FormatWebP   Format = "webp"
)

// ParseFormat accepts a format name as used in configuration.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "source", "same":
		return FormatSource, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unsupported format %q", s)
}

// Resolve returns the concrete format to encode to. FormatSource becomes the
// decoded format when that is jpeg, png or webp, and jpeg otherwise.
func (f Format) Resolve(source string) Format {
	if f != FormatSource && f != "" {
		return f
	}
	switch strings.ToLower(source) {
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	default:
		return FormatJPEG
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ".jpg"
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Decode decodes data and applies its EXIF orientation. It also returns the
// detected source format name ("jpeg", "png", "gif", "webp", ...).
func Decode(data []byte) (image.Image, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image header: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	return img, format, nil
}

// DecodeConfig reads dimensions and format without decoding pixels.
func DecodeConfig(data []byte) (image.Config, string, error) {
	return image.DecodeConfig(bytes.NewReader(data))
}

// Fit scales img down to maxWidth preserving aspect ratio. Images already
// narrower than maxWidth are returned unchanged; Fit never enlarges.
func Fit(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}

// Encode writes img to w in the given format. quality applies to jpeg and webp.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	switch f {
	case FormatWebP:
		return webp.Encode(w, img, webp.Options{Quality: quality})
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	return fmt.Errorf("cannot encode format %q", f)
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(img image.Image, f Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
