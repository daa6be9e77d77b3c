// Package encode renders rasters into quick-look images and encodes them
// as PNG or WebP.
package encode

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

// Encoder encodes an image into bytes of one format.
type Encoder interface {
	// Encode encodes an image to bytes in the encoder's format.
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name ("png" or "webp").
	Format() string

	// FileExtension returns the appropriate file extension.
	FileExtension() string
}

// NewEncoder creates an encoder for the given format. quality applies to
// lossy WebP only; quality <= 0 selects lossless WebP.
func NewEncoder(format string, quality int) (Encoder, error) {
	switch strings.ToLower(format) {
	case "png":
		return &PNGEncoder{}, nil
	case "webp":
		return newWebPEncoder(quality), nil
	default:
		return nil, fmt.Errorf("unsupported image format: %q (supported: png, webp)", format)
	}
}

// ForPath picks the encoder matching path's extension.
func ForPath(path string, quality int) (Encoder, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return nil, fmt.Errorf("%s: no file extension to pick an image format from", path)
	}
	return NewEncoder(ext, quality)
}
