package encode

import (
	"bytes"
	"image"

	"github.com/gen2brain/webp"
)

// WebPEncoder encodes images as WebP using a pure-Go (WASM-based) encoder.
// No CGo or system libraries required; a system libwebp is used via purego
// when available.
type WebPEncoder struct {
	Lossless bool
	Quality  int
}

func newWebPEncoder(quality int) *WebPEncoder {
	if quality <= 0 {
		return &WebPEncoder{Lossless: true, Quality: 100}
	}
	return &WebPEncoder{Quality: min(quality, 100)}
}

func (e *WebPEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	opts := webp.Options{
		Lossless: e.Lossless,
		Quality:  e.Quality,
	}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *WebPEncoder) Format() string        { return "webp" }
func (e *WebPEncoder) FileExtension() string { return ".webp" }
