// Package raster holds pixel blocks, the windowed Source interface and the
// block-addressed raster store used for stage artifacts.
package raster

import (
	"bytes"
	"fmt"
	"math"

	"github.com/pspoerri/rasterprep/internal/grid"
)

// Block is a window of pixels held in memory. Samples are little-endian
// and band-sequential: sample (band, col, row) lives at
// ((band*Height + row)*Width + col) * DType.Size().
type Block struct {
	Window grid.Window
	DType  grid.DType
	Bands  int
	Data   []byte
}

// NewBlock returns a zeroed block for window w.
func NewBlock(w grid.Window, dt grid.DType, bands int) *Block {
	n := int(w.Area()) * bands * dt.Size()
	return &Block{Window: w, DType: dt, Bands: bands, Data: getBuffer(n)}
}

// NewFilledBlock returns a block with every sample set to v.
func NewFilledBlock(w grid.Window, dt grid.DType, bands int, v float64) *Block {
	b := NewBlock(w, dt, bands)
	b.Fill(v)
	return b
}

// Release returns the pixel buffer to the shared pool. The block must not
// be used afterwards.
func (b *Block) Release() {
	if b == nil || b.Data == nil {
		return
	}
	putBuffer(b.Data)
	b.Data = nil
}

// Fill sets every sample to v.
func (b *Block) Fill(v float64) {
	fillSamples(b.Data, b.DType.EncodeValue(v))
}

// FillBand sets every sample of band to the raw sample s.
func (b *Block) FillBand(band int, s []byte) {
	n := b.Window.Width * b.Window.Height * len(s)
	fillSamples(b.Data[band*n:(band+1)*n], s)
}

func fillSamples(dst, s []byte) {
	if len(dst) == 0 {
		return
	}
	if len(s) == 1 {
		for i := range dst {
			dst[i] = s[0]
		}
		return
	}
	copy(dst, s)
	for filled := len(s); filled < len(dst); filled *= 2 {
		copy(dst[filled:], dst[:filled])
	}
}

// Offset returns the byte offset of sample (band, col, row), where col and
// row are local to the block.
func (b *Block) Offset(band, col, row int) int {
	return ((band*b.Window.Height+row)*b.Window.Width + col) * b.DType.Size()
}

// Sample returns the raw bytes of one sample.
func (b *Block) Sample(band, col, row int) []byte {
	o := b.Offset(band, col, row)
	return b.Data[o : o+b.DType.Size()]
}

// Value decodes one sample.
func (b *Block) Value(band, col, row int) float64 {
	return b.DType.Decode(b.Sample(band, col, row))
}

// SetValue encodes v into one sample.
func (b *Block) SetValue(band, col, row int, v float64) {
	b.DType.Encode(b.Sample(band, col, row), v)
}

// CopyPixel copies all bands of pixel (sc, sr) of src into pixel (dc, dr)
// of b as raw bytes. Both blocks must share dtype and band count.
func (b *Block) CopyPixel(dc, dr int, src *Block, sc, sr int) {
	size := b.DType.Size()
	for band := 0; band < b.Bands; band++ {
		d := b.Offset(band, dc, dr)
		s := src.Offset(band, sc, sr)
		copy(b.Data[d:d+size], src.Data[s:s+size])
	}
}

// CopyFrom copies the overlap of src into b. Windows are in the same
// parent pixel space.
func (b *Block) CopyFrom(src *Block) {
	ov := b.Window.Intersect(src.Window)
	if ov.Empty() {
		return
	}
	size := b.DType.Size()
	rowBytes := ov.Width * size
	for band := 0; band < b.Bands; band++ {
		for r := ov.RowOff; r < ov.RowEnd(); r++ {
			d := b.Offset(band, ov.ColOff-b.Window.ColOff, r-b.Window.RowOff)
			s := src.Offset(band, ov.ColOff-src.Window.ColOff, r-src.Window.RowOff)
			copy(b.Data[d:d+rowBytes], src.Data[s:s+rowBytes])
		}
	}
}

// Clone returns a deep copy of b.
func (b *Block) Clone() *Block {
	c := NewBlock(b.Window, b.DType, b.Bands)
	copy(c.Data, b.Data)
	return c
}

// Equal reports whether two blocks hold identical pixels over the same window.
func (b *Block) Equal(o *Block) bool {
	return b.Window == o.Window && b.DType == o.DType && b.Bands == o.Bands &&
		bytes.Equal(b.Data, o.Data)
}

// Uniform checks whether every band is constant. If so it returns the
// per-band sample bytes concatenated.
func (b *Block) Uniform() ([]byte, bool) {
	size := b.DType.Size()
	n := b.Window.Width * b.Window.Height * size
	if n == 0 {
		return nil, false
	}
	out := make([]byte, 0, b.Bands*size)
	for band := 0; band < b.Bands; band++ {
		plane := b.Data[band*n : (band+1)*n]
		first := plane[:size]
		for i := size; i < n; i += size {
			if !bytes.Equal(plane[i:i+size], first) {
				return nil, false
			}
		}
		out = append(out, first...)
	}
	return out, true
}

func (b *Block) String() string {
	return fmt.Sprintf("block%v %s×%d", b.Window, b.DType, b.Bands)
}

// NoData matches samples against a grid's nodata value. The zero value
// matches nothing.
type NoData struct {
	set   bool
	nan   bool
	dt    grid.DType
	raw   []byte
	Value float64
}

// NoDataFor returns the matcher for g.
func NoDataFor(g grid.GridGeometry) NoData {
	if !g.HasNoData {
		return NoData{}
	}
	return NoData{
		set:   true,
		nan:   math.IsNaN(g.NoData),
		dt:    g.DType,
		raw:   g.DType.EncodeValue(g.NoData),
		Value: g.NoData,
	}
}

// Set reports whether a nodata value is defined.
func (n NoData) Set() bool { return n.set }

// Match reports whether raw sample s is nodata.
func (n NoData) Match(s []byte) bool {
	if !n.set {
		return false
	}
	if n.nan {
		return math.IsNaN(n.dt.Decode(s))
	}
	return bytes.Equal(s, n.raw)
}

// Pixel reports whether every band of local pixel (col, row) is nodata.
func (n NoData) Pixel(b *Block, col, row int) bool {
	if !n.set {
		return false
	}
	for band := 0; band < b.Bands; band++ {
		if !n.Match(b.Sample(band, col, row)) {
			return false
		}
	}
	return true
}
