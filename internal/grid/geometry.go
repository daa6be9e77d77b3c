package grid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GridGeometry describes a raster's spatial addressing: where each pixel
// sits in the world, how many there are and what each one stores.
type GridGeometry struct {
	CRS       int     `cbor:"1,keyasint"` // EPSG code
	Transform Affine  `cbor:"2,keyasint"`
	Width     int     `cbor:"3,keyasint"`
	Height    int     `cbor:"4,keyasint"`
	Bands     int     `cbor:"5,keyasint"`
	DType     DType   `cbor:"6,keyasint"`
	NoData    float64 `cbor:"7,keyasint"`
	HasNoData bool    `cbor:"8,keyasint"`
}

// Validate checks that g is internally consistent.
func (g GridGeometry) Validate() error {
	if g.CRS <= 0 {
		return fmt.Errorf("grid: missing CRS (EPSG %d)", g.CRS)
	}
	if err := g.Transform.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	if g.Width < 0 || g.Height < 0 {
		return fmt.Errorf("grid: negative size %dx%d", g.Width, g.Height)
	}
	if g.Bands < 1 {
		return fmt.Errorf("grid: band count must be >= 1, got %d", g.Bands)
	}
	if !g.DType.Valid() {
		return fmt.Errorf("grid: invalid dtype %v", g.DType)
	}
	return nil
}

// Empty reports whether the grid has no pixels.
func (g GridGeometry) Empty() bool { return g.Width == 0 || g.Height == 0 }

// Full returns the window covering the whole grid.
func (g GridGeometry) Full() Window { return Window{Width: g.Width, Height: g.Height} }

// PixelBytes is the size of one pixel across all bands.
func (g GridGeometry) PixelBytes() int { return g.Bands * g.DType.Size() }

// Bytes is the uncompressed size of the whole grid.
func (g GridGeometry) Bytes() int64 {
	return int64(g.Width) * int64(g.Height) * int64(g.PixelBytes())
}

// Bounds returns the world-space envelope of the grid.
func (g GridGeometry) Bounds() orb.Bound {
	return g.WindowBounds(g.Full())
}

// WindowBounds returns the world-space envelope of window w.
func (g GridGeometry) WindowBounds(w Window) orb.Bound {
	x0, y0 := g.Transform.Apply(float64(w.ColOff), float64(w.RowOff))
	x1, y1 := g.Transform.Apply(float64(w.ColOff+w.Width), float64(w.RowOff+w.Height))
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// PixelCenter returns the world coordinates of the centre of pixel (col, row).
func (g GridGeometry) PixelCenter(col, row int) (float64, float64) {
	return g.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
}

// WorldToPixel returns the integer pixel containing (x, y). The result may
// lie outside the grid.
func (g GridGeometry) WorldToPixel(x, y float64) (col, row int) {
	fc, fr := g.Transform.Invert(x, y)
	return int(math.Floor(snap(fc))), int(math.Floor(snap(fr)))
}

// WindowForBounds returns the smallest window of pixels that covers b,
// clipped to the grid. Edges within a micro-pixel of a grid line snap to it
// so an envelope that lies exactly on pixel edges does not pick up an extra
// row or column.
func (g GridGeometry) WindowForBounds(b orb.Bound) Window {
	c0, r0 := g.Transform.Invert(b.Min[0], b.Max[1])
	c1, r1 := g.Transform.Invert(b.Max[0], b.Min[1])
	colMin := int(math.Floor(snap(math.Min(c0, c1))))
	colMax := int(math.Ceil(snap(math.Max(c0, c1))))
	rowMin := int(math.Floor(snap(math.Min(r0, r1))))
	rowMax := int(math.Ceil(snap(math.Max(r0, r1))))

	w := Window{ColOff: colMin, RowOff: rowMin, Width: colMax - colMin, Height: rowMax - rowMin}
	return w.Intersect(g.Full())
}

// Sub returns the geometry of window w as a stand-alone grid. Its transform
// is derived from g's global origin, so pixel (i, j) of the sub-grid is
// pixel (w.ColOff+i, w.RowOff+j) of g.
func (g GridGeometry) Sub(w Window) GridGeometry {
	out := g
	out.Transform = g.Transform.Offset(w.ColOff, w.RowOff)
	out.Width = w.Width
	out.Height = w.Height
	return out
}

// BlockTransform returns the transform of window w relative to g.
func (g GridGeometry) BlockTransform(w Window) BlockTransform {
	return BlockTransform{Parent: g.Transform, ColOff: w.ColOff, RowOff: w.RowOff}
}

// SameResolution reports whether g and o share CRS and pixel size.
func (g GridGeometry) SameResolution(o GridGeometry) bool {
	return g.CRS == o.CRS &&
		nearlyEqual(g.Transform.A, o.Transform.A) &&
		nearlyEqual(g.Transform.E, o.Transform.E)
}

// AlignedOffset returns the pixel offset of o's origin within g's pixel
// lattice. ok is false when the CRS or resolution differ or when o's origin
// is not congruent to g's modulo the pixel size.
func (g GridGeometry) AlignedOffset(o GridGeometry) (col, row int, ok bool) {
	if !g.SameResolution(o) {
		return 0, 0, false
	}
	fc, fr := g.Transform.Invert(o.Transform.C, o.Transform.F)
	rc, rr := math.Round(fc), math.Round(fr)
	if math.Abs(fc-rc) > alignTolerance || math.Abs(fr-rr) > alignTolerance {
		return 0, 0, false
	}
	return int(rc), int(rr), true
}

// Congruent reports whether g and o describe the same pixels.
func (g GridGeometry) Congruent(o GridGeometry) bool {
	col, row, ok := g.AlignedOffset(o)
	return ok && col == 0 && row == 0 && g.Width == o.Width && g.Height == o.Height
}

func (g GridGeometry) String() string {
	a, e := g.Transform.PixelSize()
	return fmt.Sprintf("EPSG:%d %dx%dx%d %s res=%gx%g origin=(%g,%g)",
		g.CRS, g.Width, g.Height, g.Bands, g.DType, a, e, g.Transform.C, g.Transform.F)
}

// alignTolerance is the fraction of a pixel two origins may differ by and
// still be considered on the same lattice.
const alignTolerance = 1e-3

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}
