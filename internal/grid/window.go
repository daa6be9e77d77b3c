package grid

import "fmt"

// Window is a rectangle of pixels within a parent grid.
type Window struct {
	ColOff int `cbor:"1,keyasint"`
	RowOff int `cbor:"2,keyasint"`
	Width  int `cbor:"3,keyasint"`
	Height int `cbor:"4,keyasint"`
}

// Empty reports whether the window has no pixels.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

// Area is the number of pixels in the window.
func (w Window) Area() int64 {
	if w.Empty() {
		return 0
	}
	return int64(w.Width) * int64(w.Height)
}

// ColEnd and RowEnd are exclusive.
func (w Window) ColEnd() int { return w.ColOff + w.Width }
func (w Window) RowEnd() int { return w.RowOff + w.Height }

// Intersect returns the overlap of w and o, or the zero window.
func (w Window) Intersect(o Window) Window {
	c0 := max(w.ColOff, o.ColOff)
	r0 := max(w.RowOff, o.RowOff)
	c1 := min(w.ColEnd(), o.ColEnd())
	r1 := min(w.RowEnd(), o.RowEnd())
	if c1 <= c0 || r1 <= r0 {
		return Window{}
	}
	return Window{ColOff: c0, RowOff: r0, Width: c1 - c0, Height: r1 - r0}
}

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool {
	return o.ColOff >= w.ColOff && o.RowOff >= w.RowOff &&
		o.ColEnd() <= w.ColEnd() && o.RowEnd() <= w.RowEnd()
}

// Translate shifts the window by (dc, dr).
func (w Window) Translate(dc, dr int) Window {
	w.ColOff += dc
	w.RowOff += dr
	return w
}

func (w Window) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", w.ColOff, w.RowOff, w.Width, w.Height)
}

// BlockTransform addresses the pixels of a window through its parent's
// affine. Local pixel (i, j) is global pixel (ColOff+i, RowOff+j), and its
// world position is always evaluated from the parent origin. A point
// therefore maps to the same pixel whichever window it is read through.
type BlockTransform struct {
	Parent Affine
	ColOff int
	RowOff int
}

// PixelCenter returns the world coordinates of local pixel (i, j).
func (t BlockTransform) PixelCenter(i, j int) (float64, float64) {
	return t.Parent.Apply(float64(t.ColOff+i)+0.5, float64(t.RowOff+j)+0.5)
}

// ColCenterX returns the world x of the centre of local column i.
func (t BlockTransform) ColCenterX(i int) float64 {
	return t.Parent.A*(float64(t.ColOff+i)+0.5) + t.Parent.C
}

// RowCenterY returns the world y of the centre of local row j.
func (t BlockTransform) RowCenterY(j int) float64 {
	return t.Parent.E*(float64(t.RowOff+j)+0.5) + t.Parent.F
}

// Affine returns the equivalent stand-alone transform of the window.
// Prefer the BlockTransform methods for pixel-centre tests; the composed
// origin carries its own rounding.
func (t BlockTransform) Affine() Affine {
	return t.Parent.Offset(t.ColOff, t.RowOff)
}
