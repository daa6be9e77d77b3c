package grid

import (
	"fmt"
	"math"
)

// Affine maps pixel (col, row) to world (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// The coefficient order matches GDAL/rasterio (a, b, c, d, e, f).
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NorthUp returns the affine of a north-up grid with its upper-left corner
// at (originX, originY) and square-or-rectangular pixels of the given size.
func NorthUp(originX, originY, pixelSizeX, pixelSizeY float64) Affine {
	return Affine{A: pixelSizeX, C: originX, E: -pixelSizeY, F: originY}
}

// Apply maps fractional pixel coordinates to world coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps world coordinates to fractional pixel coordinates.
// Only valid for north-up transforms (see Validate).
func (t Affine) Invert(x, y float64) (col, row float64) {
	return (x - t.C) / t.A, (y - t.F) / t.E
}

// PixelSize returns the positive pixel width and height in CRS units.
func (t Affine) PixelSize() (float64, float64) {
	return math.Abs(t.A), math.Abs(t.E)
}

// Offset returns the transform of a sub-grid whose pixel (0,0) is pixel
// (colOff, rowOff) of t.
func (t Affine) Offset(colOff, rowOff int) Affine {
	x, y := t.Apply(float64(colOff), float64(rowOff))
	return Affine{A: t.A, B: t.B, C: x, D: t.D, E: t.E, F: y}
}

// Array returns the coefficients in GDAL order.
func (t Affine) Array() [6]float64 {
	return [6]float64{t.A, t.B, t.C, t.D, t.E, t.F}
}

// AffineFromArray is the inverse of Array.
func AffineFromArray(a [6]float64) Affine {
	return Affine{A: a[0], B: a[1], C: a[2], D: a[3], E: a[4], F: a[5]}
}

// Validate rejects rotated, sheared, south-up or degenerate transforms.
func (t Affine) Validate() error {
	if t.B != 0 || t.D != 0 {
		return fmt.Errorf("rotated grids are not supported (b=%g, d=%g)", t.B, t.D)
	}
	if !(t.A > 0) || math.IsInf(t.A, 0) {
		return fmt.Errorf("pixel width must be positive, got %g", t.A)
	}
	if !(t.E < 0) || math.IsInf(t.E, 0) {
		return fmt.Errorf("pixel height must be negative (north-up), got %g", t.E)
	}
	if math.IsNaN(t.C) || math.IsNaN(t.F) || math.IsInf(t.C, 0) || math.IsInf(t.F, 0) {
		return fmt.Errorf("invalid origin (%g, %g)", t.C, t.F)
	}
	return nil
}

// snapTolerance absorbs floating-point noise when converting world
// coordinates that sit on pixel edges back to pixel indices.
const snapTolerance = 1e-6

// snap rounds v to the nearest integer when it is within snapTolerance of it.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapTolerance {
		return r
	}
	return v
}
