package vector

import (
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterprep/internal/grid"
)

// Mask is a boolean inclusion mask for a block, row-major.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// At reports whether local pixel (col, row) is inside.
func (m *Mask) At(col, row int) bool {
	return m.Bits[row*m.Width+col]
}

// Count returns the number of pixels inside.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// RowCount returns the number of pixels inside on local row j.
func (m *Mask) RowCount(j int) int {
	n := 0
	for _, b := range m.Bits[j*m.Width : (j+1)*m.Width] {
		if b {
			n++
		}
	}
	return n
}

type edge struct {
	x0, y0, x1, y1 float64
	ymin, ymax     float64
	poly           int
}

// Rasterizer classifies pixel centres against a multipolygon. A pixel is
// inside when its centre is inside any polygon; within a polygon the
// even-odd rule applies across exterior and holes. It is read-only after
// construction and may be shared between goroutines.
type Rasterizer struct {
	edges []edge // sorted by ymin
	polys int
	bound orb.Bound
}

// NewRasterizer prepares mp for repeated block rasterisation.
func NewRasterizer(mp orb.MultiPolygon) *Rasterizer {
	r := &Rasterizer{polys: len(mp)}
	if len(mp) > 0 {
		r.bound = mp.Bound()
	}
	for pi, p := range mp {
		for _, ring := range p {
			for i := 0; i+1 < len(ring); i++ {
				a, b := ring[i], ring[i+1]
				if a[1] == b[1] {
					continue
				}
				r.edges = append(r.edges, edge{
					x0: a[0], y0: a[1], x1: b[0], y1: b[1],
					ymin: min(a[1], b[1]), ymax: max(a[1], b[1]),
					poly: pi,
				})
			}
		}
	}
	slices.SortStableFunc(r.edges, func(a, b edge) int {
		switch {
		case a.ymin < b.ymin:
			return -1
		case a.ymin > b.ymin:
			return 1
		}
		return 0
	})
	return r
}

// Bound returns the envelope of the geometry.
func (r *Rasterizer) Bound() orb.Bound { return r.bound }

// Empty reports whether there is nothing to rasterise.
func (r *Rasterizer) Empty() bool { return len(r.edges) == 0 }

// Rasterize returns the mask of mp over a width×height block addressed by t.
func Rasterize(mp orb.MultiPolygon, t grid.BlockTransform, width, height int) *Mask {
	return NewRasterizer(mp).Mask(t, width, height)
}

// Mask returns the inclusion mask of a width×height block addressed by t.
//
// Row and column centres come from t, which evaluates them from the parent
// grid's origin, and crossings are computed from whole edges. The result
// for a pixel therefore does not depend on the block it is computed in.
func (r *Rasterizer) Mask(t grid.BlockTransform, width, height int) *Mask {
	m := &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
	if width <= 0 || height <= 0 || r.Empty() {
		return m
	}

	ya, yb := t.RowCenterY(0), t.RowCenterY(height-1)
	ylo, yhi := min(ya, yb), max(ya, yb)
	xa, xb := t.ColCenterX(0), t.ColCenterX(width-1)
	if r.bound.Max[1] < ylo || r.bound.Min[1] > yhi ||
		r.bound.Max[0] < min(xa, xb) || r.bound.Min[0] > max(xa, xb) {
		return m
	}

	groups := make([][]edge, r.polys)
	for _, e := range r.edges {
		if e.ymin > yhi {
			break
		}
		if e.ymax < ylo {
			continue
		}
		groups[e.poly] = append(groups[e.poly], e)
	}

	var xs []float64
	for j := 0; j < height; j++ {
		y := t.RowCenterY(j)
		row := m.Bits[j*width : (j+1)*width]
		for _, g := range groups {
			xs = xs[:0]
			for _, e := range g {
				if (e.y0 > y) != (e.y1 > y) {
					xs = append(xs, e.x0+(y-e.y0)*(e.x1-e.x0)/(e.y1-e.y0))
				}
			}
			if len(xs) < 2 {
				continue
			}
			slices.Sort(xs)
			for k := 0; k+1 < len(xs); k += 2 {
				c0 := firstColumnAtOrAfter(t, width, xs[k])
				c1 := firstColumnAtOrAfter(t, width, xs[k+1])
				for i := c0; i < c1; i++ {
					row[i] = true
				}
			}
		}
	}
	return m
}

// firstColumnAtOrAfter returns the smallest local column in [0, width]
// whose centre x is >= x.
func firstColumnAtOrAfter(t grid.BlockTransform, width int, x float64) int {
	a := t.Parent.A
	g := math.Ceil((x-t.Parent.C)/a - 0.5)
	i := int(min(max(g-float64(t.ColOff), 0), float64(width)))
	for i > 0 && t.ColCenterX(i-1) >= x {
		i--
	}
	for i < width && t.ColCenterX(i) < x {
		i++
	}
	return i
}
