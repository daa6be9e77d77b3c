package vector

import (
	"math"
	"slices"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// R-tree node fan-out.
const (
	rtreeMinChildren = 25
	rtreeMaxChildren = 50
)

// minExtent keeps degenerate (point or axis-aligned line) envelopes
// indexable; rtreego rejects zero-length sides.
const minExtent = 1e-9

func boundRect(b orb.Bound) rtreego.Rect {
	point := rtreego.Point{b.Min[0], b.Min[1]}
	lengths := []float64{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1]}
	for i, l := range lengths {
		if l < minExtent {
			lengths[i] = minExtent
		}
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

// searchRect is b grown on every side so that rtreego, which skips
// rectangles that only touch the query, still reports envelopes sharing an
// edge or corner with b. The margin scales with the coordinates so it
// survives rounding at projected magnitudes.
func searchRect(b orb.Bound) rtreego.Rect {
	scale := max(math.Abs(b.Min[0]), math.Abs(b.Min[1]), math.Abs(b.Max[0]), math.Abs(b.Max[1]), 1)
	pad := minExtent * scale
	return boundRect(orb.Bound{
		Min: orb.Point{b.Min[0] - pad, b.Min[1] - pad},
		Max: orb.Point{b.Max[0] + pad, b.Max[1] + pad},
	})
}

// indexedBound is an envelope stored in an R-tree with its position in the
// caller's slice.
type indexedBound struct {
	index int
	bound orb.Bound
}

// Bounds implements rtreego.Spatial.
func (e *indexedBound) Bounds() rtreego.Rect {
	return boundRect(e.bound)
}

// Index is a spatial index over envelopes. Search results are positions in
// the slice the index was built from.
type Index struct {
	rtree *rtreego.Rtree
	size  int
}

// NewIndex builds an index over bounds.
func NewIndex(bounds []orb.Bound) *Index {
	rtree := rtreego.NewTree(2, rtreeMinChildren, rtreeMaxChildren)
	for i, b := range bounds {
		rtree.Insert(&indexedBound{index: i, bound: b})
	}
	return &Index{rtree: rtree, size: len(bounds)}
}

// NewBoundaryIndex indexes the envelopes of bs.
func NewBoundaryIndex(bs []Boundary) *Index {
	bounds := make([]orb.Bound, len(bs))
	for i, b := range bs {
		bounds[i] = b.Bound()
	}
	return NewIndex(bounds)
}

// Len returns the number of indexed envelopes.
func (x *Index) Len() int { return x.size }

// Search returns, in ascending order, the positions of all envelopes that
// intersect b, including those that only touch it.
func (x *Index) Search(b orb.Bound) []int {
	if x.size == 0 {
		return nil
	}
	hits := x.rtree.SearchIntersect(searchRect(b))
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		e := h.(*indexedBound)
		// The padded rectangles can report near misses.
		if e.bound.Intersects(b) {
			out = append(out, e.index)
		}
	}
	slices.Sort(out)
	return out
}
