package vector

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// RepairStatus reports what Repair had to do to a geometry.
type RepairStatus int

const (
	// Unchanged geometries were valid apart from ring orientation and
	// repeated vertices, which are normalised silently.
	Unchanged RepairStatus = iota
	// Repaired geometries had self-intersections, spikes, unclosed or
	// degenerate rings, or stray holes fixed.
	Repaired
	// Dropped geometries had nothing valid left.
	Dropped
)

func (s RepairStatus) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Repaired:
		return "repaired"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Repair makes mp valid the way a zero-width buffer would: rings are
// closed, non-finite and repeated vertices and spikes are removed,
// self-intersecting rings are split into simple loops at their crossings,
// degenerate loops are discarded, shells are oriented counter-clockwise and
// holes clockwise, and each hole is assigned to the smallest shell that
// contains it. Holes outside every shell are discarded.
//
// The input is not modified.
func Repair(mp orb.MultiPolygon) (orb.MultiPolygon, RepairStatus) {
	var out orb.MultiPolygon
	changed := false
	for _, p := range mp {
		polys, ch := repairPolygon(p)
		changed = changed || ch
		out = append(out, polys...)
	}
	switch {
	case len(out) == 0:
		return nil, Dropped
	case changed:
		return out, Repaired
	default:
		return out, Unchanged
	}
}

// RepairBoundary repairs b in place of its geometry.
func RepairBoundary(b Boundary) (Boundary, RepairStatus) {
	mp, st := Repair(b.Geometry)
	b.Geometry = mp
	return b, st
}

func repairPolygon(p orb.Polygon) (orb.MultiPolygon, bool) {
	var shells, holes []orb.Ring
	changed := false
	for i, r := range p {
		loops, ch := simpleLoops(r)
		changed = changed || ch
		if i == 0 {
			shells = append(shells, loops...)
		} else {
			holes = append(holes, loops...)
		}
	}
	if len(p) > 0 && len(shells) == 0 {
		return nil, true
	}

	out := make(orb.MultiPolygon, len(shells))
	areas := make([]float64, len(shells))
	for i, s := range shells {
		if s.Orientation() != orb.CCW {
			s.Reverse()
		}
		out[i] = orb.Polygon{s}
		areas[i] = math.Abs(planar.Area(s))
	}
	for _, h := range holes {
		if h.Orientation() != orb.CW {
			h.Reverse()
		}
		best := -1
		for i, s := range shells {
			if !ringInside(h, s) {
				continue
			}
			if best < 0 || areas[i] < areas[best] {
				best = i
			}
		}
		if best < 0 {
			changed = true
			continue
		}
		out[best] = append(out[best], h)
	}
	return out, changed
}

// ringInside reports whether every vertex of inner lies in or on outer.
func ringInside(inner, outer orb.Ring) bool {
	if !outer.Bound().Contains(inner.Bound().Min) || !outer.Bound().Contains(inner.Bound().Max) {
		return false
	}
	for _, pt := range inner {
		if !planar.RingContains(outer, pt) {
			return false
		}
	}
	return true
}

// simpleLoops cleans r and splits it into loops without self-intersections.
// The returned rings are fresh copies.
func simpleLoops(r orb.Ring) ([]orb.Ring, bool) {
	changed := false
	pts := make([]orb.Point, 0, len(r)+1)
	for _, pt := range r {
		if !finite(pt) {
			changed = true
			continue
		}
		if n := len(pts); n > 0 && pts[n-1] == pt {
			continue
		}
		pts = append(pts, pt)
	}
	if n := len(pts); n > 0 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	} else if n > 0 {
		// An unclosed ring; pts is kept open until the spikes are gone.
		changed = true
	}

	var spikes bool
	pts, spikes = removeSpikes(pts)
	changed = changed || spikes
	if len(pts) < 3 {
		return nil, true
	}
	ring := append(orb.Ring(pts), pts[0])

	noded, crossings := node(ring)
	if !crossings {
		if ring.Orientation() == 0 {
			return nil, true
		}
		return []orb.Ring{ring}, changed
	}

	var loops []orb.Ring
	for _, l := range splitLoops(noded) {
		if len(l) >= 4 && l.Orientation() != 0 {
			loops = append(loops, l)
		}
	}
	return loops, true
}

func finite(pt orb.Point) bool {
	return !math.IsNaN(pt[0]) && !math.IsNaN(pt[1]) && !math.IsInf(pt[0], 0) && !math.IsInf(pt[1], 0)
}

// removeSpikes drops vertices where the boundary doubles back on itself
// (a-b-a). pts is an open cycle.
func removeSpikes(pts []orb.Point) ([]orb.Point, bool) {
	changed := false
	for len(pts) >= 3 {
		found := false
		n := len(pts)
		for i := 0; i < n; i++ {
			prev := pts[(i+n-1)%n]
			next := pts[(i+1)%n]
			if !backtracks(prev, pts[i], next) {
				continue
			}
			// Remove the tip and, for a-b-a, one of the repeated a's.
			pts = slices.Delete(pts, i, i+1)
			if prev == next {
				j := i % len(pts)
				pts = slices.Delete(pts, j, j+1)
			}
			found, changed = true, true
			break
		}
		if !found {
			break
		}
	}
	return pts, changed
}

// backtracks reports whether b is the tip of a zero-width spike: a, b and
// c are collinear and the boundary reverses direction at b.
func backtracks(a, b, c orb.Point) bool {
	return cross(a, b, c) == 0 && dot(b, a, c) > 0
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// dot returns (a-o)·(b-o).
func dot(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[0]-o[0]) + (a[1]-o[1])*(b[1]-o[1])
}

// onSegment reports whether p, collinear with a-b, lies within its box.
func onSegment(a, b, p orb.Point) bool {
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}

// node inserts every crossing between non-adjacent segments of the closed
// ring r as a vertex of both segments. It reports whether any were found.
func node(r orb.Ring) (orb.Ring, bool) {
	segs := newSegmentIndex(r)
	n := len(r) - 1
	inserts := make([][]orb.Point, n)
	found := false
	for i := 0; i < n; i++ {
		for _, j := range segs.candidates(i) {
			if j <= i || adjacent(i, j, n) {
				continue
			}
			for _, pt := range intersections(r[i], r[i+1], r[j], r[j+1]) {
				if pt != r[i] && pt != r[i+1] {
					inserts[i] = append(inserts[i], pt)
					found = true
				}
				if pt != r[j] && pt != r[j+1] {
					inserts[j] = append(inserts[j], pt)
					found = true
				}
				if (pt == r[i] || pt == r[i+1]) && (pt == r[j] || pt == r[j+1]) {
					// Two segments touching at a shared vertex.
					found = true
				}
			}
		}
	}
	if !found {
		return r, false
	}

	out := make(orb.Ring, 0, len(r)+2*n)
	for i := 0; i < n; i++ {
		a := r[i]
		out = append(out, a)
		ins := inserts[i]
		slices.SortFunc(ins, func(p, q orb.Point) int {
			dp := (p[0]-a[0])*(p[0]-a[0]) + (p[1]-a[1])*(p[1]-a[1])
			dq := (q[0]-a[0])*(q[0]-a[0]) + (q[1]-a[1])*(q[1]-a[1])
			switch {
			case dp < dq:
				return -1
			case dp > dq:
				return 1
			}
			return 0
		})
		for _, pt := range ins {
			if pt != out[len(out)-1] {
				out = append(out, pt)
			}
		}
	}
	out = append(out, r[0])
	return out, true
}

func adjacent(i, j, n int) bool {
	return j == i+1 || (i == 0 && j == n-1)
}

// intersections returns the points shared by segments a-b and c-d: the
// crossing point, or for collinear overlaps the endpoints inside the other
// segment.
func intersections(a, b, c, d orb.Point) []orb.Point {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)

	if d1 == 0 && d2 == 0 {
		var out []orb.Point
		for _, p := range []orb.Point{a, b} {
			if onSegment(c, d, p) {
				out = append(out, p)
			}
		}
		for _, p := range []orb.Point{c, d} {
			if onSegment(a, b, p) {
				out = append(out, p)
			}
		}
		return out
	}

	if (d1 > 0) != (d2 > 0) && d1 != 0 && d2 != 0 && (d3 > 0) != (d4 > 0) && d3 != 0 && d4 != 0 {
		t := d1 / (d1 - d2)
		return []orb.Point{{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}}
	}

	// Touching: an endpoint of one segment on the other.
	switch {
	case d1 == 0 && onSegment(c, d, a):
		return []orb.Point{a}
	case d2 == 0 && onSegment(c, d, b):
		return []orb.Point{b}
	case d3 == 0 && onSegment(a, b, c):
		return []orb.Point{c}
	case d4 == 0 && onSegment(a, b, d):
		return []orb.Point{d}
	}
	return nil
}

// splitLoops walks a noded closed ring and cuts out a loop every time a
// vertex repeats.
func splitLoops(r orb.Ring) []orb.Ring {
	var loops []orb.Ring
	stack := make([]orb.Point, 0, len(r))
	pos := make(map[orb.Point]int, len(r))
	for _, pt := range r {
		idx, ok := pos[pt]
		if !ok {
			pos[pt] = len(stack)
			stack = append(stack, pt)
			continue
		}
		loop := make(orb.Ring, 0, len(stack)-idx+1)
		loop = append(loop, stack[idx:]...)
		loop = append(loop, pt)
		loops = append(loops, loop)
		for _, q := range stack[idx+1:] {
			delete(pos, q)
		}
		stack = stack[:idx+1]
	}
	return loops
}

// segmentIndex finds candidate segment pairs of a ring through an R-tree.
type segmentIndex struct {
	ring  orb.Ring
	index *Index
}

func newSegmentIndex(r orb.Ring) *segmentIndex {
	bounds := make([]orb.Bound, len(r)-1)
	for i := range bounds {
		bounds[i] = orb.MultiPoint{r[i], r[i+1]}.Bound()
	}
	return &segmentIndex{ring: r, index: NewIndex(bounds)}
}

func (s *segmentIndex) candidates(i int) []int {
	return s.index.Search(orb.MultiPoint{s.ring[i], s.ring[i+1]}.Bound())
}

// Valid reports whether every ring of mp is closed, finite, has at least
// three distinct vertices, non-zero area and no self-intersections.
func Valid(mp orb.MultiPolygon) bool {
	for _, p := range mp {
		for _, r := range p {
			if len(r) < 4 || r[0] != r[len(r)-1] || r.Orientation() == 0 {
				return false
			}
			for _, pt := range r {
				if !finite(pt) {
					return false
				}
			}
			if _, crossings := node(r); crossings {
				return false
			}
		}
	}
	return true
}
