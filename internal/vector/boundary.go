// Package vector loads, repairs, reprojects and rasterises polygon
// boundaries.
package vector

import "github.com/paulmach/orb"

// Boundary is one polygon feature in a fixed CRS.
type Boundary struct {
	ID         string
	CRS        int
	Geometry   orb.MultiPolygon
	Properties map[string]any
}

// Bound returns the envelope of the geometry.
func (b Boundary) Bound() orb.Bound {
	return b.Geometry.Bound()
}

// Empty reports whether the boundary has no polygons left.
func (b Boundary) Empty() bool {
	return len(b.Geometry) == 0
}

// Union merges the polygons of several boundaries into one boundary. The
// parts are kept as separate polygons; rasterisation treats them as a
// union.
func Union(id string, bs []Boundary) Boundary {
	out := Boundary{ID: id}
	for _, b := range bs {
		if out.CRS == 0 {
			out.CRS = b.CRS
		}
		out.Geometry = append(out.Geometry, b.Geometry...)
	}
	return out
}

// asMultiPolygon converts polygonal geometries; other types return false.
func asMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch geom := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{geom}, true
	case orb.MultiPolygon:
		return geom, true
	case orb.Collection:
		var out orb.MultiPolygon
		for _, part := range geom {
			mp, ok := asMultiPolygon(part)
			if !ok {
				return nil, false
			}
			out = append(out, mp...)
		}
		return out, true
	default:
		return nil, false
	}
}
