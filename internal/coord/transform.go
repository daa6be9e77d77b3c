package coord

import "github.com/paulmach/orb"

// Transformer converts coordinates between two supported CRS by way of
// WGS84 longitude/latitude.
type Transformer struct {
	src, dst Projection
	identity bool
}

// NewTransformer returns a transformer from EPSG code from to EPSG code to.
func NewTransformer(from, to int) (*Transformer, error) {
	src, err := Lookup(from)
	if err != nil {
		return nil, err
	}
	dst, err := Lookup(to)
	if err != nil {
		return nil, err
	}
	return &Transformer{src: src, dst: dst, identity: from == to}, nil
}

// Identity reports whether source and destination CRS are the same.
func (t *Transformer) Identity() bool { return t.identity }

// Forward maps a source coordinate to the destination CRS.
func (t *Transformer) Forward(x, y float64) (float64, float64) {
	if t.identity {
		return x, y
	}
	return t.dst.FromWGS84(t.src.ToWGS84(x, y))
}

// Inverse maps a destination coordinate back to the source CRS.
func (t *Transformer) Inverse(x, y float64) (float64, float64) {
	if t.identity {
		return x, y
	}
	return t.src.FromWGS84(t.dst.ToWGS84(x, y))
}

// Projection adapts Forward for use with orb/project.
func (t *Transformer) Projection() orb.Projection {
	return func(p orb.Point) orb.Point {
		x, y := t.Forward(p[0], p[1])
		return orb.Point{x, y}
	}
}

// densifySteps is the number of segments each envelope edge is split into
// when transforming a bound.
const densifySteps = 20

// TransformBound returns the envelope of b after transformation. Each edge
// is sampled at densifySteps+1 points so edges that curve in the
// destination CRS are still contained.
func (t *Transformer) TransformBound(b orb.Bound) orb.Bound {
	if t.identity {
		return b
	}
	out := orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}
	first := true
	add := func(x, y float64) {
		px, py := t.Forward(x, y)
		p := orb.Point{px, py}
		if first {
			out = orb.Bound{Min: p, Max: p}
			first = false
			return
		}
		out = out.Extend(p)
	}
	for i := 0; i <= densifySteps; i++ {
		f := float64(i) / densifySteps
		x := b.Min[0] + f*(b.Max[0]-b.Min[0])
		y := b.Min[1] + f*(b.Max[1]-b.Min[1])
		add(x, b.Min[1])
		add(x, b.Max[1])
		add(b.Min[0], y)
		add(b.Max[0], y)
	}
	return out
}
