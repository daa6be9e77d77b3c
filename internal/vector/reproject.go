package vector

import (
	"fmt"

	"github.com/paulmach/orb/project"

	"github.com/pspoerri/rasterprep/internal/coord"
)

// Reproject returns a copy of b in CRS to. Vertices are transformed
// individually; the receiver is not modified.
func (b Boundary) Reproject(to int) (Boundary, error) {
	if b.CRS == to {
		return b, nil
	}
	tr, err := coord.NewTransformer(b.CRS, to)
	if err != nil {
		return Boundary{}, fmt.Errorf("reprojecting boundary %q: %w", b.ID, err)
	}
	out := b
	out.CRS = to
	out.Geometry = project.MultiPolygon(b.Geometry.Clone(), tr.Projection())
	return out, nil
}

// ReprojectAll brings every boundary into CRS to. It reports how many
// needed a transformation.
func ReprojectAll(bs []Boundary, to int) ([]Boundary, int, error) {
	out := make([]Boundary, len(bs))
	moved := 0
	for i, b := range bs {
		if b.CRS != to {
			moved++
		}
		rb, err := b.Reproject(to)
		if err != nil {
			return nil, 0, fmt.Errorf("boundary %d: %w", i, err)
		}
		out[i] = rb
	}
	return out, moved, nil
}
