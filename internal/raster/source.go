package raster

import (
	"fmt"

	"github.com/pspoerri/rasterprep/internal/grid"
)

// Source is a raster that supports windowed reads. Implementations must be
// safe for concurrent ReadWindow calls.
type Source interface {
	Geometry() grid.GridGeometry
	// ReadWindow returns the pixels of w, which must lie inside the grid.
	ReadWindow(w grid.Window) (*Block, error)
	Close() error
}

// Sink accepts the blocks of a planned partition.
type Sink interface {
	WriteBlock(b *Block) error
}

// ReadPadded reads w from src where w may extend beyond the grid. Pixels
// outside the grid are set to fill.
func ReadPadded(src Source, w grid.Window, fill float64) (*Block, error) {
	g := src.Geometry()
	inner := w.Intersect(g.Full())
	if inner == w {
		return src.ReadWindow(w)
	}
	out := NewFilledBlock(w, g.DType, g.Bands, fill)
	if inner.Empty() {
		return out, nil
	}
	b, err := src.ReadWindow(inner)
	if err != nil {
		out.Release()
		return nil, err
	}
	out.CopyFrom(b)
	b.Release()
	return out, nil
}

func checkWindow(g grid.GridGeometry, w grid.Window) error {
	if w.Empty() || !g.Full().Contains(w) {
		return fmt.Errorf("window %v outside %dx%d grid", w, g.Width, g.Height)
	}
	return nil
}
