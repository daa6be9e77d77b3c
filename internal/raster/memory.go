package raster

import (
	"fmt"
	"sync"

	"github.com/pspoerri/rasterprep/internal/grid"
)

// Memory is a raster held entirely in memory. It backs tests and small
// auxiliary grids; pipeline stages never materialise full rasters.
type Memory struct {
	geo  grid.GridGeometry
	mu   sync.RWMutex
	data *Block
}

// NewMemory allocates a raster for g filled with its nodata value (or 0).
func NewMemory(g grid.GridGeometry) *Memory {
	fill := 0.0
	if g.HasNoData {
		fill = g.NoData
	}
	return &Memory{geo: g, data: NewFilledBlock(g.Full(), g.DType, g.Bands, fill)}
}

func (m *Memory) Geometry() grid.GridGeometry { return m.geo }

// Block exposes the backing pixels.
func (m *Memory) Block() *Block { return m.data }

// Set writes v into every band of pixel (col, row).
func (m *Memory) Set(col, row int, v float64) {
	for band := 0; band < m.geo.Bands; band++ {
		m.data.SetValue(band, col, row, v)
	}
}

// At decodes the first band of pixel (col, row).
func (m *Memory) At(col, row int) float64 {
	return m.data.Value(0, col, row)
}

func (m *Memory) ReadWindow(w grid.Window) (*Block, error) {
	if err := checkWindow(m.geo, w); err != nil {
		return nil, err
	}
	out := NewBlock(w, m.geo.DType, m.geo.Bands)
	m.mu.RLock()
	out.CopyFrom(m.data)
	m.mu.RUnlock()
	return out, nil
}

func (m *Memory) WriteBlock(b *Block) error {
	if !m.geo.Full().Contains(b.Window) {
		return fmt.Errorf("block %v outside grid", b.Window)
	}
	if b.DType != m.geo.DType || b.Bands != m.geo.Bands {
		return fmt.Errorf("block %v does not match raster layout", b)
	}
	m.mu.Lock()
	m.data.CopyFrom(b)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
