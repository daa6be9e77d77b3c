package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
	"github.com/pspoerri/rasterprep/internal/vector"
)

// UTM 37N lattice with 30 m pixels anchored at (500000, 1000000).
const (
	testCRS    = 32637
	testRes    = 30.0
	testOrigX  = 500000.0
	testOrigY  = 1000000.0
	noDataByte = 255
)

// utmGeo returns a uint8 grid whose origin is pixel (col0, row0) of the
// test lattice.
func utmGeo(w, h, col0, row0 int) grid.GridGeometry {
	return grid.GridGeometry{
		CRS:       testCRS,
		Transform: grid.NorthUp(testOrigX+float64(col0)*testRes, testOrigY-float64(row0)*testRes, testRes, testRes),
		Width:     w,
		Height:    h,
		Bands:     1,
		DType:     grid.Uint8,
	}
}

// worldX and worldY return the world coordinate of a lattice pixel edge.
func worldX(col float64) float64 { return testOrigX + col*testRes }
func worldY(row float64) float64 { return testOrigY - row*testRes }

// patterned fills a raster with values that differ between neighbours and
// between seeds, never 255.
func patterned(g grid.GridGeometry, seed int) *raster.Memory {
	m := raster.NewMemory(g)
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			m.Set(c, r, float64((c*7+r*13+seed*31)%250))
		}
	}
	return m
}

func constant(g grid.GridGeometry, v float64) *raster.Memory {
	m := raster.NewMemory(g)
	m.Block().Fill(v)
	return m
}

func testOpts(blockSize int) Options {
	return Options{BlockSize: blockSize, Workers: 3, Codec: raster.CodecZstd}
}

func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// readAll opens a block store and reads it whole.
func readAll(t *testing.T, path string) (grid.GridGeometry, *raster.Block) {
	t.Helper()
	s, err := raster.OpenStore(path, nil)
	if err != nil {
		t.Fatalf("OpenStore(%s): %v", path, err)
	}
	defer s.Close()
	g := s.Geometry()
	if g.Empty() {
		return g, nil
	}
	b, err := s.ReadWindow(g.Full())
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	return g, b
}

func assertNoArtifact(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s exists after failure", path)
	}
	matches, _ := filepath.Glob(path + ".*.tmp")
	if len(matches) > 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

// rectBoundary is an axis-aligned boundary in world coordinates.
func rectBoundary(id string, crs int, x0, y0, x1, y1 float64) vector.Boundary {
	return vector.Boundary{
		ID:  id,
		CRS: crs,
		Geometry: orb.MultiPolygon{{
			{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}},
		}},
	}
}

// starBoundary is an irregular polygon with a hole over the test lattice
// pixels [0, 300)×[0, 200). No vertex or edge is placed on a pixel centre.
func starBoundary() vector.Boundary {
	pt := func(c, r float64) orb.Point { return orb.Point{worldX(c), worldY(r)} }
	shell := orb.Ring{
		pt(10.3, 5.1), pt(150.7, 30.2), pt(290.1, 3.3), pt(260.9, 120.6),
		pt(295.2, 190.4), pt(140.3, 150.15), pt(20.6, 195.7), pt(60.45, 100.35), pt(10.3, 5.1),
	}
	hole := orb.Ring{pt(120.2, 60.3), pt(180.7, 70.1), pt(150.35, 110.9), pt(120.2, 60.3)}
	return vector.Boundary{ID: "star", CRS: testCRS, Geometry: orb.MultiPolygon{{shell, hole}}}
}
