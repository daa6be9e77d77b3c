package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/rasterprep/internal/cog"
	"github.com/pspoerri/rasterprep/internal/raster"
)

func TestExport(t *testing.T) {
	g := utmGeo(70, 45, 2, 2)
	g.NoData, g.HasNoData = noDataByte, true
	src := patterned(g, 3)
	path := filepath.Join(t.TempDir(), "out", "export.tif")
	rep, err := Export(src, path, ExportConfig{TileSize: 32}, testOpts(16))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Blocks != 3*2 {
		t.Errorf("blocks = %d, want 6", rep.Blocks)
	}
	r, err := cog.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got := r.Geometry()
	if !got.Congruent(g) || !got.HasNoData || got.NoData != noDataByte {
		t.Errorf("geometry %v, want %v", got, g)
	}
	b, err := r.ReadWindow(g.Full())
	if err != nil {
		t.Fatal(err)
	}
	if string(b.Data) != string(src.Block().Data) {
		t.Error("exported pixels differ")
	}
}

func TestExportEmpty(t *testing.T) {
	g := utmGeo(0, 0, 0, 0)
	path := filepath.Join(t.TempDir(), "empty.tif")
	rep, err := Export(raster.NewMemory(g), path, ExportConfig{}, testOpts(16))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rep.Warning(NoIntersection); !ok {
		t.Errorf("warnings = %v, want NoIntersection", rep.Warnings)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("GeoTIFF written for an empty raster")
	}
}
