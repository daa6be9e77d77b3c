package raster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/rasterprep/internal/grid"
)

func testGeo(w, h, bands int, dt grid.DType) grid.GridGeometry {
	return grid.GridGeometry{
		CRS:       32637,
		Transform: grid.NorthUp(300000, 1000000, 30, 30),
		Width:     w,
		Height:    h,
		Bands:     bands,
		DType:     dt,
		NoData:    255,
		HasNoData: true,
	}
}

// patterned fills a memory raster with a deterministic, non-uniform pattern.
func patterned(g grid.GridGeometry) *Memory {
	m := NewMemory(g)
	for band := 0; band < g.Bands; band++ {
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				m.Block().SetValue(band, c, r, float64((c*7+r*13+band*3)%200))
			}
		}
	}
	return m
}

func writeStore(t *testing.T, path string, src Source, blockSize int, codec Codec) {
	t.Helper()
	g := src.Geometry()
	w, err := CreateStore(path, g, blockSize, codec)
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	for _, win := range w.Planner().Windows() {
		b, err := src.ReadWindow(win)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.WriteBlock(b); err != nil {
			t.Fatalf("WriteBlock(%v): %v", win, err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	codecs := []Codec{CodecNone, CodecLZ4, CodecZstd}
	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			g := testGeo(37, 23, 2, grid.Uint16)
			src := patterned(g)
			path := filepath.Join(t.TempDir(), "out.rbk")
			writeStore(t, path, src, 8, codec)

			s, err := OpenStore(path, nil)
			if err != nil {
				t.Fatalf("OpenStore: %v", err)
			}
			defer s.Close()
			if s.Geometry() != g {
				t.Errorf("geometry: got %v, want %v", s.Geometry(), g)
			}
			// Windows that straddle stored block edges.
			for _, win := range []grid.Window{
				{ColOff: 0, RowOff: 0, Width: 37, Height: 23}, {ColOff: 5, RowOff: 3, Width: 11, Height: 17},
				{ColOff: 36, RowOff: 22, Width: 1, Height: 1}, {ColOff: 7, RowOff: 7, Width: 2, Height: 2},
			} {
				got, err := s.ReadWindow(win)
				if err != nil {
					t.Fatalf("ReadWindow(%v): %v", win, err)
				}
				want, _ := src.ReadWindow(win)
				if !got.Equal(want) {
					t.Errorf("ReadWindow(%v): pixels differ", win)
				}
			}
		})
	}
}

func TestStore_RewrittenPathSharedCache(t *testing.T) {
	g := testGeo(20, 20, 1, grid.Uint8)
	first := patterned(g)
	second := NewMemory(g)
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			second.Block().SetValue(0, c, r, float64((c*3+r*5)%200+1))
		}
	}
	path := filepath.Join(t.TempDir(), "out.rbk")
	cache := NewBlockCache(64)

	writeStore(t, path, first, 8, CodecZstd)
	old, err := OpenStore(path, cache)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := old.ReadWindow(g.Full()); err != nil {
		t.Fatal(err)
	}
	if cache.Len() == 0 {
		t.Fatal("no blocks cached")
	}

	// Rebuild in place while the old reader is still open.
	writeStore(t, path, second, 8, CodecZstd)
	s, err := OpenStore(path, cache)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadWindow(g.Full())
	if err != nil {
		t.Fatal(err)
	}
	if want, _ := second.ReadWindow(g.Full()); !got.Equal(want) {
		t.Error("rewritten store served blocks of its previous contents")
	}

	old.Close()
	s.Close()
	if n := cache.Len(); n != 0 {
		t.Errorf("%d blocks cached after Close, want 0", n)
	}
}

func TestStore_UniformBlocks(t *testing.T) {
	g := testGeo(64, 64, 1, grid.Uint8)
	src := NewMemory(g) // all nodata
	src.Set(10, 10, 3)
	path := filepath.Join(t.TempDir(), "u.rbk")

	w, err := CreateStore(path, g, 32, CodecZstd)
	if err != nil {
		t.Fatal(err)
	}
	for _, win := range w.Planner().Windows() {
		b, _ := src.ReadWindow(win)
		if err := w.WriteBlock(b); err != nil {
			t.Fatal(err)
		}
	}
	if w.uniform != 3 {
		t.Errorf("uniform blocks: got %d, want 3", w.uniform)
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}

	s, err := OpenStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	b, err := s.ReadWindow(grid.Window{ColOff: 8, RowOff: 8, Width: 40, Height: 40})
	if err != nil {
		t.Fatal(err)
	}
	if v := b.Value(0, 2, 2); v != 3 {
		t.Errorf("pixel (10,10): got %v, want 3", v)
	}
	if v := b.Value(0, 39, 39); v != 255 {
		t.Errorf("pixel (47,47): got %v, want 255", v)
	}
}

func TestStore_CommitIncomplete(t *testing.T) {
	g := testGeo(20, 20, 1, grid.Uint8)
	src := patterned(g)
	path := filepath.Join(t.TempDir(), "partial.rbk")
	w, err := CreateStore(path, g, 8, CodecLZ4)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := src.ReadWindow(w.Planner().At(0))
	if err := w.WriteBlock(b); err != nil {
		t.Fatal(err)
	}

	err = w.Commit()
	var inc *IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("Commit: got %v, want *IncompleteError", err)
	}
	if inc.Written != 1 || inc.Planned != 9 {
		t.Errorf("got %d/%d, want 1/9", inc.Written, inc.Planned)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact exists after failed commit: %v", err)
	}
	assertNoTemp(t, filepath.Dir(path))
}

func TestStore_Abort(t *testing.T) {
	g := testGeo(10, 10, 1, grid.Uint8)
	path := filepath.Join(t.TempDir(), "aborted.rbk")
	w, err := CreateStore(path, g, 4, CodecNone)
	if err != nil {
		t.Fatal(err)
	}
	w.Abort()
	w.Abort()
	if err := w.WriteBlock(NewBlock(grid.Window{Width: 4, Height: 4}, grid.Uint8, 1)); err == nil {
		t.Error("WriteBlock after Abort succeeded")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact exists after abort")
	}
	assertNoTemp(t, filepath.Dir(path))
}

func TestStore_RejectsBadBlocks(t *testing.T) {
	g := testGeo(10, 10, 1, grid.Uint8)
	w, err := CreateStore(filepath.Join(t.TempDir(), "x.rbk"), g, 4, CodecNone)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Abort()

	tests := []struct {
		name string
		b    *Block
	}{
		{"misaligned", NewBlock(grid.Window{ColOff: 1, Width: 4, Height: 4}, grid.Uint8, 1)},
		{"wrong size", NewBlock(grid.Window{ColOff: 8, Width: 4, Height: 4}, grid.Uint8, 1)},
		{"wrong dtype", NewBlock(grid.Window{Width: 4, Height: 4}, grid.Int16, 1)},
		{"outside", NewBlock(grid.Window{ColOff: 12, Width: 4, Height: 4}, grid.Uint8, 1)},
	}
	for _, tt := range tests {
		if err := w.WriteBlock(tt.b); err == nil {
			t.Errorf("%s: WriteBlock succeeded", tt.name)
		}
	}

	ok := NewBlock(grid.Window{Width: 4, Height: 4}, grid.Uint8, 1)
	if err := w.WriteBlock(ok); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBlock(ok); err == nil {
		t.Error("duplicate WriteBlock succeeded")
	}
}

func TestStore_EmptyGrid(t *testing.T) {
	g := testGeo(0, 0, 1, grid.Uint8)
	path := filepath.Join(t.TempDir(), "empty.rbk")
	w, err := CreateStore(path, g, 256, CodecZstd)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit of empty grid: %v", err)
	}
	s, err := OpenStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !s.Geometry().Empty() {
		t.Errorf("geometry not empty: %v", s.Geometry())
	}
}

func TestOpenStore_Truncated(t *testing.T) {
	g := testGeo(16, 16, 1, grid.Uint8)
	path := filepath.Join(t.TempDir(), "t.rbk")
	writeStore(t, path, patterned(g), 8, CodecZstd)
	fi, _ := os.Stat(path)
	if err := os.Truncate(path, fi.Size()-5); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenStore(path, nil); err == nil {
		t.Error("OpenStore accepted a truncated store")
	}
}

func assertNoTemp(t *testing.T, dir string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) > 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func BenchmarkStoreWrite(b *testing.B) {
	g := testGeo(1024, 1024, 1, grid.Uint8)
	src := patterned(g)
	dir := b.TempDir()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w, err := CreateStore(filepath.Join(dir, "bench.rbk"), g, 256, CodecZstd)
		if err != nil {
			b.Fatal(err)
		}
		for _, win := range w.Planner().Windows() {
			blk, _ := src.ReadWindow(win)
			if err := w.WriteBlock(blk); err != nil {
				b.Fatal(err)
			}
			blk.Release()
		}
		if err := w.Commit(); err != nil {
			b.Fatal(err)
		}
	}
}
