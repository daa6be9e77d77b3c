package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/pspoerri/rasterprep/internal/coord"
	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// geoGrid is a 100×100 uint8 grid of 0.0005° pixels just north of 9°N.
func geoGrid() grid.GridGeometry {
	return grid.GridGeometry{
		CRS:       4326,
		Transform: grid.NorthUp(39.0, 9.05, 0.0005, 0.0005),
		Width:     100,
		Height:    100,
		Bands:     1,
		DType:     grid.Uint8,
		NoData:    noDataByte,
		HasNoData: true,
	}
}

func TestDestinationGrid(t *testing.T) {
	src := utmGeo(300, 200, 0, 0)
	t.Run("same crs and resolution", func(t *testing.T) {
		for _, res := range []float64{0, testRes} {
			got, err := DestinationGrid(src, testCRS, res)
			if err != nil {
				t.Fatal(err)
			}
			if got != src {
				t.Errorf("resolution %v: got %v, want the source grid", res, got)
			}
		}
	})
	t.Run("coarser", func(t *testing.T) {
		got, err := DestinationGrid(src, testCRS, 90)
		if err != nil {
			t.Fatal(err)
		}
		if got.Width != 100 || got.Height != 67 {
			t.Errorf("got %dx%d, want 100x67", got.Width, got.Height)
		}
	})
	t.Run("geographic to utm", func(t *testing.T) {
		g := geoGrid()
		got, err := DestinationGrid(g, testCRS, 30)
		if err != nil {
			t.Fatal(err)
		}
		if got.CRS != testCRS || got.NoData != g.NoData || got.DType != g.DType {
			t.Errorf("layout not carried over: %v", got)
		}
		tr, _ := coord.NewTransformer(4326, testCRS)
		db := got.Bounds()
		for _, c := range [][2]float64{{39.0, 9.05}, {39.05, 9.05}, {39.0, 9.0}, {39.05, 9.0}} {
			x, y := tr.Forward(c[0], c[1])
			if x < db.Min[0] || x > db.Max[0] || y < db.Min[1] || y > db.Max[1] {
				t.Errorf("corner %v → (%v, %v) outside %v", c, x, y, db)
			}
		}
		// 0.05° is about 5.5 km, so roughly 183 pixels of 30 m.
		if got.Width < 175 || got.Width > 195 || got.Height < 175 || got.Height > 195 {
			t.Errorf("got %dx%d, want about 184x184", got.Width, got.Height)
		}
	})
	t.Run("derived resolution", func(t *testing.T) {
		got, err := DestinationGrid(geoGrid(), testCRS, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got.Width < 90 || got.Width > 110 {
			t.Errorf("derived grid is %dx%d, want about 100 pixels across", got.Width, got.Height)
		}
	})
	t.Run("unsupported crs", func(t *testing.T) {
		if _, err := DestinationGrid(src, 27700, 10); err == nil {
			t.Error("expected error")
		}
	})
}

func TestReprojectNoOp(t *testing.T) {
	g := utmGeo(97, 61, 3, 4)
	g.NoData, g.HasNoData = noDataByte, true
	src := patterned(g, 6)

	t.Run("congruent", func(t *testing.T) {
		dst, err := DestinationGrid(g, testCRS, testRes)
		if err != nil {
			t.Fatal(err)
		}
		out := tempPath(t, "r.rbk")
		if _, err := Reproject(context.Background(), src, dst, out, testOpts(32)); err != nil {
			t.Fatal(err)
		}
		got, b := readAll(t, out)
		if got != g {
			t.Errorf("geometry %v, want %v", got, g)
		}
		if string(b.Data) != string(src.Block().Data) {
			t.Error("pixels changed")
		}
	})

	t.Run("sampled", func(t *testing.T) {
		// Same lattice with a 3 pixel border forces per-pixel sampling.
		dst := g
		dst.Transform = g.Transform.Offset(-3, -3)
		dst.Width, dst.Height = g.Width+6, g.Height+6
		out := tempPath(t, "r.rbk")
		if _, err := Reproject(context.Background(), src, dst, out, testOpts(16)); err != nil {
			t.Fatal(err)
		}
		_, b := readAll(t, out)
		for r := 0; r < dst.Height; r++ {
			for c := 0; c < dst.Width; c++ {
				want := float64(noDataByte)
				if c >= 3 && r >= 3 && c < g.Width+3 && r < g.Height+3 {
					want = src.At(c-3, r-3)
				}
				if got := b.Value(0, c, r); got != want {
					t.Fatalf("pixel (%d,%d) = %v, want %v", c, r, got, want)
				}
			}
		}
	})
}

func TestReprojectGeographicToUTM(t *testing.T) {
	sg := geoGrid()
	src := patterned(sg, 8)
	dst, err := DestinationGrid(sg, testCRS, 30)
	if err != nil {
		t.Fatal(err)
	}
	inv, _ := coord.NewTransformer(testCRS, 4326)

	var ref *raster.Block
	// Block size 4 keeps the source window budget at 64 pixels, so the
	// strip splitting path runs too.
	for _, bs := range []int{4, 37, 4096} {
		t.Run(fmt.Sprint(bs), func(t *testing.T) {
			out := tempPath(t, "r.rbk")
			if _, err := Reproject(context.Background(), src, dst, out, testOpts(bs)); err != nil {
				t.Fatal(err)
			}
			_, b := readAll(t, out)
			if ref != nil {
				if !b.Equal(ref) {
					t.Error("reprojection depends on block size")
				}
				return
			}
			ref = b
			inside := 0
			for r := 0; r < dst.Height; r += 7 {
				for c := 0; c < dst.Width; c += 5 {
					x, y := dst.PixelCenter(c, r)
					lon, lat := inv.Forward(x, y)
					sc, sr := sg.WorldToPixel(lon, lat)
					want := float64(noDataByte)
					if sc >= 0 && sr >= 0 && sc < sg.Width && sr < sg.Height {
						want = src.At(sc, sr)
						inside++
					}
					if got := b.Value(0, c, r); got != want {
						t.Fatalf("pixel (%d,%d) = %v, want %v", c, r, got, want)
					}
				}
			}
			if inside == 0 {
				t.Error("no sampled pixel fell inside the source")
			}
		})
	}
}

func TestReprojectLayoutMismatch(t *testing.T) {
	src := patterned(utmGeo(10, 10, 0, 0), 1)
	dst := src.Geometry()
	dst.DType = grid.Float32
	if _, err := Reproject(context.Background(), src, dst, tempPath(t, "r.rbk"), testOpts(8)); err == nil {
		t.Error("expected error for a different dtype")
	}
}

func TestCellsCovering(t *testing.T) {
	tests := []struct {
		extent, res float64
		want        int
	}{
		{90, 30, 3},
		{90.0000000001, 30, 3},
		{91, 30, 4},
		{0.1 * 3, 0.1, 3},
		{0, 30, 0},
	}
	for _, tt := range tests {
		if got := cellsCovering(tt.extent, tt.res); got != tt.want {
			t.Errorf("cellsCovering(%v, %v) = %d, want %d", tt.extent, tt.res, got, tt.want)
		}
	}
}
