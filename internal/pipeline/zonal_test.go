package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/pspoerri/rasterprep/internal/coord"
	"github.com/pspoerri/rasterprep/internal/vector"
)

func ptr(v float64) *float64 { return &v }

func TestAggregateFullExtent(t *testing.T) {
	g := utmGeo(300, 200, 0, 0)
	g.NoData, g.HasNoData = 0, true
	src := patterned(g, 3)
	pred := Predicate{Min: ptr(100), Max: ptr(199), Classes: []float64{7}}

	var want int64
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			v := src.At(c, r)
			if v != 0 && (v == 7 || (v >= 100 && v <= 199)) {
				want++
			}
		}
	}
	zone := rectBoundary("all", testCRS, worldX(0), worldY(200), worldX(300), worldY(0))
	accs, rep, err := Aggregate(context.Background(), src, []vector.Boundary{zone}, pred, testOpts(64))
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", rep.Warnings)
	}
	if len(accs) != 1 || accs[0].ZoneID != "all" {
		t.Fatalf("accs = %+v", accs)
	}
	if accs[0].PixelCount != want {
		t.Errorf("pixel count = %d, want %d", accs[0].PixelCount, want)
	}
	if accs[0].AreaM2 != float64(want)*testRes*testRes {
		t.Errorf("area = %v, want %v", accs[0].AreaM2, float64(want)*testRes*testRes)
	}
}

func TestAggregateBlockSizeInvariance(t *testing.T) {
	src := patterned(utmGeo(300, 200, 0, 0), 11)
	zones := []vector.Boundary{
		starBoundary(),
		rectBoundary("box", testCRS, worldX(100.2), worldY(150.6), worldX(250.9), worldY(20.1)),
		rectBoundary("edge", testCRS, worldX(-50), worldY(250), worldX(12.5), worldY(-10)),
		rectBoundary("outside", testCRS, worldX(500), worldY(600), worldX(600), worldY(500)),
	}
	pred := Predicate{Classes: []float64{1, 2, 3, 50, 51, 52, 200}}

	var ref []ZoneAccumulator
	for _, bs := range []int{4096, 1, 13, 64} {
		t.Run(fmt.Sprint(bs), func(t *testing.T) {
			accs, _, err := Aggregate(context.Background(), src, zones, pred, testOpts(bs))
			if err != nil {
				t.Fatal(err)
			}
			if ref == nil {
				ref = accs
				for _, a := range accs[:3] {
					if a.PixelCount == 0 {
						t.Errorf("zone %s matched nothing", a.ZoneID)
					}
				}
				if accs[3].PixelCount != 0 || accs[3].AreaM2 != 0 {
					t.Errorf("zone outside the raster = %+v", accs[3])
				}
				return
			}
			for i := range ref {
				if accs[i] != ref[i] {
					t.Errorf("zone %s: %+v, want %+v", ref[i].ZoneID, accs[i], ref[i])
				}
			}
		})
	}
}

func TestAggregateGeographicArea(t *testing.T) {
	g := geoGrid()
	src := constant(g, 1)
	zone := rectBoundary("geo", 4326, 39.0, 9.0, 39.05, 9.05)
	accs, _, err := Aggregate(context.Background(), src, []vector.Boundary{zone}, Predicate{Classes: []float64{1}}, testOpts(32))
	if err != nil {
		t.Fatal(err)
	}
	if accs[0].PixelCount != 100*100 {
		t.Fatalf("pixel count = %d, want 10000", accs[0].PixelCount)
	}
	var want float64
	for r := 0; r < g.Height; r++ {
		lat := 9.05 - 0.0005*(float64(r)+0.5)
		want += 100 * coord.PixelAreaM2(4326, 0.0005, 0.0005, lat)
	}
	if math.Abs(accs[0].AreaM2-want) > 1e-6*want {
		t.Errorf("area = %v, want %v", accs[0].AreaM2, want)
	}
	// 0.05° square at 9°N is about 5.56 km × 5.49 km.
	if accs[0].AreaM2 < 3.0e7 || accs[0].AreaM2 > 3.1e7 {
		t.Errorf("area = %v m², want about 3.05e7", accs[0].AreaM2)
	}
}

func TestAggregateExcludesNoData(t *testing.T) {
	g := utmGeo(20, 20, 0, 0)
	g.NoData, g.HasNoData = noDataByte, true
	src := constant(g, 4)
	src.Set(3, 3, noDataByte)
	src.Set(10, 12, noDataByte)
	zone := rectBoundary("z", testCRS, worldX(0), worldY(20), worldX(20), worldY(0))
	accs, _, err := Aggregate(context.Background(), src, []vector.Boundary{zone}, Predicate{}, testOpts(8))
	if err != nil {
		t.Fatal(err)
	}
	if accs[0].PixelCount != 398 {
		t.Errorf("pixel count = %d, want 398", accs[0].PixelCount)
	}
}

func TestAggregateErrors(t *testing.T) {
	src := constant(utmGeo(20, 20, 0, 0), 1)
	zone := rectBoundary("z", testCRS, worldX(0), worldY(20), worldX(20), worldY(0))
	tests := []struct {
		name string
		pred Predicate
	}{
		{"band out of range", Predicate{Band: 1}},
		{"negative band", Predicate{Band: -1}},
		{"inverted range", Predicate{Min: ptr(5), Max: ptr(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Aggregate(context.Background(), src, []vector.Boundary{zone}, tt.pred, testOpts(8)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPredicateMatch(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
		in   []float64
		out  []float64
	}{
		{"everything", Predicate{}, []float64{0, 1, -5, 1e9}, nil},
		{"classes", Predicate{Classes: []float64{1, 3}}, []float64{1, 3}, []float64{0, 2, 4}},
		{"range", Predicate{Min: ptr(10), Max: ptr(20)}, []float64{10, 15, 20}, []float64{9.9, 20.1}},
		{"open range", Predicate{Min: ptr(10)}, []float64{10, 1e6}, []float64{9}},
		{"classes or range", Predicate{Classes: []float64{1}, Max: ptr(-1)}, []float64{1, -1, -7}, []float64{0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.in {
				if !tt.pred.Match(v) {
					t.Errorf("Match(%v) = false, want true", v)
				}
			}
			for _, v := range tt.out {
				if tt.pred.Match(v) {
					t.Errorf("Match(%v) = true, want false", v)
				}
			}
		})
	}
}

func TestWriteZonalJSON(t *testing.T) {
	accs := []ZoneAccumulator{
		{ZoneID: "a", PixelCount: 10, AreaM2: 9000},
		{ZoneID: "b", PixelCount: 0},
		{ZoneID: "a", PixelCount: 5, AreaM2: 4500},
	}
	path := tempPath(t, "out/zonal.json")
	if err := WriteZonalJSON(path, accs); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]ZoneResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]ZoneResult{
		"a": {PixelCount: 15, AreaM2: 13500, AreaHa: 1.35},
		"b": {},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for id, w := range want {
		if got[id] != w {
			t.Errorf("zone %s = %+v, want %+v", id, got[id], w)
		}
	}
}
