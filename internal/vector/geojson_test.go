package vector

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

const zonesGeoJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32632"}},
  "features": [
    {"type": "Feature", "properties": {"GID_1": "ETH.1_1", "NAME": "Addis"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "id": 7, "properties": {"NAME": "No GID"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[20,0],[30,0],[30,10],[20,0]]],[[[40,0],[50,0],[50,10],[40,0]]]]}},
    {"type": "Feature", "properties": {"GID_1": "line"},
     "geometry": {"type": "LineString", "coordinates": [[0,0],[1,1]]}},
    {"type": "Feature", "properties": {"GID_1": 12},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadGeoJSON(t *testing.T) {
	path := writeFile(t, "zones.geojson", zonesGeoJSON)
	res, err := LoadGeoJSON(path, "GID_1", 4326)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 4 || res.Skipped != 1 || len(res.Boundaries) != 3 {
		t.Fatalf("total=%d skipped=%d kept=%d", res.Total, res.Skipped, len(res.Boundaries))
	}

	wantIDs := []string{"ETH.1_1", "7", "12"}
	for i, b := range res.Boundaries {
		if b.ID != wantIDs[i] {
			t.Errorf("boundary %d id = %q, want %q", i, b.ID, wantIDs[i])
		}
		if b.CRS != 32632 {
			t.Errorf("boundary %d crs = %d, want 32632", i, b.CRS)
		}
	}
	if len(res.Boundaries[1].Geometry) != 2 {
		t.Errorf("multipolygon has %d parts, want 2", len(res.Boundaries[1].Geometry))
	}
	if res.Boundaries[0].Properties["NAME"] != "Addis" {
		t.Errorf("properties = %v", res.Boundaries[0].Properties)
	}
}

func TestLoadGeoJSONDefaults(t *testing.T) {
	path := writeFile(t, "plain.geojson", `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`)
	res, err := LoadGeoJSON(path, "missing", 0)
	if err != nil {
		t.Fatal(err)
	}
	if b := res.Boundaries[0]; b.ID != "feature-0" || b.CRS != 4326 {
		t.Errorf("got id=%q crs=%d", b.ID, b.CRS)
	}
}

func TestLoadGeoJSONErrors(t *testing.T) {
	if _, err := LoadGeoJSON(filepath.Join(t.TempDir(), "none.geojson"), "", 0); err == nil {
		t.Error("expected error for missing file")
	}
	bad := writeFile(t, "bad.geojson", `{"type":"FeatureCollection","features":[`)
	if _, err := LoadGeoJSON(bad, "", 0); err == nil {
		t.Error("expected error for truncated document")
	}
	crs := writeFile(t, "crs.geojson", `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:abc"}},"features":[]}`)
	if _, err := LoadGeoJSON(crs, "", 0); err == nil {
		t.Error("expected error for unparseable crs name")
	}
}

func TestReproject(t *testing.T) {
	b := Boundary{ID: "z", CRS: 4326, Geometry: orb.MultiPolygon{{square(8.9, 44.9, 9.1, 45.1)}}}
	utm, err := b.Reproject(32632)
	if err != nil {
		t.Fatal(err)
	}
	if utm.CRS != 32632 {
		t.Fatalf("crs = %d", utm.CRS)
	}
	if b.Geometry[0][0][0] != (orb.Point{8.9, 44.9}) {
		t.Error("source geometry modified")
	}
	// Zone 32's central meridian is 9°E.
	c := utm.Bound().Center()
	if math.Abs(c[0]-500000) > 50 || math.Abs(c[1]-4982950) > 100 {
		t.Errorf("centre = %v", c)
	}

	back, err := utm.Reproject(4326)
	if err != nil {
		t.Fatal(err)
	}
	for i, pt := range back.Geometry[0][0] {
		want := b.Geometry[0][0][i]
		if math.Abs(pt[0]-want[0]) > 1e-7 || math.Abs(pt[1]-want[1]) > 1e-7 {
			t.Errorf("vertex %d = %v, want %v", i, pt, want)
		}
	}

	if _, err := b.Reproject(27700); err == nil {
		t.Error("expected error for unsupported CRS")
	}

	all, moved, err := ReprojectAll([]Boundary{b, utm}, 32632)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 1 || all[0].CRS != 32632 || all[1].CRS != 32632 {
		t.Errorf("moved=%d crs=%d,%d", moved, all[0].CRS, all[1].CRS)
	}
}

func TestIndexSearch(t *testing.T) {
	bs := []Boundary{
		{ID: "a", Geometry: orb.MultiPolygon{{square(0, 0, 10, 10)}}},
		{ID: "b", Geometry: orb.MultiPolygon{{square(20, 0, 30, 10)}}},
		{ID: "c", Geometry: orb.MultiPolygon{{square(5, 5, 25, 6)}}},
	}
	idx := NewBoundaryIndex(bs)
	if idx.Len() != 3 {
		t.Fatalf("Len = %d", idx.Len())
	}
	tests := []struct {
		q    orb.Bound
		want []int
	}{
		{orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}, []int{0}},
		{orb.Bound{Min: orb.Point{8, 5.5}, Max: orb.Point{22, 5.5}}, []int{0, 1, 2}},
		{orb.Bound{Min: orb.Point{12, 0}, Max: orb.Point{18, 4}}, nil},
		{orb.Bound{Min: orb.Point{100, 100}, Max: orb.Point{200, 200}}, nil},
	}
	for _, tt := range tests {
		got := idx.Search(tt.q)
		if len(got) != len(tt.want) {
			t.Errorf("Search(%v) = %v, want %v", tt.q, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Search(%v) = %v, want %v", tt.q, got, tt.want)
				break
			}
		}
	}
	if NewIndex(nil).Search(orb.Bound{}) != nil {
		t.Error("empty index returned hits")
	}
}

func TestIndexSearchTouching(t *testing.T) {
	tests := []struct {
		name  string
		items []orb.Bound
		q     orb.Bound
		want  int
	}{
		{
			name:  "shared column",
			items: []orb.Bound{{Min: orb.Point{0.5, 0.5}, Max: orb.Point{9.5, 9.5}}},
			q:     orb.Bound{Min: orb.Point{9.5, 0.5}, Max: orb.Point{17.5, 8.5}},
			want:  1,
		},
		{
			name:  "shared corner",
			items: []orb.Bound{{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}},
			q:     orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{20, 20}},
			want:  1,
		},
		{
			name:  "shared edge at projected magnitudes",
			items: []orb.Bound{{Min: orb.Point{500000, 999000}, Max: orb.Point{500300, 1000000}}},
			q:     orb.Bound{Min: orb.Point{500300, 999500}, Max: orb.Point{500600, 999800}},
			want:  1,
		},
		{
			name:  "point on a segment envelope",
			items: []orb.Bound{{Min: orb.Point{0, 5}, Max: orb.Point{10, 5}}},
			q:     orb.Bound{Min: orb.Point{10, 5}, Max: orb.Point{10, 5}},
			want:  1,
		},
		{
			name:  "gap",
			items: []orb.Bound{{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}},
			q:     orb.Bound{Min: orb.Point{10.001, 0}, Max: orb.Point{20, 10}},
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewIndex(tt.items).Search(tt.q)
			if len(got) != tt.want {
				t.Errorf("Search(%v) = %v, want %d hits", tt.q, got, tt.want)
			}
		})
	}
}

func TestUnion(t *testing.T) {
	u := Union("all", []Boundary{
		{CRS: 2056, Geometry: orb.MultiPolygon{{square(0, 0, 1, 1)}}},
		{CRS: 2056, Geometry: orb.MultiPolygon{{square(2, 0, 3, 1)}, {square(4, 0, 5, 1)}}},
	})
	if u.ID != "all" || u.CRS != 2056 || len(u.Geometry) != 3 {
		t.Errorf("union = %+v", u)
	}
}
