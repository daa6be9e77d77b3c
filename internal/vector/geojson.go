package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// LoadResult describes what LoadGeoJSON kept.
type LoadResult struct {
	Boundaries []Boundary
	Skipped    int // features without polygonal geometry
	Total      int
}

// LoadGeoJSON reads polygon features from a GeoJSON FeatureCollection.
// The feature id is taken from idProperty, falling back to the feature's
// own id and then its index. The CRS comes from the legacy "crs" member
// when present, otherwise defaultCRS (4326 per RFC 7946).
func LoadGeoJSON(path, idProperty string, defaultCRS int) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return LoadResult{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	crs, err := namedCRS(data)
	if err != nil {
		return LoadResult{}, fmt.Errorf("%s: %w", path, err)
	}
	if crs == 0 {
		crs = defaultCRS
	}
	if crs == 0 {
		crs = 4326
	}

	res := LoadResult{Total: len(fc.Features)}
	for i, f := range fc.Features {
		mp, ok := asMultiPolygon(f.Geometry)
		if !ok || len(mp) == 0 {
			res.Skipped++
			continue
		}
		res.Boundaries = append(res.Boundaries, Boundary{
			ID:         featureID(f, idProperty, i),
			CRS:        crs,
			Geometry:   mp,
			Properties: map[string]any(f.Properties),
		})
	}
	return res, nil
}

func featureID(f *geojson.Feature, idProperty string, index int) string {
	if idProperty != "" {
		if v, ok := f.Properties[idProperty]; ok && v != nil {
			return formatID(v)
		}
	}
	if f.ID != nil {
		return formatID(f.ID)
	}
	return "feature-" + strconv.Itoa(index)
}

func formatID(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

// namedCRS extracts the EPSG code of a legacy GeoJSON "crs" member such as
// {"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::32637"}}.
func namedCRS(data []byte) (int, error) {
	var doc struct {
		CRS *struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, err
	}
	if doc.CRS == nil || doc.CRS.Properties.Name == "" {
		return 0, nil
	}
	name := doc.CRS.Properties.Name
	if strings.HasSuffix(name, "CRS84") {
		return 4326, nil
	}
	i := strings.LastIndexAny(name, ":")
	code, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, fmt.Errorf("unrecognised crs name %q", name)
	}
	return code, nil
}
