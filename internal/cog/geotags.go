package cog

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pspoerri/rasterprep/internal/grid"
)

// GeoTIFF GeoKey IDs.
const (
	gkModelTypeGeoKey       = 1024
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	rasterPixelIsPoint  = 2
)

// GeoInfo holds parsed GeoTIFF metadata.
type GeoInfo struct {
	EPSG      int         // EPSG code (e.g. 2056)
	Transform grid.Affine // pixel corner → CRS
	Georef    bool        // false when neither tags nor a world file were found
	NoData    float64
	HasNoData bool
}

// parseGeoInfo extracts geographic metadata from an IFD.
func parseGeoInfo(ifd *IFD) (GeoInfo, error) {
	info := GeoInfo{}
	keys := parseGeoKeys(ifd.GeoKeys)
	info.EPSG = keys[gkProjectedCSTypeGeoKey]
	if info.EPSG == 0 {
		info.EPSG = keys[gkGeographicTypeGeoKey]
	}

	switch {
	case len(ifd.ModelTransformation) >= 16:
		m := ifd.ModelTransformation
		info.Transform = grid.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
		info.Georef = true
	case len(ifd.ModelPixelScale) >= 2 && len(ifd.ModelTiepoint) >= 6:
		// ModelPixelScale: [ScaleX, ScaleY, ScaleZ]
		// ModelTiepoint: [I, J, K, X, Y, Z] maps pixel (I,J) to (X,Y).
		sx, sy := ifd.ModelPixelScale[0], ifd.ModelPixelScale[1]
		tp := ifd.ModelTiepoint
		info.Transform = grid.Affine{
			A: sx,
			C: tp[3] - tp[0]*sx,
			E: -sy,
			F: tp[4] + tp[1]*sy,
		}
		info.Georef = true
	}

	// PixelIsPoint rasters reference pixel centres; shift to the corner.
	if info.Georef && keys[gkRasterTypeGeoKey] == rasterPixelIsPoint {
		info.Transform.C -= (info.Transform.A + info.Transform.B) / 2
		info.Transform.F -= (info.Transform.D + info.Transform.E) / 2
	}

	if ifd.GDALNoData != "" {
		v, err := parseNoData(ifd.GDALNoData)
		if err != nil {
			return info, err
		}
		info.NoData, info.HasNoData = v, true
	}
	return info, nil
}

func parseNoData(s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GDAL_NODATA %q: %w", s, err)
	}
	return v, nil
}

// parseGeoKeys returns the inline SHORT values of the GeoKey directory,
// keyed by GeoKey ID.
func parseGeoKeys(geoKeys []uint16) map[int]int {
	out := make(map[int]int)
	if len(geoKeys) < 4 {
		return out
	}

	// GeoKey directory header: [KeyDirectoryVersion, KeyRevision, MinorRevision, NumberOfKeys]
	numKeys := int(geoKeys[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		keyID := geoKeys[base]
		location := geoKeys[base+1]
		valueOffset := geoKeys[base+3]
		// Location 0 means the value is stored inline.
		if location == 0 && valueOffset > 0 && valueOffset != math.MaxUint16 {
			out[int(keyID)] = int(valueOffset)
		}
	}
	return out
}

// geoKeyDirectory builds the GeoKey directory for an EPSG code.
func geoKeyDirectory(epsg int, geographic bool) []uint16 {
	model, crsKey := uint16(modelTypeProjected), uint16(gkProjectedCSTypeGeoKey)
	if geographic {
		model, crsKey = modelTypeGeographic, gkGeographicTypeGeoKey
	}
	return []uint16{
		1, 1, 0, 3,
		gkModelTypeGeoKey, 0, 1, model,
		gkRasterTypeGeoKey, 0, 1, rasterPixelIsArea,
		crsKey, 0, 1, uint16(epsg),
	}
}
