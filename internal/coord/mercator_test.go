package coord

import (
	"math"
	"testing"
)

func TestWebMercatorProj_LatitudeClamp(t *testing.T) {
	wm := &WebMercatorProj{}
	_, y := wm.FromWGS84(0, 90)
	if math.IsInf(y, 0) || math.IsNaN(y) {
		t.Fatalf("FromWGS84(0, 90).y = %v, want finite", y)
	}
	if math.Abs(y-OriginShift) > 1 {
		t.Errorf("FromWGS84(0, 90).y = %v, want ~%v", y, OriginShift)
	}
}

func TestPixelAreaM2(t *testing.T) {
	tests := []struct {
		name   string
		epsg   int
		dx, dy float64
		lat    float64
		want   float64
		tol    float64
	}{
		{"projected 30m", 32637, 30, -30, 0, 900, 0},
		{"lv95 10m", 2056, 10, 10, 46, 100, 0},
		{"geographic equator", 4326, 0.001, 0.001, 0, 111.132 * 111.132, 1e-6},
		{"geographic 60N halves width", 4326, 0.001, 0.001, 60, 111.132 * 111.132 / 2, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PixelAreaM2(tt.epsg, tt.dx, tt.dy, tt.lat)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("got %.9f, want %.9f", got, tt.want)
			}
		})
	}
}
