package coord

import "math"

// MetersPerDegree is the length of one degree of latitude used for
// geographic pixel areas.
const MetersPerDegree = 111132.0

// PixelAreaM2 returns the ground area in square metres of one pixel of
// size (dx, dy) CRS units. For geographic CRS the east-west size shrinks
// with cos(lat), where lat is the pixel row's centre latitude; projected
// CRS use the planar area.
func PixelAreaM2(epsg int, dx, dy, lat float64) float64 {
	dx, dy = math.Abs(dx), math.Abs(dy)
	if !IsGeographic(epsg) {
		return dx * dy
	}
	w := dx * MetersPerDegree * math.Cos(lat*math.Pi/180)
	h := dy * MetersPerDegree
	return w * h
}
