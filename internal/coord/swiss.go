package coord

// Bern reference point of the LV95 grid and its geographic position in
// arc-seconds.
const (
	lv95FalseEasting  = 2_600_000.0
	lv95FalseNorthing = 1_200_000.0
	bernLatSec        = 169_028.66
	bernLonSec        = 26_782.5
)

// SwissLV95 is EPSG:2056 (CH1903+ / LV95) using the swisstopo
// approximation polynomials. Positions are good to about a metre inside
// Switzerland and degrade towards the borders.
type SwissLV95 struct{}

func (s *SwissLV95) EPSG() int { return 2056 }

// ToWGS84 converts an LV95 easting/northing to longitude/latitude.
func (s *SwissLV95) ToWGS84(easting, northing float64) (lon, lat float64) {
	// Offsets from Bern in units of 1000 km.
	y := (easting - lv95FalseEasting) / 1e6
	x := (northing - lv95FalseNorthing) / 1e6
	y2, x2 := y*y, x*x

	// Both polynomials yield units of 10000 arc-seconds.
	lon10k := 2.6779094 + y*(4.728982+0.791484*x+0.1306*x2-0.0436*y2)
	lat10k := 16.9023892 + 3.238272*x - 0.270978*y2 - 0.002528*x2 - 0.0447*y2*x - 0.0140*x2*x
	return arcsec10kToDeg(lon10k), arcsec10kToDeg(lat10k)
}

// FromWGS84 converts longitude/latitude to an LV95 easting/northing.
func (s *SwissLV95) FromWGS84(lon, lat float64) (easting, northing float64) {
	// Offsets from Bern in units of 10000 arc-seconds.
	l := (lon*3600 - bernLonSec) / 1e4
	p := (lat*3600 - bernLatSec) / 1e4
	l2, p2 := l*l, p*p

	easting = 2_600_072.37 + l*(211_455.93-10_938.51*p-0.36*p2-44.54*l2)
	northing = 1_200_147.07 + 308_807.95*p + 3_745.25*l2 + 76.63*p2 - 194.56*l2*p + 119.79*p2*p
	return easting, northing
}

func arcsec10kToDeg(v float64) float64 { return v * 100 / 36 }
