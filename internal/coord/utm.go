package coord

import "math"

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)

	utmK0            = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// UTM implements the Projection interface for WGS84 / UTM zones
// (EPSG:326zz north, EPSG:327zz south) using the transverse Mercator
// series from Snyder, "Map Projections: A Working Manual" (USGS 1395),
// pp. 61-64. Accuracy is well below a millimetre inside the zone.
type UTM struct {
	Zone  int
	South bool

	lon0 float64 // central meridian, radians
}

// NewUTM returns the projection for zone 1..60.
func NewUTM(zone int, south bool) *UTM {
	return &UTM{
		Zone:  zone,
		South: south,
		lon0:  float64(zone*6-183) * math.Pi / 180,
	}
}

func (u *UTM) EPSG() int {
	if u.South {
		return 32700 + u.Zone
	}
	return 32600 + u.Zone
}

// FromWGS84 converts longitude/latitude (degrees) to easting/northing.
func (u *UTM) FromWGS84(lon, lat float64) (easting, northing float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180

	ep2 := wgs84E2 / (1 - wgs84E2)
	sin, cos := math.Sincos(phi)
	tan := sin / cos

	n := wgs84A / math.Sqrt(1-wgs84E2*sin*sin)
	t := tan * tan
	c := ep2 * cos * cos
	a := cos * (lam - u.lon0)
	m := meridianArc(phi)

	easting = utmK0*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120) + utmFalseEasting
	northing = utmK0 * (m + n*tan*(a*a/2+
		(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))
	if u.South {
		northing += utmFalseNorthing
	}
	return easting, northing
}

// ToWGS84 converts easting/northing to longitude/latitude (degrees).
func (u *UTM) ToWGS84(easting, northing float64) (lon, lat float64) {
	x := easting - utmFalseEasting
	y := northing
	if u.South {
		y -= utmFalseNorthing
	}

	ep2 := wgs84E2 / (1 - wgs84E2)
	e1 := (1 - math.Sqrt(1-wgs84E2)) / (1 + math.Sqrt(1-wgs84E2))

	m := y / utmK0
	mu := m / (wgs84A * (1 - wgs84E2/4 - 3*wgs84E2*wgs84E2/64 - 5*wgs84E2*wgs84E2*wgs84E2/256))
	phi1 := mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sin, cos := math.Sincos(phi1)
	tan := sin / cos
	c1 := ep2 * cos * cos
	t1 := tan * tan
	n1 := wgs84A / math.Sqrt(1-wgs84E2*sin*sin)
	r1 := wgs84A * (1 - wgs84E2) / math.Pow(1-wgs84E2*sin*sin, 1.5)
	d := x / (n1 * utmK0)

	phi := phi1 - (n1*tan/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d*d*d*d/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d*d*d*d*d*d/720)
	lam := u.lon0 + (d-(1+2*t1+c1)*d*d*d/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d*d*d*d*d/120)/cos

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}

// meridianArc returns the distance along the meridian from the equator to
// latitude phi (radians).
func meridianArc(phi float64) float64 {
	e2 := wgs84E2
	e4 := e2 * e2
	e6 := e4 * e2
	return wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}
