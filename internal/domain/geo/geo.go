// Package geo provides great-circle helpers for proximity checks.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371e3

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func deg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the haversine distance in meters between two coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := rad(lat1), rad(lat2)
	dp, dl := rad(lat2-lat1), rad(lon2-lon1)
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Within reports whether two coordinates are at most radius meters apart.
func Within(lat1, lon1, lat2, lon2, radius float64) bool {
	return Distance(lat1, lon1, lat2, lon2) <= radius
}

// Offset returns the point reached by travelling meters along bearing
// (degrees clockwise from north) from lat, lon.
func Offset(lat, lon, bearing, meters float64) (float64, float64) {
	d := meters / EarthRadiusMeters
	b := rad(bearing)
	p1, l1 := rad(lat), rad(lon)
	p2 := math.Asin(math.Sin(p1)*math.Cos(d) + math.Cos(p1)*math.Sin(d)*math.Cos(b))
	l2 := l1 + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(p1), math.Cos(d)-math.Sin(p1)*math.Sin(p2))
	return deg(p2), deg(l2)
}
