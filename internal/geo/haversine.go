// Package geo holds great-circle helpers on a spherical Earth.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all distances.
const EarthRadiusMeters = 6371000.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// DistanceMeters returns the haversine great-circle distance between two
// points given in decimal degrees. Non-finite inputs yield NaN.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	// rounding can push a a hair past 1 for antipodal points
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// LongitudeDeltaDegrees returns the longitude offset that covers the given
// distance along the equator.
func LongitudeDeltaDegrees(meters float64) float64 {
	return meters / EarthRadiusMeters * 180 / math.Pi
}

// Offset moves a point the given number of metres north and east using a
// local flat-earth approximation, which is adequate for the short hops
// between consecutive fixes.
func Offset(lat, lon, northMeters, eastMeters float64) (float64, float64) {
	dLat := northMeters / EarthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (EarthRadiusMeters * math.Cos(toRadians(lat))) * 180 / math.Pi
	return lat + dLat, lon + dLon
}
