// Package geodesy computes event/station geometry on a spherical Earth:
// great-circle distance in degrees and kilometres, and the forward azimuth
// from one point to another. The functions are pure and deterministic,
// which the arrival catalog relies on.
package geodesy

import "math"

// EarthRadiusKm is the mean Earth radius used for degree/kilometre
// conversion.
const EarthRadiusKm = 6371.0

// KmPerDegree is the great-circle arc length of one degree.
const KmPerDegree = EarthRadiusKm * math.Pi / 180

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceDeg returns the great-circle distance between two points in
// degrees of arc, using the haversine formulation for stability at small
// separations.
func DistanceDeg(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := rad(lat1), rad(lat2)
	dPhi := rad(lat2 - lat1)
	dLambda := rad(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return deg(2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a)))
}

// DistanceKm returns the great-circle distance in kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return DistanceDeg(lat1, lon1, lat2, lon2) * KmPerDegree
}

// Azimuth returns the forward azimuth from point 1 to point 2 in degrees
// clockwise from north, normalized to [0, 360).
func Azimuth(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := rad(lat1), rad(lat2)
	dLambda := rad(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	az := deg(math.Atan2(y, x))
	if az < 0 {
		az += 360
	}
	return az
}
