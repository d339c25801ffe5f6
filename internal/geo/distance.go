// Package geo provides great-circle distance and travel-velocity math.
package geo

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// WGS84 coordinate pairs in degrees. Identical points yield 0.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1

	sinLat := math.Sin(dlat / 2)
	sinLon := math.Sin(dlon / 2)

	a := sinLat*sinLat + math.Cos(rlat1)*math.Cos(rlat2)*sinLon*sinLon
	c := 2 * math.Asin(math.Min(1, math.Sqrt(a)))
	return EarthRadiusKm * c
}

// Velocity returns the implied travel speed in km/h between two observations,
// and whether that speed is actually known. The speed is unknown when either
// endpoint has no location or when no time elapsed between them; in both cases
// the returned speed is 0 so that stored values match the legacy convention of
// conflating "unknown" with "not moving".
func Velocity(lat1, lon1 *float64, t1 time.Time, lat2, lon2 *float64, t2 time.Time) (kmph float64, known bool) {
	if lat1 == nil || lon1 == nil || lat2 == nil || lon2 == nil {
		return 0, false
	}

	elapsed := t2.Sub(t1).Hours()
	if elapsed <= 0 {
		return 0, false
	}

	dist := HaversineKm(*lat1, *lon1, *lat2, *lon2)
	return dist / elapsed, true
}
