// Package geo holds great-circle helpers shared by the matrix fallback and
// plan stop estimation.
package geo

import (
	"math"

	"routeplanner/internal/model"
)

const earthRadiusMeters = 6371000.0

// Meters returns the haversine distance between two points.
func Meters(a, b model.Coordinates) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h just outside [0,1] for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// TravelSeconds estimates travel time for a distance at a constant speed.
func TravelSeconds(meters, speedKmph float64) float64 {
	if speedKmph <= 0 {
		return 0
	}
	return meters / (speedKmph * 1000 / 3600)
}

// Finite reports whether both coordinates are usable numbers.
func Finite(c model.Coordinates) bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) && !math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}
