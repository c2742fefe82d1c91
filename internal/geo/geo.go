// Package geo computes great-circle distances for geofence checks.
package geo

import (
	"math"

	"geoattend/internal/apperr"
)

// EarthRadiusMeters is the mean earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// Coordinate is a point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate reports InvalidCoordinate for out-of-range or non-finite values.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return apperr.New(apperr.KindInvalidCoordinate, "coordinate must be finite")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return apperr.New(apperr.KindInvalidCoordinate, "latitude %v out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return apperr.New(apperr.KindInvalidCoordinate, "longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}

	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h)), nil
}

// Within reports whether point lies inside the circle around center.
// The boundary is inclusive.
func Within(point, center Coordinate, radiusMeters float64) (bool, float64, error) {
	d, err := DistanceMeters(point, center)
	if err != nil {
		return false, 0, err
	}
	return d <= radiusMeters, d, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
