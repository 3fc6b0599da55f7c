package geo

import (
	"fmt"
	"math"
)

// Unit conversion constants
const (
	EarthRadiusKM      = 6371.0088
	KilometersPerKnot  = 1.85200
	KilometersPerMile  = 1.609344
	MetersPerKilometer = 1000.0
)

// Point represents a WGS84 latitude/longitude pair in decimal degrees
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewPoint creates a new point
func NewPoint(lat, lon float64) Point {
	return Point{Latitude: lat, Longitude: lon}
}

// IsValid reports whether the point is a usable GPS fix.
// (0,0) is treated as "no fix", matching common tracker behavior.
func (p Point) IsValid() bool {
	return IsValid(p.Latitude, p.Longitude)
}

// IsZero reports whether the point is exactly (0,0)
func (p Point) IsZero() bool {
	return p.Latitude == 0.0 && p.Longitude == 0.0
}

// String returns "lat/lon" representation
func (p Point) String() string {
	return fmt.Sprintf("%.5f/%.5f", p.Latitude, p.Longitude)
}

// IsValid reports whether lat/lon form a usable GPS fix
func IsValid(lat, lon float64) bool {
	if lat > 90.0 || lat < -90.0 {
		return false
	}
	if lon > 180.0 || lon < -180.0 {
		return false
	}
	if lat == 0.0 && lon == 0.0 {
		return false
	}
	return true
}

// KilometersTo returns the great-circle distance to another point in kilometers
func (p Point) KilometersTo(q Point) float64 {
	lat1 := radians(p.Latitude)
	lat2 := radians(q.Latitude)
	dLat := radians(q.Latitude - p.Latitude)
	dLon := radians(q.Longitude - p.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKM * c
}

// MetersTo returns the great-circle distance to another point in meters
func (p Point) MetersTo(q Point) float64 {
	return p.KilometersTo(q) * MetersPerKilometer
}

// HeadingTo returns the initial bearing from p to q in degrees [0,360)
func (p Point) HeadingTo(q Point) float64 {
	lat1 := radians(p.Latitude)
	lat2 := radians(q.Latitude)
	dLon := radians(q.Longitude - p.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := degrees(math.Atan2(y, x))
	if deg < 0 {
		deg += 360.0
	}
	return deg
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
