package models

import (
	"github.com/track-server/track-server-pro/pkg/geo"
)

// Geozone represents a named circular region tied to an account. Arrival
// and departure events are synthesized when a device's consecutive valid
// fixes cross the zone boundary.
type Geozone struct {
	AccountModel

	GeozoneID   string `json:"geozoneId" db:"geozone_id"`
	Description string `json:"description" db:"description"`

	CenterLatitude  float64 `json:"centerLatitude" db:"center_latitude"`
	CenterLongitude float64 `json:"centerLongitude" db:"center_longitude"`
	RadiusMeters    float64 `json:"radiusMeters" db:"radius_meters"`

	ArrivalZone   bool `json:"arrivalZone" db:"arrival_zone"`
	DepartureZone bool `json:"departureZone" db:"departure_zone"`
	IsActive      bool `json:"isActive" db:"is_active"`
}

// Contains reports whether the point lies within the zone radius
func (z *Geozone) Contains(p geo.Point) bool {
	if !p.IsValid() || z.RadiusMeters <= 0 {
		return false
	}
	center := geo.NewPoint(z.CenterLatitude, z.CenterLongitude)
	return center.MetersTo(p) <= z.RadiusMeters
}
