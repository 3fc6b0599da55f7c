package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNMEALatitude parses an NMEA "ddmm.mmmm" latitude with a N/S hemisphere
// suffix into decimal degrees. 90.0 or greater means the value was unparsable.
func ParseNMEALatitude(value, hemisphere string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || v < 0 {
		return 90.0, fmt.Errorf("invalid NMEA latitude %q", value)
	}
	deg := float64(int64(v / 100.0))
	min := v - (deg * 100.0)
	lat := deg + (min / 60.0)
	if lat > 90.0 {
		return 90.0, fmt.Errorf("NMEA latitude out of range %q", value)
	}
	if strings.EqualFold(strings.TrimSpace(hemisphere), "S") {
		lat = -lat
	}
	return lat, nil
}

// ParseNMEALongitude parses an NMEA "dddmm.mmmm" longitude with an E/W
// hemisphere suffix into decimal degrees.
func ParseNMEALongitude(value, hemisphere string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || v < 0 {
		return 180.0, fmt.Errorf("invalid NMEA longitude %q", value)
	}
	deg := float64(int64(v / 100.0))
	min := v - (deg * 100.0)
	lon := deg + (min / 60.0)
	if lon > 180.0 {
		return 180.0, fmt.Errorf("NMEA longitude out of range %q", value)
	}
	if strings.EqualFold(strings.TrimSpace(hemisphere), "W") {
		lon = -lon
	}
	return lon, nil
}
