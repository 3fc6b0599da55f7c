package models

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a normalized telemetry event. The natural key is
// (accountID, deviceID, timestamp, statusCode); writing the same key twice
// overwrites the previous row rather than inserting a duplicate.
type Event struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	AccountID  string `json:"accountId" db:"account_id"`
	DeviceID   string `json:"deviceId" db:"device_id"`
	Timestamp  int64  `json:"timestamp" db:"timestamp"` // UTC seconds
	StatusCode int    `json:"statusCode" db:"status_code"`

	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	GPSValid  bool    `json:"gpsValid" db:"gps_valid"`

	SpeedKPH   float64 `json:"speedKph" db:"speed_kph"`
	HeadingDeg float64 `json:"headingDeg" db:"heading_deg"`
	AltitudeM  float64 `json:"altitudeM" db:"altitude_m"`
	OdometerKM float64 `json:"odometerKm" db:"odometer_km"`

	InputMask *uint32  `json:"inputMask,omitempty" db:"input_mask"`
	Satellites int     `json:"satellites,omitempty" db:"satellites"`
	HDOP       float64 `json:"hdop,omitempty" db:"hdop"`
	GPSAgeSec  int     `json:"gpsAgeSec,omitempty" db:"gps_age_sec"`

	GeozoneID string `json:"geozoneId,omitempty" db:"geozone_id"`

	RawData string `json:"rawData,omitempty" db:"raw_data"`
}
