package models

import (
	"time"
)

// Device represents a tracked asset and its transport state. The
// "Last*" fields are the per-device last-known state read by the event
// normalizer at the start of each packet and written back once, in a
// single batched update, when packet handling completes.
type Device struct {
	AccountModel

	// Identifiers
	DeviceID string `json:"deviceId" db:"device_id"`
	UniqueID string `json:"uniqueId" db:"unique_id"` // prefixed modem ID, e.g. "imei_123451042191239"

	// Metadata
	Description string `json:"description" db:"description"`
	EquipmentID string `json:"equipmentId,omitempty" db:"equipment_id"`
	IsActive    bool   `json:"isActive" db:"is_active"`

	// AuthHash is the bcrypt hash of the device password used by the
	// HTTP ingest endpoint. Empty disables the password check.
	AuthHash string `json:"-" db:"auth_hash"`

	// Transport bookkeeping, updated as a batch per packet
	DeviceCode        string     `json:"deviceCode,omitempty" db:"device_code"` // owning protocol handler name
	IPAddressValid    string     `json:"ipAddressValid,omitempty" db:"ip_address_valid"`
	IPAddressCurrent  string     `json:"ipAddressCurrent,omitempty" db:"ip_address_current"`
	RemotePortCurrent int        `json:"remotePortCurrent,omitempty" db:"remote_port_current"`
	LastConnectAt     *time.Time `json:"lastConnectAt,omitempty" db:"last_connect_at"`

	// Last-known state
	LastValidLatitude  float64 `json:"lastValidLatitude" db:"last_valid_latitude"`
	LastValidLongitude float64 `json:"lastValidLongitude" db:"last_valid_longitude"`
	LastValidTimestamp int64   `json:"lastValidTimestamp" db:"last_valid_timestamp"`
	LastOdometerKM     float64 `json:"lastOdometerKm" db:"last_odometer_km"`
	LastInputState     uint32  `json:"lastInputState" db:"last_input_state"`
	LastEventTimestamp int64   `json:"lastEventTimestamp" db:"last_event_timestamp"`
	LastEventStatus    int     `json:"lastEventStatus" db:"last_event_status"`
}

// MaxOdometerKM is the upper bound accepted for a device-reported odometer.
// Values at or above this are treated as garbage and the last known value
// is kept instead.
const MaxOdometerKM = 1000000.0 * 1.609344

// HasIPAllowList reports whether the device restricts inbound source IPs
func (d *Device) HasIPAllowList() bool {
	return d.IPAddressValid != ""
}

// LastStateUpdate is the batched per-packet write-back of device last-known
// state and transport bookkeeping. Only non-nil fields are persisted.
type LastStateUpdate struct {
	IPAddressCurrent  *string
	RemotePortCurrent *int
	LastConnectAt     *time.Time
	DeviceCode        *string

	LastValidLatitude  *float64
	LastValidLongitude *float64
	LastValidTimestamp *int64
	LastOdometerKM     *float64
	LastInputState     *uint32
	LastEventTimestamp *int64
	LastEventStatus    *int
}

// IsEmpty reports whether the update carries no changed fields
func (u *LastStateUpdate) IsEmpty() bool {
	return u.IPAddressCurrent == nil && u.RemotePortCurrent == nil &&
		u.LastConnectAt == nil && u.DeviceCode == nil &&
		u.LastValidLatitude == nil && u.LastValidLongitude == nil &&
		u.LastValidTimestamp == nil && u.LastOdometerKM == nil &&
		u.LastInputState == nil && u.LastEventTimestamp == nil &&
		u.LastEventStatus == nil
}
