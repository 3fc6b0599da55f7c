package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/track-server/track-server-pro/internal/models"
)

// ========== Device Methods ==========

const deviceColumns = `
    id, created_at, updated_at, account_id, device_id, unique_id,
    description, equipment_id, is_active, auth_hash, device_code,
    ip_address_valid, ip_address_current, remote_port_current, last_connect_at,
    last_valid_latitude, last_valid_longitude, last_valid_timestamp,
    last_odometer_km, last_input_state, last_event_timestamp, last_event_status`

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
        INSERT INTO devices (` + deviceColumns + `
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
            $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.CreatedAt, device.UpdatedAt, device.AccountID,
		device.DeviceID, device.UniqueID, device.Description, device.EquipmentID,
		device.IsActive, device.AuthHash, device.DeviceCode, device.IPAddressValid,
		device.IPAddressCurrent, device.RemotePortCurrent, device.LastConnectAt,
		device.LastValidLatitude, device.LastValidLongitude, device.LastValidTimestamp,
		device.LastOdometerKM, device.LastInputState, device.LastEventTimestamp,
		device.LastEventStatus,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func (s *PostgresStore) scanDevice(row *sql.Row) (*models.Device, error) {
	device := &models.Device{}
	err := row.Scan(
		&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.AccountID,
		&device.DeviceID, &device.UniqueID, &device.Description, &device.EquipmentID,
		&device.IsActive, &device.AuthHash, &device.DeviceCode, &device.IPAddressValid,
		&device.IPAddressCurrent, &device.RemotePortCurrent, &device.LastConnectAt,
		&device.LastValidLatitude, &device.LastValidLongitude, &device.LastValidTimestamp,
		&device.LastOdometerKM, &device.LastInputState, &device.LastEventTimestamp,
		&device.LastEventStatus,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return device, nil
}

// GetDevice gets a device by account and device ID
func (s *PostgresStore) GetDevice(ctx context.Context, accountID, deviceID string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices
        WHERE account_id = $1 AND device_id = $2`
	return s.scanDevice(s.getDB().QueryRowContext(ctx, query, accountID, deviceID))
}

// GetDeviceByUniqueID gets a device by its prefixed unique modem ID
func (s *PostgresStore) GetDeviceByUniqueID(ctx context.Context, uniqueID string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE unique_id = $1`
	return s.scanDevice(s.getDB().QueryRowContext(ctx, query, uniqueID))
}

// UpdateDevice updates a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	query := `
        UPDATE devices SET
            updated_at = $1, unique_id = $2, description = $3, equipment_id = $4,
            is_active = $5, auth_hash = $6, device_code = $7, ip_address_valid = $8,
            ip_address_current = $9, remote_port_current = $10, last_connect_at = $11,
            last_valid_latitude = $12, last_valid_longitude = $13,
            last_valid_timestamp = $14, last_odometer_km = $15,
            last_input_state = $16, last_event_timestamp = $17, last_event_status = $18
        WHERE account_id = $19 AND device_id = $20`

	result, err := s.getDB().ExecContext(ctx, query,
		device.UpdatedAt, device.UniqueID, device.Description, device.EquipmentID,
		device.IsActive, device.AuthHash, device.DeviceCode, device.IPAddressValid,
		device.IPAddressCurrent, device.RemotePortCurrent, device.LastConnectAt,
		device.LastValidLatitude, device.LastValidLongitude, device.LastValidTimestamp,
		device.LastOdometerKM, device.LastInputState, device.LastEventTimestamp,
		device.LastEventStatus, device.AccountID, device.DeviceID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateDeviceLastState applies the batched per-packet write-back of changed
// device fields. Only fields present in the update are written.
func (s *PostgresStore) UpdateDeviceLastState(ctx context.Context, accountID, deviceID string, update *models.LastStateUpdate) error {
	if update == nil || update.IsEmpty() {
		return nil
	}

	set := []string{"updated_at = $1"}
	args := []interface{}{time.Now()}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.IPAddressCurrent != nil {
		add("ip_address_current", *update.IPAddressCurrent)
	}
	if update.RemotePortCurrent != nil {
		add("remote_port_current", *update.RemotePortCurrent)
	}
	if update.LastConnectAt != nil {
		add("last_connect_at", *update.LastConnectAt)
	}
	if update.DeviceCode != nil {
		add("device_code", *update.DeviceCode)
	}
	if update.LastValidLatitude != nil {
		add("last_valid_latitude", *update.LastValidLatitude)
	}
	if update.LastValidLongitude != nil {
		add("last_valid_longitude", *update.LastValidLongitude)
	}
	if update.LastValidTimestamp != nil {
		add("last_valid_timestamp", *update.LastValidTimestamp)
	}
	if update.LastOdometerKM != nil {
		add("last_odometer_km", *update.LastOdometerKM)
	}
	if update.LastInputState != nil {
		add("last_input_state", *update.LastInputState)
	}
	if update.LastEventTimestamp != nil {
		add("last_event_timestamp", *update.LastEventTimestamp)
	}
	if update.LastEventStatus != nil {
		add("last_event_status", *update.LastEventStatus)
	}

	args = append(args, accountID, deviceID)
	query := fmt.Sprintf(
		`UPDATE devices SET %s WHERE account_id = $%d AND device_id = $%d`,
		strings.Join(set, ", "), len(args)-1, len(args),
	)

	result, err := s.getDB().ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDevice deletes a device
func (s *PostgresStore) DeleteDevice(ctx context.Context, accountID, deviceID string) error {
	result, err := s.getDB().ExecContext(ctx,
		`DELETE FROM devices WHERE account_id = $1 AND device_id = $2`,
		accountID, deviceID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDevices lists devices for an account with pagination
func (s *PostgresStore) ListDevices(ctx context.Context, accountID string, limit, offset int) ([]*models.Device, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + deviceColumns + ` FROM devices
        WHERE account_id = $1 ORDER BY device_id LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		err := rows.Scan(
			&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.AccountID,
			&device.DeviceID, &device.UniqueID, &device.Description, &device.EquipmentID,
			&device.IsActive, &device.AuthHash, &device.DeviceCode, &device.IPAddressValid,
			&device.IPAddressCurrent, &device.RemotePortCurrent, &device.LastConnectAt,
			&device.LastValidLatitude, &device.LastValidLongitude, &device.LastValidTimestamp,
			&device.LastOdometerKM, &device.LastInputState, &device.LastEventTimestamp,
			&device.LastEventStatus,
		)
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, device)
	}

	return devices, total, rows.Err()
}
