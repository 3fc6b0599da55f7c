package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/track-server/track-server-pro/internal/models"
)

// ========== Event Methods ==========

const eventColumns = `
    id, created_at, account_id, device_id, timestamp, status_code,
    latitude, longitude, gps_valid, speed_kph, heading_deg, altitude_m,
    odometer_km, input_mask, satellites, hdop, gps_age_sec, geozone_id, raw_data`

// UpsertEvent writes an event. The key (account_id, device_id, timestamp,
// status_code) is unique; a repeat key overwrites the previous row
// (last-write-wins) instead of creating a duplicate.
func (s *PostgresStore) UpsertEvent(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO events (` + eventColumns + `
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
            $11, $12, $13, $14, $15, $16, $17, $18, $19
        )
        ON CONFLICT (account_id, device_id, timestamp, status_code) DO UPDATE SET
            created_at = EXCLUDED.created_at,
            latitude = EXCLUDED.latitude,
            longitude = EXCLUDED.longitude,
            gps_valid = EXCLUDED.gps_valid,
            speed_kph = EXCLUDED.speed_kph,
            heading_deg = EXCLUDED.heading_deg,
            altitude_m = EXCLUDED.altitude_m,
            odometer_km = EXCLUDED.odometer_km,
            input_mask = EXCLUDED.input_mask,
            satellites = EXCLUDED.satellites,
            hdop = EXCLUDED.hdop,
            gps_age_sec = EXCLUDED.gps_age_sec,
            geozone_id = EXCLUDED.geozone_id,
            raw_data = EXCLUDED.raw_data`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.AccountID, event.DeviceID,
		event.Timestamp, event.StatusCode, event.Latitude, event.Longitude,
		event.GPSValid, event.SpeedKPH, event.HeadingDeg, event.AltitudeM,
		event.OdometerKM, event.InputMask, event.Satellites, event.HDOP,
		event.GPSAgeSec, event.GeozoneID, event.RawData,
	)

	return err
}

func scanEvent(scan func(dest ...interface{}) error) (*models.Event, error) {
	event := &models.Event{}
	err := scan(
		&event.ID, &event.CreatedAt, &event.AccountID, &event.DeviceID,
		&event.Timestamp, &event.StatusCode, &event.Latitude, &event.Longitude,
		&event.GPSValid, &event.SpeedKPH, &event.HeadingDeg, &event.AltitudeM,
		&event.OdometerKM, &event.InputMask, &event.Satellites, &event.HDOP,
		&event.GPSAgeSec, &event.GeozoneID, &event.RawData,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return event, nil
}

// GetEvent gets an event by its natural key
func (s *PostgresStore) GetEvent(ctx context.Context, accountID, deviceID string, timestamp int64, statusCode int) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
        WHERE account_id = $1 AND device_id = $2 AND timestamp = $3 AND status_code = $4`

	row := s.getDB().QueryRowContext(ctx, query, accountID, deviceID, timestamp, statusCode)
	return scanEvent(row.Scan)
}

// ListEvents lists events for a device in a time range
func (s *PostgresStore) ListEvents(ctx context.Context, accountID, deviceID string, from, to time.Time, limit, offset int) ([]*models.Event, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events
         WHERE account_id = $1 AND device_id = $2 AND timestamp >= $3 AND timestamp <= $4`,
		accountID, deviceID, from.Unix(), to.Unix()).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + eventColumns + ` FROM events
        WHERE account_id = $1 AND device_id = $2 AND timestamp >= $3 AND timestamp <= $4
        ORDER BY timestamp ASC, status_code ASC LIMIT $5 OFFSET $6`

	rows, err := s.getDB().QueryContext(ctx, query,
		accountID, deviceID, from.Unix(), to.Unix(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, total, rows.Err()
}

// GetLastEvent returns the most recent event for a device
func (s *PostgresStore) GetLastEvent(ctx context.Context, accountID, deviceID string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
        WHERE account_id = $1 AND device_id = $2
        ORDER BY timestamp DESC, status_code DESC LIMIT 1`

	row := s.getDB().QueryRowContext(ctx, query, accountID, deviceID)
	return scanEvent(row.Scan)
}

// DeleteOldEvents removes events older than the given time
func (s *PostgresStore) DeleteOldEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.getDB().ExecContext(ctx,
		`DELETE FROM events WHERE timestamp < $1`, before.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
