package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/track-server/track-server-pro/internal/models"
)

// ========== Geozone Methods ==========

const geozoneColumns = `
    id, created_at, updated_at, account_id, geozone_id, description,
    center_latitude, center_longitude, radius_meters,
    arrival_zone, departure_zone, is_active`

// CreateGeozone creates a new geozone
func (s *PostgresStore) CreateGeozone(ctx context.Context, zone *models.Geozone) error {
	if zone.ID == uuid.Nil {
		zone.ID = uuid.New()
	}

	now := time.Now()
	zone.CreatedAt = now
	zone.UpdatedAt = now

	query := `
        INSERT INTO geozones (` + geozoneColumns + `
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.getDB().ExecContext(ctx, query,
		zone.ID, zone.CreatedAt, zone.UpdatedAt, zone.AccountID,
		zone.GeozoneID, zone.Description, zone.CenterLatitude,
		zone.CenterLongitude, zone.RadiusMeters, zone.ArrivalZone,
		zone.DepartureZone, zone.IsActive,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetGeozone gets a geozone by account and zone ID
func (s *PostgresStore) GetGeozone(ctx context.Context, accountID, geozoneID string) (*models.Geozone, error) {
	query := `SELECT ` + geozoneColumns + ` FROM geozones
        WHERE account_id = $1 AND geozone_id = $2`

	zone := &models.Geozone{}
	err := s.getDB().QueryRowContext(ctx, query, accountID, geozoneID).Scan(
		&zone.ID, &zone.CreatedAt, &zone.UpdatedAt, &zone.AccountID,
		&zone.GeozoneID, &zone.Description, &zone.CenterLatitude,
		&zone.CenterLongitude, &zone.RadiusMeters, &zone.ArrivalZone,
		&zone.DepartureZone, &zone.IsActive,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return zone, nil
}

// UpdateGeozone updates a geozone
func (s *PostgresStore) UpdateGeozone(ctx context.Context, zone *models.Geozone) error {
	zone.UpdatedAt = time.Now()

	query := `
        UPDATE geozones SET
            updated_at = $1, description = $2, center_latitude = $3,
            center_longitude = $4, radius_meters = $5, arrival_zone = $6,
            departure_zone = $7, is_active = $8
        WHERE account_id = $9 AND geozone_id = $10`

	result, err := s.getDB().ExecContext(ctx, query,
		zone.UpdatedAt, zone.Description, zone.CenterLatitude,
		zone.CenterLongitude, zone.RadiusMeters, zone.ArrivalZone,
		zone.DepartureZone, zone.IsActive, zone.AccountID, zone.GeozoneID,
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

// DeleteGeozone deletes a geozone
func (s *PostgresStore) DeleteGeozone(ctx context.Context, accountID, geozoneID string) error {
	result, err := s.getDB().ExecContext(ctx,
		`DELETE FROM geozones WHERE account_id = $1 AND geozone_id = $2`,
		accountID, geozoneID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListGeozones lists all active geozones for an account
func (s *PostgresStore) ListGeozones(ctx context.Context, accountID string) ([]*models.Geozone, error) {
	query := `SELECT ` + geozoneColumns + ` FROM geozones
        WHERE account_id = $1 AND is_active = true ORDER BY geozone_id`

	rows, err := s.getDB().QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []*models.Geozone
	for rows.Next() {
		zone := &models.Geozone{}
		err := rows.Scan(
			&zone.ID, &zone.CreatedAt, &zone.UpdatedAt, &zone.AccountID,
			&zone.GeozoneID, &zone.Description, &zone.CenterLatitude,
			&zone.CenterLongitude, &zone.RadiusMeters, &zone.ArrivalZone,
			&zone.DepartureZone, &zone.IsActive,
		)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}

	return zones, rows.Err()
}
