package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/track-server/track-server-pro/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface. All methods must be safe for
// concurrent use from unrelated device sessions.
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Account methods
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, accountID string) error
	ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, int64, error)

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, accountID, deviceID string) (*models.Device, error)
	GetDeviceByUniqueID(ctx context.Context, uniqueID string) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	UpdateDeviceLastState(ctx context.Context, accountID, deviceID string, update *models.LastStateUpdate) error
	DeleteDevice(ctx context.Context, accountID, deviceID string) error
	ListDevices(ctx context.Context, accountID string, limit, offset int) ([]*models.Device, int64, error)

	// Event methods
	UpsertEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, accountID, deviceID string, timestamp int64, statusCode int) (*models.Event, error)
	ListEvents(ctx context.Context, accountID, deviceID string, from, to time.Time, limit, offset int) ([]*models.Event, int64, error)
	GetLastEvent(ctx context.Context, accountID, deviceID string) (*models.Event, error)
	DeleteOldEvents(ctx context.Context, before time.Time) (int64, error)

	// Geozone methods
	CreateGeozone(ctx context.Context, zone *models.Geozone) error
	GetGeozone(ctx context.Context, accountID, geozoneID string) (*models.Geozone, error)
	UpdateGeozone(ctx context.Context, zone *models.Geozone) error
	DeleteGeozone(ctx context.Context, accountID, geozoneID string) error
	ListGeozones(ctx context.Context, accountID string) ([]*models.Geozone, error)

	// Service account methods
	CreateServiceAccount(ctx context.Context, sa *models.ServiceAccount) error
	GetServiceAccount(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error)
	GetServiceAccountByEmail(ctx context.Context, email string) (*models.ServiceAccount, error)
	UpdateServiceAccount(ctx context.Context, sa *models.ServiceAccount) error

	// Close
	Close() error
}
