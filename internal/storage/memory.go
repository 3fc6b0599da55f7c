package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/track-server/track-server-pro/internal/models"
)

// MemoryStore is an in-memory Store used by tests and by deployments that
// have no database, such as demos. Transactions are no-ops; every write is
// applied immediately.
type MemoryStore struct {
	mu sync.RWMutex

	accounts        map[string]*models.Account
	devices         map[string]*models.Device  // account/device
	events          map[string]*models.Event   // account/device/ts/code
	geozones        map[string]*models.Geozone // account/geozone
	serviceAccounts map[uuid.UUID]*models.ServiceAccount
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:        make(map[string]*models.Account),
		devices:         make(map[string]*models.Device),
		events:          make(map[string]*models.Event),
		geozones:        make(map[string]*models.Geozone),
		serviceAccounts: make(map[uuid.UUID]*models.ServiceAccount),
	}
}

func deviceKey(accountID, deviceID string) string {
	return accountID + "/" + deviceID
}

func eventKey(e *models.Event) string {
	return fmt.Sprintf("%s/%s/%d/%d", e.AccountID, e.DeviceID, e.Timestamp, e.StatusCode)
}

// ========== Transaction Methods ==========

func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }
func (s *MemoryStore) Commit() error                              { return nil }
func (s *MemoryStore) Rollback() error                            { return nil }

// ========== Account Methods ==========

func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.AccountID]; ok {
		return ErrDuplicateKey
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	cp := *account
	s.accounts[account.AccountID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *account
	return &cp, nil
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.AccountID]; !ok {
		return ErrNotFound
	}
	account.UpdatedAt = time.Now()
	cp := *account
	s.accounts[account.AccountID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return ErrNotFound
	}
	delete(s.accounts, accountID)
	return nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*models.Account
	for i, id := range ids {
		if i < offset {
			continue
		}
		if len(out) >= limit {
			break
		}
		cp := *s.accounts[id]
		out = append(out, &cp)
	}
	return out, int64(len(ids)), nil
}

// ========== Device Methods ==========

func (s *MemoryStore) CreateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deviceKey(device.AccountID, device.DeviceID)
	if _, ok := s.devices[key]; ok {
		return ErrDuplicateKey
	}
	for _, d := range s.devices {
		if d.UniqueID != "" && d.UniqueID == device.UniqueID {
			return ErrDuplicateKey
		}
	}
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	cp := *device
	s.devices[key] = &cp
	return nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, accountID, deviceID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceKey(accountID, deviceID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *device
	return &cp, nil
}

func (s *MemoryStore) GetDeviceByUniqueID(ctx context.Context, uniqueID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, device := range s.devices {
		if device.UniqueID == uniqueID {
			cp := *device
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deviceKey(device.AccountID, device.DeviceID)
	if _, ok := s.devices[key]; !ok {
		return ErrNotFound
	}
	device.UpdatedAt = time.Now()
	cp := *device
	s.devices[key] = &cp
	return nil
}

func (s *MemoryStore) UpdateDeviceLastState(ctx context.Context, accountID, deviceID string, update *models.LastStateUpdate) error {
	if update == nil || update.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceKey(accountID, deviceID)]
	if !ok {
		return ErrNotFound
	}

	if update.IPAddressCurrent != nil {
		device.IPAddressCurrent = *update.IPAddressCurrent
	}
	if update.RemotePortCurrent != nil {
		device.RemotePortCurrent = *update.RemotePortCurrent
	}
	if update.LastConnectAt != nil {
		device.LastConnectAt = update.LastConnectAt
	}
	if update.DeviceCode != nil {
		device.DeviceCode = *update.DeviceCode
	}
	if update.LastValidLatitude != nil {
		device.LastValidLatitude = *update.LastValidLatitude
	}
	if update.LastValidLongitude != nil {
		device.LastValidLongitude = *update.LastValidLongitude
	}
	if update.LastValidTimestamp != nil {
		device.LastValidTimestamp = *update.LastValidTimestamp
	}
	if update.LastOdometerKM != nil {
		device.LastOdometerKM = *update.LastOdometerKM
	}
	if update.LastInputState != nil {
		device.LastInputState = *update.LastInputState
	}
	if update.LastEventTimestamp != nil {
		device.LastEventTimestamp = *update.LastEventTimestamp
	}
	if update.LastEventStatus != nil {
		device.LastEventStatus = *update.LastEventStatus
	}
	device.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, accountID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deviceKey(accountID, deviceID)
	if _, ok := s.devices[key]; !ok {
		return ErrNotFound
	}
	delete(s.devices, key)
	return nil
}

func (s *MemoryStore) ListDevices(ctx context.Context, accountID string, limit, offset int) ([]*models.Device, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, d := range s.devices {
		if d.AccountID == accountID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []*models.Device
	for i, key := range keys {
		if i < offset {
			continue
		}
		if len(out) >= limit {
			break
		}
		cp := *s.devices[key]
		out = append(out, &cp)
	}
	return out, int64(len(keys)), nil
}

// ========== Event Methods ==========

func (s *MemoryStore) UpsertEvent(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(event)
	if existing, ok := s.events[key]; ok {
		event.ID = existing.ID
		event.CreatedAt = existing.CreatedAt
	} else {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		event.CreatedAt = time.Now()
	}
	cp := *event
	s.events[key] = &cp
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, accountID, deviceID string, timestamp int64, statusCode int) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := fmt.Sprintf("%s/%s/%d/%d", accountID, deviceID, timestamp, statusCode)
	event, ok := s.events[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *event
	return &cp, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, accountID, deviceID string, from, to time.Time, limit, offset int) ([]*models.Event, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Event
	for _, e := range s.events {
		if e.AccountID != accountID || e.DeviceID != deviceID {
			continue
		}
		if !from.IsZero() && e.Timestamp < from.Unix() {
			continue
		}
		if !to.IsZero() && e.Timestamp > to.Unix() {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp != matched[j].Timestamp {
			return matched[i].Timestamp < matched[j].Timestamp
		}
		return matched[i].StatusCode < matched[j].StatusCode
	})

	total := int64(len(matched))
	var out []*models.Event
	for i, e := range matched {
		if i < offset {
			continue
		}
		if len(out) >= limit {
			break
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, total, nil
}

func (s *MemoryStore) GetLastEvent(ctx context.Context, accountID, deviceID string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *models.Event
	for _, e := range s.events {
		if e.AccountID != accountID || e.DeviceID != deviceID {
			continue
		}
		if last == nil || e.Timestamp > last.Timestamp {
			last = e
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (s *MemoryStore) DeleteOldEvents(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, e := range s.events {
		if e.Timestamp < before.Unix() {
			delete(s.events, key)
			deleted++
		}
	}
	return deleted, nil
}

// ========== Geozone Methods ==========

func (s *MemoryStore) CreateGeozone(ctx context.Context, zone *models.Geozone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := zone.AccountID + "/" + zone.GeozoneID
	if _, ok := s.geozones[key]; ok {
		return ErrDuplicateKey
	}
	if zone.ID == uuid.Nil {
		zone.ID = uuid.New()
	}
	now := time.Now()
	zone.CreatedAt = now
	zone.UpdatedAt = now

	cp := *zone
	s.geozones[key] = &cp
	return nil
}

func (s *MemoryStore) GetGeozone(ctx context.Context, accountID, geozoneID string) (*models.Geozone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zone, ok := s.geozones[accountID+"/"+geozoneID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *zone
	return &cp, nil
}

func (s *MemoryStore) UpdateGeozone(ctx context.Context, zone *models.Geozone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := zone.AccountID + "/" + zone.GeozoneID
	if _, ok := s.geozones[key]; !ok {
		return ErrNotFound
	}
	zone.UpdatedAt = time.Now()
	cp := *zone
	s.geozones[key] = &cp
	return nil
}

func (s *MemoryStore) DeleteGeozone(ctx context.Context, accountID, geozoneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountID + "/" + geozoneID
	if _, ok := s.geozones[key]; !ok {
		return ErrNotFound
	}
	delete(s.geozones, key)
	return nil
}

func (s *MemoryStore) ListGeozones(ctx context.Context, accountID string) ([]*models.Geozone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.geozones {
		if strings.HasPrefix(key, accountID+"/") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]*models.Geozone, 0, len(keys))
	for _, key := range keys {
		cp := *s.geozones[key]
		out = append(out, &cp)
	}
	return out, nil
}

// ========== Service Account Methods ==========

func (s *MemoryStore) CreateServiceAccount(ctx context.Context, sa *models.ServiceAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.serviceAccounts {
		if existing.Email == sa.Email {
			return ErrDuplicateKey
		}
	}
	if sa.ID == uuid.Nil {
		sa.ID = uuid.New()
	}
	now := time.Now()
	sa.CreatedAt = now
	sa.UpdatedAt = now

	cp := *sa
	s.serviceAccounts[sa.ID] = &cp
	return nil
}

func (s *MemoryStore) GetServiceAccount(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sa, ok := s.serviceAccounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sa
	return &cp, nil
}

func (s *MemoryStore) GetServiceAccountByEmail(ctx context.Context, email string) (*models.ServiceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sa := range s.serviceAccounts {
		if sa.Email == email {
			cp := *sa
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateServiceAccount(ctx context.Context, sa *models.ServiceAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.serviceAccounts[sa.ID]; !ok {
		return ErrNotFound
	}
	sa.UpdatedAt = time.Now()
	cp := *sa
	s.serviceAccounts[sa.ID] = &cp
	return nil
}

// Close releases nothing; it exists to satisfy Store
func (s *MemoryStore) Close() error { return nil }
