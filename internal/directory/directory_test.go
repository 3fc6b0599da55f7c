package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
)

func seedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, &models.Account{
		AccountID: "acme", IsActive: true,
	}))

	truck := &models.Device{
		DeviceID: "truck1",
		UniqueID: "imei_123451042191239",
		IsActive: true,
	}
	truck.AccountID = "acme"
	require.NoError(t, store.CreateDevice(ctx, truck))

	bare := &models.Device{
		DeviceID: "van2",
		UniqueID: "987654321098765",
		IsActive: true,
	}
	bare.AccountID = "acme"
	require.NoError(t, store.CreateDevice(ctx, bare))

	retired := &models.Device{
		DeviceID: "old3",
		UniqueID: "imei_555555555555555",
		IsActive: false,
	}
	retired.AccountID = "acme"
	require.NoError(t, store.CreateDevice(ctx, retired))

	return store
}

func TestByUniqueIDPrefixOrder(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	r := NewResolver(store, []string{"imei_", "*"}, "test")

	dev, err := r.ByUniqueID(ctx, "123451042191239")
	require.NoError(t, err)
	assert.Equal(t, "truck1", dev.Device.DeviceID)

	// falls through the prefixed lookup to the bare token
	dev, err = r.ByUniqueID(ctx, "987654321098765")
	require.NoError(t, err)
	assert.Equal(t, "van2", dev.Device.DeviceID)

	_, err = r.ByUniqueID(ctx, "000000000000000")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	_, err = r.ByUniqueID(ctx, "")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestByUniqueIDDefaultsToBare(t *testing.T) {
	store := seedStore(t)

	r := NewResolver(store, nil, "test")
	dev, err := r.ByUniqueID(context.Background(), "987654321098765")
	require.NoError(t, err)
	assert.Equal(t, "van2", dev.Device.DeviceID)
}

func TestByUniqueIDInactiveRejected(t *testing.T) {
	store := seedStore(t)

	r := NewResolver(store, []string{"imei_"}, "test")
	_, err := r.ByUniqueID(context.Background(), "555555555555555")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestByAccountDevice(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	r := NewResolver(store, nil, "test")

	dev, err := r.ByAccountDevice(ctx, "acme", "truck1")
	require.NoError(t, err)
	assert.Equal(t, "truck1", dev.Device.DeviceID)

	_, err = r.ByAccountDevice(ctx, "acme", "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	_, err = r.ByAccountDevice(ctx, "acme", "old3")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestCheckSourceIP(t *testing.T) {
	dev := &Resolved{Device: &models.Device{}}

	// no allow list means everything passes
	assert.NoError(t, dev.CheckSourceIP("203.0.113.7"))

	dev.Device.IPAddressValid = "203.0.113.7, 10.0.0.0/8"
	assert.NoError(t, dev.CheckSourceIP("203.0.113.7"))
	assert.NoError(t, dev.CheckSourceIP("10.42.1.9"))
	assert.ErrorIs(t, dev.CheckSourceIP("192.0.2.1"), ErrIPRejected)

	// unknown source address passes (proxied setups)
	assert.NoError(t, dev.CheckSourceIP(""))
}

func TestNoteConnectionAndCommit(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	r := NewResolver(store, []string{"imei_"}, "tk10x")
	dev, err := r.ByUniqueID(ctx, "123451042191239")
	require.NoError(t, err)

	dev.NoteConnection("203.0.113.7", 31272, "tk10x")
	require.NoError(t, dev.Commit(ctx, store))

	stored, err := store.GetDevice(ctx, "acme", "truck1")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", stored.IPAddressCurrent)
	assert.Equal(t, 31272, stored.RemotePortCurrent)
	assert.Equal(t, "tk10x", stored.DeviceCode)
	assert.NotNil(t, stored.LastConnectAt)

	// the pending update resets after the flush
	assert.True(t, dev.Pending().IsEmpty())
	assert.NoError(t, dev.Commit(ctx, store))
}
