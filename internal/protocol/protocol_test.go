package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/session"
	"github.com/track-server/track-server-pro/internal/storage"
)

func newTestEnv(t *testing.T) (*Env, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, &models.Account{
		AccountID: "acme", IsActive: true,
	}))
	return &Env{Ctx: ctx, Store: store}, store
}

func addDevice(t *testing.T, store *storage.MemoryStore, deviceID, uniqueID string) {
	t.Helper()
	device := &models.Device{
		DeviceID: deviceID,
		UniqueID: uniqueID,
		IsActive: true,
	}
	device.AccountID = "acme"
	require.NoError(t, store.CreateDevice(context.Background(), device))
}

func startHandler(spec *session.ListenerSpec) session.PacketHandler {
	h := spec.Factory()
	h.SessionStarted(&net.TCPAddr{IP: net.IPv4(203, 0, 113, 7), Port: 40001}, session.TransportTCP)
	return h
}

func lastEvent(t *testing.T, store *storage.MemoryStore, deviceID string) *models.Event {
	t.Helper()
	ev, err := store.GetLastEvent(context.Background(), "acme", deviceID)
	require.NoError(t, err)
	return ev
}

func eventCount(t *testing.T, store *storage.MemoryStore, deviceID string) int {
	t.Helper()
	events, _, err := store.ListEvents(context.Background(),
		"acme", deviceID, time.Time{}, time.Time{}, 1000, 0)
	require.NoError(t, err)
	return len(events)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"dmtp", "taip", "tk10x"}, Names())
}

func TestBuildSpecs(t *testing.T) {
	env, _ := newTestEnv(t)

	specs, err := BuildSpecs(env, map[string]config.ProtocolConfig{
		"tk10x": {TCPPorts: []int{31272}},
		"taip":  {TCPPorts: []int{31275}},
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "taip", specs[0].Protocol)
	assert.Equal(t, "tk10x", specs[1].Protocol)

	_, err = BuildSpecs(env, map[string]config.ProtocolConfig{
		"bogus": {},
	})
	assert.Error(t, err)
}

func TestRemoteIPPort(t *testing.T) {
	ip, port := remoteIPPort(&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 1234})
	assert.Equal(t, "10.1.2.3", ip)
	assert.Equal(t, 1234, port)

	ip, port = remoteIPPort(&net.UDPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 4321})
	assert.Equal(t, "10.1.2.3", ip)
	assert.Equal(t, 4321, port)

	ip, port = remoteIPPort(nil)
	assert.Empty(t, ip)
	assert.Zero(t, port)
}
