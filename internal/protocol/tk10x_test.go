package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/session"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/pkg/status"
)

func newTK10XHandler(t *testing.T) (session.PacketHandler, *storage.MemoryStore) {
	env, store := newTestEnv(t)
	addDevice(t, store, "truck1", "imei_123451042191239")

	spec := buildTK10X(env, config.ProtocolConfig{
		MinimumSpeedKPH:  4.0,
		UniqueIDPrefixes: []string{"imei_"},
		StatusCodes: map[string]int{
			"tracker":     status.Location,
			"help me":     status.PanicOn,
			"low battery": status.BatteryLow,
		},
	})
	assert.Equal(t, session.FrameTerminator, spec.Framing)
	assert.Equal(t, []byte{';', '\r', '\n', 0x00}, spec.Terminators)

	return startHandler(spec), store
}

func TestTK10XHandshake(t *testing.T) {
	h, _ := newTK10XHandler(t)

	resp, err := h.HandlePacket([]byte("##,imei:123451042191239,A"))
	require.NoError(t, err)
	assert.Equal(t, "LOAD", string(resp))
	assert.False(t, h.TerminateSession())
}

func TestTK10XHeartbeat(t *testing.T) {
	h, _ := newTK10XHandler(t)

	resp, err := h.HandlePacket([]byte("123451042191239"))
	require.NoError(t, err)
	assert.Equal(t, "ON", string(resp))
}

func TestTK10XLocationRecord(t *testing.T) {
	h, store := newTK10XHandler(t)

	record := "imei:123451042191239,tracker,1107090553,13554900601,F,215314.000," +
		"A,4103.7641,N,14244.9450,W,0.08,"
	resp, err := h.HandlePacket([]byte(record))
	require.NoError(t, err)
	assert.Nil(t, resp)

	ev := lastEvent(t, store, "truck1")
	assert.Equal(t, status.Location, ev.StatusCode)

	// local 2011/07/09 05:53 with a GMT fix time of 21:53:14 lands on the
	// previous calendar day
	want := time.Date(2011, 7, 8, 21, 53, 14, 0, time.UTC).Unix()
	assert.Equal(t, want, ev.Timestamp)

	assert.InDelta(t, 41.0627, ev.Latitude, 0.001)
	assert.InDelta(t, -142.7491, ev.Longitude, 0.001)
	assert.True(t, ev.GPSValid)

	// 0.08 knots is below the 4 km/h floor
	assert.Zero(t, ev.SpeedKPH)
	assert.Zero(t, ev.HeadingDeg)
	assert.Equal(t, record, ev.RawData)
}

func TestTK10XEmergencyRecord(t *testing.T) {
	h, store := newTK10XHandler(t)

	record := "imei:123451042191239,help me,1107090553,13554900601,F,215314.000," +
		"A,4103.7641,N,14244.9450,W,12.5,"
	_, err := h.HandlePacket([]byte(record))
	require.NoError(t, err)

	ev := lastEvent(t, store, "truck1")
	assert.Equal(t, status.PanicOn, ev.StatusCode)
	assert.InDelta(t, 12.5*1.852, ev.SpeedKPH, 0.01)
}

func TestTK10XInvalidFix(t *testing.T) {
	h, store := newTK10XHandler(t)

	// "V" instead of "A": no GPS lock
	record := "imei:123451042191239,tracker,1107090553,13554900601,F,215314.000," +
		"V,4103.7641,N,14244.9450,W,0.00,"
	_, err := h.HandlePacket([]byte(record))
	require.NoError(t, err)

	ev := lastEvent(t, store, "truck1")
	assert.False(t, ev.GPSValid)
	assert.Zero(t, ev.Latitude)
	assert.Zero(t, ev.Longitude)
}

func TestTK10XUnknownDeviceDropped(t *testing.T) {
	h, store := newTK10XHandler(t)

	record := "imei:000000000000000,tracker,1107090553,13554900601,F,215314.000," +
		"A,4103.7641,N,14244.9450,W,0.08,"
	resp, err := h.HandlePacket([]byte(record))
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Zero(t, eventCount(t, store, "truck1"))
}

func TestTK10XIPAllowList(t *testing.T) {
	env, store := newTestEnv(t)
	addDevice(t, store, "truck1", "imei_123451042191239")

	dev, err := store.GetDevice(env.Ctx, "acme", "truck1")
	require.NoError(t, err)
	dev.IPAddressValid = "10.0.0.0/8"
	require.NoError(t, store.UpdateDevice(env.Ctx, dev))

	spec := buildTK10X(env, config.ProtocolConfig{UniqueIDPrefixes: []string{"imei_"}})
	h := startHandler(spec) // remote is 203.0.113.7

	record := "imei:123451042191239,tracker,1107090553,13554900601,F,215314.000," +
		"A,4103.7641,N,14244.9450,W,0.08,"
	_, err = h.HandlePacket([]byte(record))
	require.NoError(t, err)
	assert.Zero(t, eventCount(t, store, "truck1"))
}

func TestTK10XConnectionBookkeeping(t *testing.T) {
	h, store := newTK10XHandler(t)

	record := "imei:123451042191239,tracker,1107090553,13554900601,F,215314.000," +
		"A,4103.7641,N,14244.9450,W,0.08,"
	_, err := h.HandlePacket([]byte(record))
	require.NoError(t, err)

	dev, err := store.GetDevice(context.Background(), "acme", "truck1")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", dev.IPAddressCurrent)
	assert.Equal(t, 40001, dev.RemotePortCurrent)
	assert.Equal(t, "tk10x", dev.DeviceCode)
}

func TestTK10XIgnoresJunk(t *testing.T) {
	h, store := newTK10XHandler(t)

	resp, err := h.HandlePacket([]byte("random garbage"))
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = h.HandlePacket([]byte(""))
	require.NoError(t, err)
	assert.Nil(t, resp)

	assert.Zero(t, eventCount(t, store, "truck1"))
}
