package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/session"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/pkg/status"
)

func dmtpPacket(pktType byte, payload []byte) []byte {
	pkt := []byte{dmtpSyncByte, pktType, byte(len(payload))}
	return append(pkt, payload...)
}

func dmtpEventPayload(ts int64, lat, lon float64, speedKPH, headingDeg float64,
	altM int16, odomKM float64, statusCode int, inputs uint16) []byte {

	p := make([]byte, dmtpEventLen)
	binary.BigEndian.PutUint32(p[0:4], uint32(ts))
	binary.BigEndian.PutUint32(p[4:8], uint32(int32(lat*100000)))
	binary.BigEndian.PutUint32(p[8:12], uint32(int32(lon*100000)))
	binary.BigEndian.PutUint16(p[12:14], uint16(speedKPH*10))
	binary.BigEndian.PutUint16(p[14:16], uint16(headingDeg*10))
	binary.BigEndian.PutUint16(p[16:18], uint16(altM))
	binary.BigEndian.PutUint32(p[18:22], uint32(odomKM*10))
	binary.BigEndian.PutUint16(p[22:24], uint16(statusCode))
	binary.BigEndian.PutUint16(p[24:26], inputs)
	return p
}

func newDMTPHandler(t *testing.T) (session.PacketHandler, *storage.MemoryStore) {
	env, store := newTestEnv(t)
	addDevice(t, store, "unit1", "123451042191239")

	spec := buildDMTP(env, config.ProtocolConfig{})
	assert.Equal(t, session.FrameDynamic, spec.Framing)
	assert.Equal(t, dmtpHeaderLen, spec.MinLength)
	assert.Equal(t, dmtpHeaderLen+dmtpMaxPayload, spec.MaxLength)

	return startHandler(spec), store
}

func identify(t *testing.T, h session.PacketHandler) {
	t.Helper()
	resp, err := h.HandlePacket(dmtpPacket(dmtpTypeIdent, []byte("123451042191239")))
	require.NoError(t, err)
	require.Equal(t, dmtpAck(dmtpTypeIdent), resp)
}

func TestDMTPActualPacketLength(t *testing.T) {
	h, _ := newDMTPHandler(t)

	assert.Equal(t, 3+28, h.GetActualPacketLength([]byte{dmtpSyncByte, dmtpTypeEvent, 28}))
	assert.Equal(t, 3, h.GetActualPacketLength([]byte{dmtpSyncByte, dmtpTypeEOT, 0}))

	// a bad sync byte terminates the session through the framer
	assert.Negative(t, h.GetActualPacketLength([]byte{0x55, 0x00, 0x00}))
}

func TestDMTPSessionFlow(t *testing.T) {
	h, store := newDMTPHandler(t)
	identify(t, h)

	payload := dmtpEventPayload(1310162594, 41.06273, -142.74908,
		45.5, 130.0, 150, 1234.5, status.Location, 0x0003)
	resp, err := h.HandlePacket(dmtpPacket(dmtpTypeEvent, payload))
	require.NoError(t, err)
	assert.Equal(t, dmtpAck(dmtpTypeEvent), resp)
	assert.False(t, h.TerminateSession())

	ev := lastEvent(t, store, "unit1")
	assert.Equal(t, int64(1310162594), ev.Timestamp)
	assert.Equal(t, status.Location, ev.StatusCode)
	assert.InDelta(t, 41.06273, ev.Latitude, 0.0001)
	assert.InDelta(t, -142.74908, ev.Longitude, 0.0001)
	assert.True(t, ev.GPSValid)
	assert.InDelta(t, 45.5, ev.SpeedKPH, 0.01)
	assert.InDelta(t, 130.0, ev.HeadingDeg, 0.01)
	assert.InDelta(t, 150.0, ev.AltitudeM, 0.001)
	assert.InDelta(t, 1234.5, ev.OdometerKM, 0.01)
	require.NotNil(t, ev.InputMask)
	assert.Equal(t, uint32(0x0003), *ev.InputMask)

	resp, err = h.HandlePacket(dmtpPacket(dmtpTypeEOT, nil))
	require.NoError(t, err)
	assert.Equal(t, dmtpAck(dmtpTypeEOT), resp)
	assert.True(t, h.TerminateSession())
}

func TestDMTPEventBeforeIdent(t *testing.T) {
	h, store := newDMTPHandler(t)

	payload := dmtpEventPayload(1310162594, 41.0, -142.0,
		0, 0, 0, 0, status.Location, 0)
	resp, err := h.HandlePacket(dmtpPacket(dmtpTypeEvent, payload))
	require.NoError(t, err)
	assert.Equal(t, dmtpNak(dmtpTypeEvent), resp)
	assert.Zero(t, eventCount(t, store, "unit1"))
}

func TestDMTPUnknownDeviceNak(t *testing.T) {
	h, _ := newDMTPHandler(t)

	resp, err := h.HandlePacket(dmtpPacket(dmtpTypeIdent, []byte("000000000000000")))
	require.NoError(t, err)
	assert.Equal(t, dmtpNak(dmtpTypeIdent), resp)
}

func TestDMTPShortEventPayload(t *testing.T) {
	h, store := newDMTPHandler(t)
	identify(t, h)

	resp, err := h.HandlePacket(dmtpPacket(dmtpTypeEvent, make([]byte, 10)))
	require.NoError(t, err)
	assert.Equal(t, dmtpNak(dmtpTypeEvent), resp)
	assert.Zero(t, eventCount(t, store, "unit1"))
}

func TestDMTPUnknownTypeNak(t *testing.T) {
	h, _ := newDMTPHandler(t)

	resp, err := h.HandlePacket(dmtpPacket(0x77, nil))
	require.NoError(t, err)
	assert.Equal(t, dmtpNak(0x77), resp)
}

func TestDMTPNoClockEvent(t *testing.T) {
	h, store := newDMTPHandler(t)
	identify(t, h)

	// a zero timestamp means the device clock was unset; the server
	// substitutes its own
	payload := dmtpEventPayload(0, 41.0, -142.0, 0, 0, 0, 0, status.Location, 0)
	_, err := h.HandlePacket(dmtpPacket(dmtpTypeEvent, payload))
	require.NoError(t, err)

	ev := lastEvent(t, store, "unit1")
	assert.Positive(t, ev.Timestamp)
}
