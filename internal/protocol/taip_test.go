package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/session"
	"github.com/track-server/track-server-pro/internal/storage"
)

// taipReport assembles an RPV body from its fixed-offset pieces
func taipReport(tod, lat, lon, speed, heading, sourceAge string) string {
	return ">RPV" + tod + lat + lon + speed + heading + sourceAge + ";ID=1234;*7F"
}

func newTAIPHandler(t *testing.T) (session.PacketHandler, *storage.MemoryStore) {
	env, store := newTestEnv(t)
	addDevice(t, store, "van1", "taip_1234")

	spec := buildTAIP(env, config.ProtocolConfig{
		UniqueIDPrefixes: []string{"taip_"},
	})
	assert.Equal(t, session.FrameTerminator, spec.Framing)
	assert.Equal(t, []byte{'<', '\r', '\n'}, spec.Terminators)

	return startHandler(spec), store
}

func TestTAIPPositionReport(t *testing.T) {
	h, store := newTAIPHandler(t)

	resp, err := h.HandlePacket([]byte(taipReport(
		"15714", "+3739438", "-12203846", "015", "126", "22")))
	require.NoError(t, err)
	assert.Nil(t, resp)

	ev := lastEvent(t, store, "van1")
	assert.InDelta(t, 37.39438, ev.Latitude, 0.00001)
	assert.InDelta(t, -122.03846, ev.Longitude, 0.00001)
	assert.True(t, ev.GPSValid)
	assert.InDelta(t, 15*1.609344, ev.SpeedKPH, 0.01)
	assert.InDelta(t, 126.0, ev.HeadingDeg, 0.001)

	// the date is inferred, but the time of day comes off the wire
	assert.Equal(t, int64(15714), ev.Timestamp%86400)
}

func TestTAIPStaleFix(t *testing.T) {
	h, store := newTAIPHandler(t)

	// fix age digit other than 2 marks the position as stale
	_, err := h.HandlePacket([]byte(taipReport(
		"15714", "+3739438", "-12203846", "015", "126", "21")))
	require.NoError(t, err)

	ev := lastEvent(t, store, "van1")
	assert.False(t, ev.GPSValid)
	assert.Zero(t, ev.Latitude)
	assert.Zero(t, ev.Longitude)
}

func TestTAIPRejectsMalformed(t *testing.T) {
	h, store := newTAIPHandler(t)

	cases := [][]byte{
		[]byte(">RPV123;ID=1234"),                // body too short
		[]byte(taipReport("99999", "+3739438", "-12203846", "015", "126", "22")), // bad TOD
		[]byte(">RPV15714+3739438-12203846015126212"),                            // missing ID
		[]byte(">RLN1234567890;ID=1234"),                                         // non-RPV message
		[]byte(""),
	}
	for _, pkt := range cases {
		resp, err := h.HandlePacket(pkt)
		require.NoError(t, err)
		assert.Nil(t, resp)
	}
	assert.Zero(t, eventCount(t, store, "van1"))
}

func TestTAIPUnknownDevice(t *testing.T) {
	h, store := newTAIPHandler(t)

	_, err := h.HandlePacket([]byte(
		">RPV15714+3739438-12203846015126212;ID=9999"))
	require.NoError(t, err)
	assert.Zero(t, eventCount(t, store, "van1"))
}
