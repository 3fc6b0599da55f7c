package protocol

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/directory"
	"github.com/track-server/track-server-pro/internal/normalize"
	"github.com/track-server/track-server-pro/internal/session"
)

const dmtpProtocol = "dmtp"

// Wire constants. A packet is a 3-byte header (sync byte, packet type,
// payload length) followed by the payload.
const (
	dmtpSyncByte   = 0xE0
	dmtpHeaderLen  = 3
	dmtpMaxPayload = 255

	dmtpTypeIdent = 0x11 // payload: ASCII modem ID
	dmtpTypeEvent = 0x1D // payload: fixed 28-byte event record
	dmtpTypeEOT   = 0x22 // end of transmission, no payload

	dmtpEventLen = 28

	dmtpAckType  = 0xA0
	dmtpNakType  = 0xA1
	dmtpBadFrame = -3 // GetActualPacketLength result for a bad sync byte
)

func buildDMTP(env *Env, cfg config.ProtocolConfig) *session.ListenerSpec {
	spec := baseSpec(dmtpProtocol, cfg)
	spec.Framing = session.FrameDynamic
	spec.MinLength = dmtpHeaderLen
	spec.MaxLength = cfg.MaxPacketLength
	if spec.MaxLength <= 0 {
		spec.MaxLength = dmtpHeaderLen + dmtpMaxPayload
	}

	resolver := newResolver(env, cfg, dmtpProtocol)
	norm := newNormalizer(env, cfg, false)
	spec.Factory = func() session.PacketHandler {
		return &dmtpHandler{env: env, resolver: resolver, norm: norm}
	}
	return spec
}

// dmtpHandler decodes a compact length-prefixed binary protocol. Devices
// open with an identification packet carrying their modem ID, then stream
// event records and close with an end-of-transmission packet. All
// multi-byte fields are big-endian.
//
// Event payload layout:
//
//	[0:4)   uint32  timestamp, UTC seconds (0 = device clock unset)
//	[4:8)   int32   latitude, 1e-5 degrees
//	[8:12)  int32   longitude, 1e-5 degrees
//	[12:14) uint16  speed, 0.1 km/h
//	[14:16) uint16  heading, 0.1 degrees
//	[16:18) int16   altitude, meters
//	[18:22) uint32  odometer, 0.1 km
//	[22:24) uint16  status code
//	[24:26) uint16  digital input mask
//	[26:28) uint16  reserved
type dmtpHandler struct {
	env      *Env
	resolver *directory.Resolver
	norm     *normalize.Normalizer

	remote    net.Addr
	transport session.Transport
	resolved  *directory.Resolved
	done      bool
}

func (h *dmtpHandler) SessionStarted(remote net.Addr, transport session.Transport) []byte {
	h.remote = remote
	h.transport = transport
	return nil
}

func (h *dmtpHandler) GetMinimumPacketLength() int { return dmtpHeaderLen }
func (h *dmtpHandler) GetMaximumPacketLength() int { return dmtpHeaderLen + dmtpMaxPayload }

func (h *dmtpHandler) GetActualPacketLength(prefix []byte) int {
	if prefix[0] != dmtpSyncByte {
		return dmtpBadFrame
	}
	return dmtpHeaderLen + int(prefix[2])
}

func (h *dmtpHandler) TerminateSession() bool { return h.done }

func (h *dmtpHandler) GetFinalPacket(hadError bool) []byte { return nil }

func (h *dmtpHandler) HandlePacket(packet []byte) ([]byte, error) {
	if len(packet) < dmtpHeaderLen || packet[0] != dmtpSyncByte {
		return nil, fmt.Errorf("malformed dmtp packet (%d bytes)", len(packet))
	}
	pktType := packet[1]
	payload := packet[dmtpHeaderLen:]

	switch pktType {
	case dmtpTypeIdent:
		if h.identify(string(payload)) {
			return dmtpAck(pktType), nil
		}
		return dmtpNak(pktType), nil

	case dmtpTypeEvent:
		if err := h.handleEvent(payload, packet); err != nil {
			log.Warn().Err(err).
				Str("protocol", dmtpProtocol).
				Msg("Discarding event record")
			return dmtpNak(pktType), nil
		}
		return dmtpAck(pktType), nil

	case dmtpTypeEOT:
		h.done = true
		return dmtpAck(pktType), nil
	}

	log.Debug().
		Str("protocol", dmtpProtocol).
		Uint8("type", pktType).
		Msg("Ignoring unknown packet type")
	return dmtpNak(pktType), nil
}

func (h *dmtpHandler) identify(token string) bool {
	dev, err := h.resolver.ByUniqueID(h.env.Ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("protocol", dmtpProtocol).Str("id", token).
			Msg("Device lookup failed")
		return false
	}

	ip, port := remoteIPPort(h.remote)
	if err := dev.CheckSourceIP(ip); err != nil {
		return false
	}
	dev.NoteConnection(ip, port, dmtpProtocol)

	h.resolved = dev
	return true
}

func (h *dmtpHandler) handleEvent(payload, raw []byte) error {
	if h.resolved == nil {
		return fmt.Errorf("event before identification")
	}
	if len(payload) < dmtpEventLen {
		return fmt.Errorf("event payload %d bytes, want %d", len(payload), dmtpEventLen)
	}

	statusRaw := int(binary.BigEndian.Uint16(payload[22:24]))
	inputMask := uint32(binary.BigEndian.Uint16(payload[24:26]))

	lat := float64(int32(binary.BigEndian.Uint32(payload[4:8]))) / 100000.0
	lon := float64(int32(binary.BigEndian.Uint32(payload[8:12]))) / 100000.0

	draft := &normalize.Draft{
		Timestamp:  int64(binary.BigEndian.Uint32(payload[0:4])),
		StatusCode: &statusRaw,
		Latitude:   lat,
		Longitude:  lon,
		GPSValid:   lat != 0 || lon != 0,
		SpeedKPH:   float64(binary.BigEndian.Uint16(payload[12:14])) / 10.0,
		HeadingDeg: float64(binary.BigEndian.Uint16(payload[14:16])) / 10.0,
		AltitudeM:  float64(int16(binary.BigEndian.Uint16(payload[16:18]))),
		OdometerKM: float64(binary.BigEndian.Uint32(payload[18:22])) / 10.0,
		InputMask:  &inputMask,
		RawData:    fmt.Sprintf("%X", raw),
	}

	return h.norm.Process(h.env.Ctx, h.resolved, draft)
}

func dmtpAck(ackedType byte) []byte {
	return []byte{dmtpSyncByte, dmtpAckType, 0x01, ackedType}
}

func dmtpNak(ackedType byte) []byte {
	return []byte{dmtpSyncByte, dmtpNakType, 0x01, ackedType}
}
