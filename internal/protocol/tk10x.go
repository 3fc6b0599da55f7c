package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/directory"
	"github.com/track-server/track-server-pro/internal/normalize"
	"github.com/track-server/track-server-pro/internal/session"
	"github.com/track-server/track-server-pro/pkg/geo"
)

const tk10xProtocol = "tk10x"

func buildTK10X(env *Env, cfg config.ProtocolConfig) *session.ListenerSpec {
	spec := baseSpec(tk10xProtocol, cfg)
	spec.Framing = session.FrameTerminator
	spec.Terminators = cfg.TerminatorBytes()
	if len(spec.Terminators) == 0 {
		spec.Terminators = []byte{';', '\r', '\n', 0x00}
	}
	spec.MaxLength = cfg.MaxPacketLength
	if spec.MaxLength <= 0 {
		spec.MaxLength = 600
	}

	resolver := newResolver(env, cfg, tk10xProtocol)
	norm := newNormalizer(env, cfg, false)
	spec.Factory = func() session.PacketHandler {
		return &tk10xHandler{env: env, resolver: resolver, norm: norm}
	}
	return spec
}

// tk10xHandler decodes the TK102/TK103 family of comma-delimited text
// records. A session typically opens with a "##,imei:...,A" handshake
// (answered with "LOAD"), sends bare-IMEI heartbeats (answered with
// "ON"), and carries location records of the form
//
//	imei:359586015829802,tracker,1107090553,13554900601,F,215314.000,
//	    A,4103.7641,N,14244.9450,W,0.08,
type tk10xHandler struct {
	env      *Env
	resolver *directory.Resolver
	norm     *normalize.Normalizer

	remote    net.Addr
	transport session.Transport
	resolved  *directory.Resolved
}

func (h *tk10xHandler) SessionStarted(remote net.Addr, transport session.Transport) []byte {
	h.remote = remote
	h.transport = transport
	return nil
}

func (h *tk10xHandler) GetMinimumPacketLength() int { return 1 }
func (h *tk10xHandler) GetMaximumPacketLength() int { return 600 }

func (h *tk10xHandler) GetActualPacketLength(prefix []byte) int {
	return session.PacketLenLineTerminator
}

func (h *tk10xHandler) TerminateSession() bool { return false }

func (h *tk10xHandler) GetFinalPacket(hadError bool) []byte { return nil }

func (h *tk10xHandler) HandlePacket(packet []byte) ([]byte, error) {
	line := strings.TrimSpace(string(packet))
	if line == "" {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(line, "##"):
		// logon handshake: ##,imei:359586015829802,A
		if token := extractIMEI(line); token != "" {
			h.resolve(token)
		}
		return []byte("LOAD"), nil

	case isAllDigits(line):
		// bare-IMEI heartbeat
		h.resolve(line)
		return []byte("ON"), nil

	case strings.HasPrefix(line, "imei:"):
		if err := h.handleRecord(line); err != nil {
			log.Warn().Err(err).
				Str("protocol", tk10xProtocol).
				Str("data", line).
				Msg("Discarding unparseable record")
		}
		return nil, nil
	}

	log.Debug().
		Str("protocol", tk10xProtocol).
		Str("data", line).
		Msg("Ignoring unrecognized packet")
	return nil, nil
}

// resolve looks up (and caches) the device for an IMEI token. A lookup
// failure or a rejected source IP leaves the handler unresolved so the
// record is dropped; the session itself stays up.
func (h *tk10xHandler) resolve(token string) *directory.Resolved {
	if h.resolved != nil && h.resolved.Device.UniqueID != "" &&
		strings.HasSuffix(h.resolved.Device.UniqueID, token) {
		return h.resolved
	}

	dev, err := h.resolver.ByUniqueID(h.env.Ctx, token)
	if err != nil {
		if errors.Is(err, directory.ErrUnknownDevice) {
			log.Warn().Str("protocol", tk10xProtocol).Str("imei", token).
				Msg("Unknown device")
		} else {
			log.Error().Err(err).Str("imei", token).Msg("Device lookup failed")
		}
		return nil
	}

	ip, port := remoteIPPort(h.remote)
	if err := dev.CheckSourceIP(ip); err != nil {
		log.Warn().Str("device", dev.Device.DeviceID).Str("ip", ip).
			Msg("Source IP not on device allow list")
		return nil
	}
	dev.NoteConnection(ip, port, tk10xProtocol)

	h.resolved = dev
	return dev
}

func (h *tk10xHandler) handleRecord(line string) error {
	fields := strings.Split(line, ",")
	if len(fields) < 12 {
		return fmt.Errorf("expected 12+ fields, got %d", len(fields))
	}

	token := strings.TrimPrefix(fields[0], "imei:")
	dev := h.resolve(token)
	if dev == nil {
		return nil
	}

	draft := &normalize.Draft{
		EventCode:  strings.ToLower(strings.TrimSpace(fields[1])),
		SpeedKPH:   -1,
		HeadingDeg: -1,
		RawData:    line,
	}

	// fields[2] is a local-timezone YYMMDDhhmm (sometimes with seconds),
	// fields[5] the GMT HHMMSS.sss from the GPS fix
	locYMDhms, _ := strconv.ParseInt(fields[2], 10, 64)
	if len(fields[2]) <= 10 {
		locYMDhms *= 100
	}
	gmtHMS, _ := strconv.ParseInt(strings.SplitN(fields[5], ".", 2)[0], 10, 64)
	draft.Timestamp = normalize.UTCSecondsLocalGMT(locYMDhms, gmtHMS, time.Now())

	// "F" means the device has a full GPS fix; "A" is the NMEA valid flag
	draft.GPSValid = strings.EqualFold(fields[4], "F") && strings.EqualFold(fields[6], "A")

	var err error
	draft.Latitude, err = geo.ParseNMEALatitude(fields[7], fields[8])
	if err != nil {
		draft.GPSValid = false
	}
	draft.Longitude, err = geo.ParseNMEALongitude(fields[9], fields[10])
	if err != nil {
		draft.GPSValid = false
	}

	if knots, err := strconv.ParseFloat(fields[11], 64); err == nil {
		draft.SpeedKPH = knots * geo.KilometersPerKnot
	}
	if len(fields) > 12 && fields[12] != "" {
		if heading, err := strconv.ParseFloat(fields[12], 64); err == nil {
			draft.HeadingDeg = heading
		}
	}

	return h.norm.Process(h.env.Ctx, dev, draft)
}

func extractIMEI(line string) string {
	idx := strings.Index(line, "imei:")
	if idx < 0 {
		return ""
	}
	token := line[idx+len("imei:"):]
	if end := strings.IndexAny(token, ",;"); end >= 0 {
		token = token[:end]
	}
	return strings.TrimSpace(token)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
