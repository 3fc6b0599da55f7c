package protocol

import (
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

const taipProtocol = "taip"

func buildTAIP(env *Env, cfg config.ProtocolConfig) *session.ListenerSpec {
	spec := baseSpec(taipProtocol, cfg)
	spec.Framing = session.FrameTerminator
	spec.Terminators = cfg.TerminatorBytes()
	if len(spec.Terminators) == 0 {
		spec.Terminators = []byte{'<', '\r', '\n'}
	}
	spec.MaxLength = cfg.MaxPacketLength
	if spec.MaxLength <= 0 {
		spec.MaxLength = 300
	}

	resolver := newResolver(env, cfg, taipProtocol)
	norm := newNormalizer(env, cfg, false)
	spec.Factory = func() session.PacketHandler {
		return &taipHandler{env: env, resolver: resolver, norm: norm}
	}
	return spec
}

// taipHandler decodes TAIP position-velocity reports:
//
//	>RPV15714+3739438-12203846015126212;ID=1234;*7F<
//
// The RPV body is fixed-offset: seconds of day at [3,8), latitude at
// [8,16) and longitude at [16,25) in hundred-thousandths of a degree,
// speed in mph at [25,28), heading at [28,31), then the fix source digit
// and the fix age digit. The device identifies itself in the ";ID="
// trailer element.
type taipHandler struct {
	env      *Env
	resolver *directory.Resolver
	norm     *normalize.Normalizer

	remote    net.Addr
	transport session.Transport
	resolved  *directory.Resolved
}

func (h *taipHandler) SessionStarted(remote net.Addr, transport session.Transport) []byte {
	h.remote = remote
	h.transport = transport
	return nil
}

func (h *taipHandler) GetMinimumPacketLength() int { return 4 }
func (h *taipHandler) GetMaximumPacketLength() int { return 300 }

func (h *taipHandler) GetActualPacketLength(prefix []byte) int {
	return session.PacketLenLineTerminator
}

func (h *taipHandler) TerminateSession() bool { return false }

func (h *taipHandler) GetFinalPacket(hadError bool) []byte { return nil }

func (h *taipHandler) HandlePacket(packet []byte) ([]byte, error) {
	msg := strings.TrimSpace(string(packet))
	msg = strings.TrimPrefix(msg, ">")
	if msg == "" {
		return nil, nil
	}

	body, trailer := msg, ""
	if idx := strings.Index(msg, ";"); idx >= 0 {
		body, trailer = msg[:idx], msg[idx:]
	}

	if !strings.HasPrefix(body, "RPV") {
		log.Debug().Str("protocol", taipProtocol).Str("data", msg).
			Msg("Ignoring non-RPV message")
		return nil, nil
	}

	if err := h.handleRPV(body, trailer, msg); err != nil {
		log.Warn().Err(err).
			Str("protocol", taipProtocol).
			Str("data", msg).
			Msg("Discarding unparseable report")
	}
	return nil, nil
}

func (h *taipHandler) handleRPV(body, trailer, raw string) error {
	if len(body) < 31 {
		return fmt.Errorf("RPV body too short: %d chars", len(body))
	}

	token := trailerValue(trailer, "ID")
	if token == "" {
		return fmt.Errorf("missing ID element")
	}

	dev, err := h.resolve(token)
	if err != nil || dev == nil {
		return err
	}

	tod, err := strconv.ParseInt(body[3:8], 10, 64)
	if err != nil || tod >= 86400 {
		return fmt.Errorf("invalid seconds of day %q", body[3:8])
	}
	lat, err := strconv.ParseFloat(body[8:16], 64)
	if err != nil {
		return fmt.Errorf("invalid latitude %q", body[8:16])
	}
	lon, err := strconv.ParseFloat(body[16:25], 64)
	if err != nil {
		return fmt.Errorf("invalid longitude %q", body[16:25])
	}
	speedMPH, err := strconv.ParseFloat(body[25:28], 64)
	if err != nil {
		return fmt.Errorf("invalid speed %q", body[25:28])
	}
	heading, err := strconv.ParseFloat(body[28:31], 64)
	if err != nil {
		return fmt.Errorf("invalid heading %q", body[28:31])
	}

	draft := &normalize.Draft{
		Timestamp:  normalize.UTCSecondsTOD(tod, time.Now()),
		Latitude:   lat / 100000.0,
		Longitude:  lon / 100000.0,
		GPSValid:   true,
		SpeedKPH:   speedMPH * geo.KilometersPerMile,
		HeadingDeg: heading,
		RawData:    raw,
	}

	// the digit after the fix source is the GPS age: 2 is a fresh fix,
	// anything else is stale or unavailable
	if len(body) >= 33 && body[32] != '2' {
		draft.GPSValid = false
	}

	return h.norm.Process(h.env.Ctx, dev, draft)
}

func (h *taipHandler) resolve(token string) (*directory.Resolved, error) {
	if h.resolved != nil && strings.HasSuffix(h.resolved.Device.UniqueID, token) {
		return h.resolved, nil
	}

	dev, err := h.resolver.ByUniqueID(h.env.Ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("protocol", taipProtocol).Str("id", token).
			Msg("Device lookup failed")
		return nil, nil
	}

	ip, port := remoteIPPort(h.remote)
	if err := dev.CheckSourceIP(ip); err != nil {
		return nil, nil
	}
	dev.NoteConnection(ip, port, taipProtocol)

	h.resolved = dev
	return dev, nil
}

// trailerValue extracts a ";KEY=value" element from a TAIP trailer
func trailerValue(trailer, key string) string {
	for _, part := range strings.Split(trailer, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, key+"=") {
			return strings.TrimPrefix(part, key+"=")
		}
	}
	return ""
}
