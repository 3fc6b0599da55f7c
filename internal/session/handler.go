// Package session implements the protocol-agnostic device communication
// framework: port listeners, per-connection session workers, and packet
// framing. Protocol-specific behavior is supplied through the PacketHandler
// contract; one handler instance is constructed per session.
package session

import (
	"errors"
	"net"
)

// Transport identifies the transport a session runs over
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// Sentinel values a PacketHandler may return from GetActualPacketLength
// instead of a byte count.
const (
	// PacketLenLineTerminator requests that the remainder of the packet be
	// read up to (and including) a configured terminator byte.
	PacketLenLineTerminator = -1

	// PacketLenEndOfStream requests that the remainder of the packet be
	// read until the stream ends or the maximum packet length is reached.
	PacketLenEndOfStream = -2
)

// Framework errors
var (
	// ErrPacketLength indicates a framing-contract violation: a handler
	// returned a total length below the prefix already read or above the
	// maximum packet length. The session terminates with zero packets
	// dispatched for the frame.
	ErrPacketLength = errors.New("invalid packet length")

	ErrIdleTimeout    = errors.New("idle timeout")
	ErrPacketTimeout  = errors.New("packet timeout")
	ErrSessionTimeout = errors.New("session timeout")
)

// IsTimeout reports whether err is one of the three timeout classes
func IsTimeout(err error) bool {
	return errors.Is(err, ErrIdleTimeout) ||
		errors.Is(err, ErrPacketTimeout) ||
		errors.Is(err, ErrSessionTimeout)
}

// PacketHandler is the capability contract a device-family protocol
// implements. A handler drives exactly one session and is never shared;
// the framework calls its methods strictly sequentially.
type PacketHandler interface {
	// SessionStarted is called once when the session opens. The returned
	// bytes, if any, are written to the device as an initial packet;
	// they are ignored on simplex transports (UDP).
	SessionStarted(remote net.Addr, transport Transport) []byte

	// GetMinimumPacketLength returns the prefix length required before
	// GetActualPacketLength can size the packet.
	GetMinimumPacketLength() int

	// GetMaximumPacketLength bounds every framed packet.
	GetMaximumPacketLength() int

	// GetActualPacketLength inspects the minimum-length prefix and returns
	// the total expected packet length (prefix included), or one of the
	// PacketLen* sentinels to fall back to terminator or end-of-stream
	// framing for the remainder.
	GetActualPacketLength(prefix []byte) int

	// HandlePacket processes one framed packet and returns optional
	// response bytes. A non-nil error terminates the session; packet-level
	// problems (unknown device, malformed fields) should be absorbed and
	// logged instead.
	HandlePacket(packet []byte) ([]byte, error)

	// TerminateSession is polled after each packet; returning true ends
	// the session cleanly.
	TerminateSession() bool

	// GetFinalPacket returns optional bytes to send before the session
	// closes. Write errors are swallowed.
	GetFinalPacket(hadError bool) []byte
}

// HandlerFactory constructs a fresh PacketHandler for a new session
type HandlerFactory func() PacketHandler
