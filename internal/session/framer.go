package session

import (
	"fmt"
	"io"
)

// FramingMode selects how packet boundaries are found in the byte stream
type FramingMode int

const (
	// FrameTerminator reads until a byte from the terminator set appears
	FrameTerminator FramingMode = iota

	// FrameEndOfStream reads until the stream ends or the maximum packet
	// length is reached
	FrameEndOfStream

	// FrameDynamic reads a minimum-length prefix and asks the handler for
	// the total packet length
	FrameDynamic
)

// frameSource is the byte stream a Framer reads from. Implementations
// surface the session timeout classes as the Err* sentinels and report
// io.EOF at end of stream (TCP close, or end of datagram for UDP).
type frameSource interface {
	io.Reader
	io.ByteReader
}

// Framer extracts one packet at a time from a byte stream. It holds no
// per-packet state; the same Framer serves every packet of a session.
type Framer struct {
	Mode        FramingMode
	Terminators []byte
	MaxLength   int
}

// NewFramer creates a framer for the given mode
func NewFramer(mode FramingMode, terminators []byte, maxLength int) *Framer {
	return &Framer{
		Mode:        mode,
		Terminators: terminators,
		MaxLength:   maxLength,
	}
}

func (f *Framer) isTerminator(b byte) bool {
	for _, t := range f.Terminators {
		if b == t {
			return true
		}
	}
	return false
}

// ReadPacket reads exactly one packet from src. It returns io.EOF when the
// stream ends before any byte is read; timeouts and framing violations come
// back as the package sentinels. A packet is produced at most once per call
// and is never partially dispatched.
func (f *Framer) ReadPacket(src frameSource, handler PacketHandler) ([]byte, error) {
	switch f.Mode {
	case FrameTerminator:
		return f.readTerminated(src, nil)
	case FrameEndOfStream:
		return f.readToEnd(src, nil)
	case FrameDynamic:
		return f.readDynamic(src, handler)
	default:
		return nil, fmt.Errorf("unknown framing mode %d", f.Mode)
	}
}

// readTerminated scans for a terminator byte, starting from any prefix
// already read. The terminator is not included in the returned packet.
func (f *Framer) readTerminated(src frameSource, prefix []byte) ([]byte, error) {
	packet := prefix
	for {
		b, err := src.ReadByte()
		if err == io.EOF {
			// stream ended mid-line: hand back what we have
			if len(packet) > 0 {
				return packet, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if f.isTerminator(b) {
			return packet, nil
		}
		packet = append(packet, b)
		if len(packet) >= f.MaxLength {
			return nil, fmt.Errorf("%w: terminator not found within %d bytes",
				ErrPacketLength, f.MaxLength)
		}
	}
}

// readToEnd consumes the rest of the stream, bounded by the maximum length
func (f *Framer) readToEnd(src frameSource, prefix []byte) ([]byte, error) {
	packet := prefix
	for len(packet) < f.MaxLength {
		b, err := src.ReadByte()
		if err == io.EOF {
			if len(packet) > 0 {
				return packet, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		packet = append(packet, b)
	}
	return packet, nil
}

// readDynamic reads the handler's minimum prefix, asks for the actual
// length, and completes the frame accordingly.
func (f *Framer) readDynamic(src frameSource, handler PacketHandler) ([]byte, error) {
	minLen := handler.GetMinimumPacketLength()
	if minLen <= 0 || minLen > f.MaxLength {
		return nil, fmt.Errorf("%w: minimum packet length %d", ErrPacketLength, minLen)
	}

	prefix := make([]byte, 0, minLen)
	for len(prefix) < minLen {
		b, err := src.ReadByte()
		if err == io.EOF {
			if len(prefix) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: stream ended %d bytes into %d byte prefix",
				ErrPacketLength, len(prefix), minLen)
		}
		if err != nil {
			return nil, err
		}
		prefix = append(prefix, b)
	}

	actual := handler.GetActualPacketLength(prefix)
	switch {
	case actual == PacketLenLineTerminator:
		return f.readTerminated(src, prefix)

	case actual == PacketLenEndOfStream:
		return f.readToEnd(src, prefix)

	case actual < 0:
		return nil, fmt.Errorf("%w: handler signaled invalid frame", ErrPacketLength)

	case actual < len(prefix) || actual > f.MaxLength:
		return nil, fmt.Errorf("%w: handler returned %d (prefix %d, max %d)",
			ErrPacketLength, actual, len(prefix), f.MaxLength)

	case actual == len(prefix):
		return prefix, nil
	}

	packet := append(prefix, make([]byte, actual-len(prefix))...)
	if _, err := io.ReadFull(src, packet[len(prefix):]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: stream ended before %d byte packet completed",
				ErrPacketLength, actual)
		}
		return nil, err
	}
	return packet, nil
}
