package session

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State tracks where a session worker is in its lifecycle
type State int

const (
	StateStarting State = iota
	StateAwaitPacket
	StateDispatching
	StateClosing
	StateClosed
)

// Timeouts holds the three independently-tracked timeout classes.
// A zero duration disables that class.
type Timeouts struct {
	Idle    time.Duration // session start (or end of packet) to first byte of next packet
	Packet  time.Duration // first byte of a packet to its completion
	Session time.Duration // hard ceiling on total session duration
}

// Options configures one listener's sessions
type Options struct {
	Protocol           string
	Framing            FramingMode
	Terminators        []byte
	MinLength          int
	MaxLength          int
	Timeouts           Timeouts
	TerminateOnTimeout bool
	Linger             time.Duration
}

// Session drives one logical device conversation. Packets are processed
// strictly in arrival order, one at a time; there is no pipelining within
// a session.
type Session struct {
	id        string
	protocol  string
	transport Transport
	remote    net.Addr
	handler   PacketHandler
	framer    *Framer
	opts      Options
	startedAt time.Time

	state        State
	bytesRead    int64
	bytesWritten int64
}

func newSession(transport Transport, remote net.Addr, handler PacketHandler, opts Options) *Session {
	return &Session{
		id:        uuid.New().String()[:8],
		protocol:  opts.Protocol,
		transport: transport,
		remote:    remote,
		handler:   handler,
		framer:    NewFramer(opts.Framing, opts.Terminators, opts.MaxLength),
		opts:      opts,
		startedAt: time.Now(),
		state:     StateStarting,
	}
}

// terminated logs the end of the session and sends the handler's optional
// final packet. Errors sending the final packet are swallowed.
func (s *Session) terminated(sessionErr error, write func([]byte) error) {
	s.state = StateClosing

	hadError := sessionErr != nil && sessionErr != io.EOF && !IsTimeout(sessionErr)
	if final := s.handler.GetFinalPacket(hadError); len(final) > 0 && write != nil {
		if err := write(final); err == nil {
			s.bytesWritten += int64(len(final))
		}
	}

	evt := log.Info()
	if hadError {
		evt = log.Warn().Err(sessionErr)
	} else if IsTimeout(sessionErr) {
		evt = log.Debug().Str("timeout", sessionErr.Error())
	}
	evt.
		Str("session", s.id).
		Str("protocol", s.protocol).
		Str("transport", string(s.transport)).
		Str("remote", s.remote.String()).
		Int64("bytes_read", s.bytesRead).
		Int64("bytes_written", s.bytesWritten).
		Dur("duration", time.Since(s.startedAt)).
		Msg("session terminated")

	s.state = StateClosed
}

// dispatch hands one framed packet to the handler and writes any response.
// A handler error terminates the session.
func (s *Session) dispatch(packet []byte, write func([]byte) error) (bool, error) {
	s.state = StateDispatching

	resp, err := s.handler.HandlePacket(packet)
	if len(resp) > 0 && write != nil {
		if werr := write(resp); werr != nil {
			return true, werr
		}
		s.bytesWritten += int64(len(resp))
	}
	if err != nil {
		return true, err
	}
	if s.handler.TerminateSession() {
		return true, nil
	}

	s.state = StateAwaitPacket
	return false, nil
}

// ============================================================
// TCP
// ============================================================

// RunTCP services one accepted TCP connection until it terminates.
// The connection is closed on return.
func RunTCP(ctx context.Context, conn net.Conn, handler PacketHandler, opts Options) {
	s := newSession(TransportTCP, conn.RemoteAddr(), handler, opts)

	if tcp, ok := conn.(*net.TCPConn); ok && opts.Linger > 0 {
		tcp.SetLinger(int(opts.Linger.Seconds()))
	}
	defer conn.Close()

	// unblock reads if the listener is shutting down
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	write := func(p []byte) error {
		_, err := conn.Write(p)
		return err
	}

	log.Debug().
		Str("session", s.id).
		Str("protocol", s.protocol).
		Str("remote", s.remote.String()).
		Msg("tcp session started")

	if initial := s.handler.SessionStarted(s.remote, TransportTCP); len(initial) > 0 {
		if err := write(initial); err != nil {
			s.terminated(err, nil)
			return
		}
		s.bytesWritten += int64(len(initial))
	}

	src := newTCPSource(conn, opts.Timeouts, s.startedAt)

	var sessionErr error
	for {
		s.state = StateAwaitPacket
		src.endPacket()

		packet, err := s.framer.ReadPacket(src, s.handler)
		s.bytesRead = src.bytesRead
		if err != nil {
			if IsTimeout(err) && !opts.TerminateOnTimeout && !errors.Is(err, ErrSessionTimeout) {
				// configured to linger: keep waiting for more data
				continue
			}
			sessionErr = err
			break
		}

		done, err := s.dispatch(packet, write)
		if err != nil {
			sessionErr = err
			break
		}
		if done {
			break
		}
	}

	s.terminated(sessionErr, write)
}

// tcpSource reads single bytes from a TCP connection, enforcing the three
// timeout classes through read deadlines. The packet window opens on the
// first byte of each packet and is reset by endPacket.
type tcpSource struct {
	conn net.Conn
	t    Timeouts

	sessionDeadline time.Time
	packetDeadline  time.Time // zero while waiting for a packet's first byte
	lastActivity    time.Time
	bytesRead       int64
	one             [1]byte
}

func newTCPSource(conn net.Conn, t Timeouts, startedAt time.Time) *tcpSource {
	src := &tcpSource{conn: conn, t: t, lastActivity: startedAt}
	if t.Session > 0 {
		src.sessionDeadline = startedAt.Add(t.Session)
	}
	return src
}

// endPacket closes the current packet window; the next byte read is the
// first byte of a new packet, governed by the idle timeout.
func (r *tcpSource) endPacket() {
	r.packetDeadline = time.Time{}
	r.lastActivity = time.Now()
}

// deadline returns the binding read deadline and the error to report if it
// expires.
func (r *tcpSource) deadline() (time.Time, error) {
	var when time.Time
	var what error

	if r.packetDeadline.IsZero() {
		if r.t.Idle > 0 {
			when, what = r.lastActivity.Add(r.t.Idle), ErrIdleTimeout
		}
	} else {
		when, what = r.packetDeadline, ErrPacketTimeout
	}
	if !r.sessionDeadline.IsZero() && (when.IsZero() || r.sessionDeadline.Before(when)) {
		when, what = r.sessionDeadline, ErrSessionTimeout
	}
	return when, what
}

func (r *tcpSource) ReadByte() (byte, error) {
	when, what := r.deadline()
	if err := r.conn.SetReadDeadline(when); err != nil {
		return 0, err
	}

	n, err := r.conn.Read(r.one[:])
	if n == 1 {
		r.bytesRead++
		if r.packetDeadline.IsZero() && r.t.Packet > 0 {
			r.packetDeadline = time.Now().Add(r.t.Packet)
		}
		return r.one[0], nil
	}
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() && what != nil {
			return 0, what
		}
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, err
	}
	return 0, io.ErrNoProgress
}

func (r *tcpSource) Read(p []byte) (int, error) {
	for i := range p {
		b, err := r.ReadByte()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

// ============================================================
// UDP
// ============================================================

// sliceSource frames packets out of a single datagram; end of datagram
// reads as end of stream.
type sliceSource struct {
	data []byte
	pos  int
}

func (r *sliceSource) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *sliceSource) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// RunUDP services one logical UDP session: every datagram arriving from one
// remote endpoint within the idle-timeout window belongs to the session.
// Each datagram is framed independently and may carry multiple packets.
// The function returns when the idle window closes, the session ceiling is
// reached, or the handler requests termination.
func RunUDP(ctx context.Context, remote *net.UDPAddr, datagrams <-chan []byte, write func([]byte) error, handler PacketHandler, opts Options) {
	s := newSession(TransportUDP, remote, handler, opts)

	log.Debug().
		Str("session", s.id).
		Str("protocol", s.protocol).
		Str("remote", remote.String()).
		Msg("udp session started")

	// initial packets are not sent on simplex transports
	s.handler.SessionStarted(remote, TransportUDP)

	var sessionEnd <-chan time.Time
	if opts.Timeouts.Session > 0 {
		timer := time.NewTimer(opts.Timeouts.Session)
		defer timer.Stop()
		sessionEnd = timer.C
	}

	idle := opts.Timeouts.Idle
	if idle <= 0 {
		idle = 10 * time.Second
	}
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	var sessionErr error

loop:
	for {
		s.state = StateAwaitPacket

		select {
		case <-ctx.Done():
			break loop

		case <-sessionEnd:
			sessionErr = ErrSessionTimeout
			break loop

		case <-idleTimer.C:
			if opts.TerminateOnTimeout {
				sessionErr = ErrIdleTimeout
				break loop
			}
			idleTimer.Reset(idle)

		case data, ok := <-datagrams:
			if !ok {
				break loop
			}
			s.bytesRead += int64(len(data))

			src := &sliceSource{data: data}
			for {
				packet, err := s.framer.ReadPacket(src, s.handler)
				if err == io.EOF {
					break
				}
				if err != nil {
					sessionErr = err
					break loop
				}
				done, err := s.dispatch(packet, write)
				if err != nil {
					sessionErr = err
					break loop
				}
				if done {
					break loop
				}
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(idle)
		}
	}

	s.terminated(sessionErr, write)
}
