package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ListenerSpec describes the listeners for one device-family protocol
type ListenerSpec struct {
	Protocol    string
	TCPPorts    []int
	UDPPorts    []int
	TCPTimeouts Timeouts
	UDPTimeouts Timeouts

	Framing            FramingMode
	Terminators        []byte
	MinLength          int
	MaxLength          int
	TerminateOnTimeout bool
	Linger             time.Duration

	Factory HandlerFactory
}

func (spec *ListenerSpec) options(transport Transport) Options {
	t := spec.TCPTimeouts
	if transport == TransportUDP {
		t = spec.UDPTimeouts
	}
	return Options{
		Protocol:           spec.Protocol,
		Framing:            spec.Framing,
		Terminators:        spec.Terminators,
		MinLength:          spec.MinLength,
		MaxLength:          spec.MaxLength,
		Timeouts:           t,
		TerminateOnTimeout: spec.TerminateOnTimeout,
		Linger:             spec.Linger,
	}
}

// Manager binds configured TCP/UDP ports and runs one session worker per
// TCP connection (and per logical UDP conversation). Startup is best
// effort: a port that fails to bind is logged and skipped, never fatal.
type Manager struct {
	specs []ListenerSpec

	mu        sync.Mutex
	listeners []net.Listener
	udpConns  []*net.UDPConn
	wg        sync.WaitGroup
}

// NewManager creates an empty listener manager
func NewManager() *Manager {
	return &Manager{}
}

// Add registers the listeners for one protocol
func (m *Manager) Add(spec ListenerSpec) {
	m.specs = append(m.specs, spec)
}

// Start binds all configured ports and begins accepting. It returns after
// the binds complete; sessions run until ctx is cancelled. If not a single
// listener starts, a warning is logged but no error is returned, so a
// deployment with no socket listeners (HTTP ingest only) stays possible.
func (m *Manager) Start(ctx context.Context) error {
	started := 0

	for i := range m.specs {
		spec := &m.specs[i]

		for _, port := range spec.TCPPorts {
			if err := m.startTCP(ctx, spec, port); err != nil {
				log.Error().Err(err).
					Str("protocol", spec.Protocol).
					Int("port", port).
					Msg("tcp bind failed, port skipped")
				continue
			}
			started++
		}

		for _, port := range spec.UDPPorts {
			if err := m.startUDP(ctx, spec, port); err != nil {
				log.Error().Err(err).
					Str("protocol", spec.Protocol).
					Int("port", port).
					Msg("udp bind failed, port skipped")
				continue
			}
			started++
		}
	}

	if started == 0 {
		log.Warn().Msg("no device listeners started")
	}
	return nil
}

// Stop closes all listeners and waits for active sessions to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, l := range m.listeners {
		l.Close()
	}
	for _, c := range m.udpConns {
		c.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) startTCP(ctx context.Context, spec *ListenerSpec, port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()

	log.Info().
		Str("protocol", spec.Protocol).
		Int("port", port).
		Msg("tcp listener started")

	opts := spec.options(TransportTCP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).
					Str("protocol", spec.Protocol).
					Int("port", port).
					Msg("accept error")
				continue
			}

			// one worker per connection; sessions never block each other
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				RunTCP(ctx, conn, spec.Factory(), opts)
			}()
		}
	}()

	return nil
}

// udpPeer is one logical UDP conversation in progress
type udpPeer struct {
	datagrams chan []byte
}

func (m *Manager) startUDP(ctx context.Context, spec *ListenerSpec, port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.udpConns = append(m.udpConns, conn)
	m.mu.Unlock()

	log.Info().
		Str("protocol", spec.Protocol).
		Int("port", port).
		Msg("udp listener started")

	opts := spec.options(TransportUDP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		var peersMu sync.Mutex
		peers := make(map[string]*udpPeer)

		buf := make([]byte, 65507)
		for {
			n, remote, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					peersMu.Lock()
					for _, p := range peers {
						close(p.datagrams)
					}
					peers = map[string]*udpPeer{}
					peersMu.Unlock()
					return
				}
				log.Error().Err(err).
					Str("protocol", spec.Protocol).
					Int("port", port).
					Msg("udp read error")
				continue
			}

			data := make([]byte, n)
			copy(data, buf[:n])

			key := remote.String()
			peersMu.Lock()
			peer, ok := peers[key]
			if !ok {
				// new logical session for this remote endpoint
				peer = &udpPeer{datagrams: make(chan []byte, 16)}
				peers[key] = peer

				write := func(p []byte) error {
					_, werr := conn.WriteToUDP(p, remote)
					return werr
				}

				m.wg.Add(1)
				go func(remote *net.UDPAddr, peer *udpPeer, key string) {
					defer m.wg.Done()
					RunUDP(ctx, remote, peer.datagrams, write, spec.Factory(), opts)
					peersMu.Lock()
					if peers[key] == peer {
						delete(peers, key)
					}
					peersMu.Unlock()
				}(remote, peer, key)
			}
			select {
			case peer.datagrams <- data:
			default:
				log.Warn().
					Str("protocol", spec.Protocol).
					Str("remote", key).
					Msg("udp session backlog full, datagram dropped")
			}
			peersMu.Unlock()
		}
	}()

	return nil
}
