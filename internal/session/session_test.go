package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler records every dispatched packet and answers each with "ok"
type echoHandler struct {
	mu        sync.Mutex
	packets   [][]byte
	initial   []byte
	final     []byte
	terminate bool
}

func (h *echoHandler) SessionStarted(net.Addr, Transport) []byte { return h.initial }
func (h *echoHandler) GetMinimumPacketLength() int               { return 1 }
func (h *echoHandler) GetMaximumPacketLength() int               { return 64 }
func (h *echoHandler) GetActualPacketLength([]byte) int          { return PacketLenLineTerminator }
func (h *echoHandler) GetFinalPacket(bool) []byte                { return h.final }

func (h *echoHandler) HandlePacket(packet []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := append([]byte(nil), packet...)
	h.packets = append(h.packets, cp)
	return []byte("ok"), nil
}

func (h *echoHandler) TerminateSession() bool { return h.terminate }

func (h *echoHandler) received() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.packets
}

func testOptions() Options {
	return Options{
		Protocol:    "test",
		Framing:     FrameTerminator,
		Terminators: []byte{'\n'},
		MaxLength:   64,
		Timeouts: Timeouts{
			Idle:    2 * time.Second,
			Packet:  time.Second,
			Session: 5 * time.Second,
		},
		TerminateOnTimeout: true,
	}
}

func TestRunTCPDispatchAndRespond(t *testing.T) {
	server, client := net.Pipe()
	handler := &echoHandler{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunTCP(context.Background(), server, handler, testOptions())
	}()

	// write from a goroutine: net.Pipe is synchronous, so the session's
	// "ok" responses interleave with the unread tail of this write
	go client.Write([]byte("first\nsecond\n"))

	buf := make([]byte, 4)
	for i := 0; i < 2; i++ {
		n, err := client.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(buf[:n]))
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate after peer close")
	}

	packets := handler.received()
	require.Len(t, packets, 2)
	assert.Equal(t, "first", string(packets[0]))
	assert.Equal(t, "second", string(packets[1]))
}

func TestRunTCPInitialAndFinalPackets(t *testing.T) {
	server, client := net.Pipe()
	handler := &echoHandler{
		initial:   []byte("HELLO"),
		final:     []byte("BYE"),
		terminate: true,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunTCP(context.Background(), server, handler, testOptions())
	}()

	buf := make([]byte, 8)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(buf[:n]))

	// one packet, then the handler requests termination
	_, err = client.Write([]byte("only\n"))
	require.NoError(t, err)

	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))

	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "BYE", string(buf[:n]))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate")
	}
	require.Len(t, handler.received(), 1)
}

func TestRunTCPIdleTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	opts := testOptions()
	opts.Timeouts.Idle = 50 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunTCP(context.Background(), server, &echoHandler{}, opts)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("idle timeout did not terminate the session")
	}
}

func TestRunTCPContextCancel(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	opts := testOptions()
	opts.Timeouts = Timeouts{} // no timeouts, only the context can stop it

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunTCP(ctx, server, &echoHandler{}, opts)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("cancel did not terminate the session")
	}
}

func TestRunUDPDatagrams(t *testing.T) {
	handler := &echoHandler{}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

	datagrams := make(chan []byte, 4)
	var mu sync.Mutex
	var responses [][]byte
	write := func(p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		responses = append(responses, append([]byte(nil), p...))
		return nil
	}

	opts := testOptions()
	opts.Timeouts.Idle = 100 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunUDP(context.Background(), remote, datagrams, write, handler, opts)
	}()

	// one datagram carrying two framed packets
	datagrams <- []byte("a\nb\n")

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("udp session did not close on idle")
	}

	packets := handler.received()
	require.Len(t, packets, 2)
	assert.Equal(t, "a", string(packets[0]))
	assert.Equal(t, "b", string(packets[1]))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, responses, 2)
}
