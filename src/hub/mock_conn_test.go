package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

// mockConn implements types.Conn for testing without a real WebSocket.
// Like a websocket library, it only runs the pong handler while a reader
// is inside ReadFrame.
type mockConn struct {
	mu        sync.Mutex
	written   []any
	readCh    chan []byte
	pongCh    chan struct{}
	closed    bool
	closedCh  chan struct{}
	onPong    func()
	autoPong  bool
	pings     int
	firstPing time.Time
}

func newMockConn(autoPong bool) *mockConn {
	return &mockConn{
		readCh:   make(chan []byte, 16),
		pongCh:   make(chan struct{}, 16),
		closedCh: make(chan struct{}),
		autoPong: autoPong,
	}
}

func (m *mockConn) ReadFrame() ([]byte, error) {
	for {
		select {
		case raw := <-m.readCh:
			return raw, nil
		case <-m.pongCh:
			m.mu.Lock()
			fn := m.onPong
			m.mu.Unlock()
			if fn != nil {
				fn()
			}
		case <-m.closedCh:
			return nil, errConnClosed
		}
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	m.written = append(m.written, v)
	return nil
}

func (m *mockConn) Ping(time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	m.pings++
	if m.firstPing.IsZero() {
		m.firstPing = time.Now()
	}
	if m.autoPong {
		select {
		case m.pongCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *mockConn) OnPong(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPong = fn
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func (m *mockConn) firstPingAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstPing
}

func (m *mockConn) send(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	m.readCh <- raw
}

func (m *mockConn) presenceFrames() []types.PresenceFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.PresenceFrame
	for _, w := range m.written {
		if f, ok := w.(types.PresenceFrame); ok {
			out = append(out, f)
		}
	}
	return out
}

func (m *mockConn) lastPresence() (types.PresenceFrame, bool) {
	frames := m.presenceFrames()
	if len(frames) == 0 {
		return types.PresenceFrame{}, false
	}
	return frames[len(frames)-1], true
}

// recordingRouter captures routed frames in order. A non-zero delay makes
// each Route call as slow as a congested store.
type recordingRouter struct {
	mu     sync.Mutex
	frames []types.SendFrame
	err    error
	delay  time.Duration
}

func (r *recordingRouter) Route(_ context.Context, _ *Client, f types.SendFrame) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return r.err
}

func (r *recordingRouter) routed() []types.SendFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]types.SendFrame, len(r.frames))
	copy(cp, r.frames)
	return cp
}

// newTestHub creates a hub with a slow heartbeat unless opts say otherwise.
func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.PingInterval == 0 {
		opts.PingInterval = time.Hour
		opts.PongTimeout = time.Minute
	}
	h := New(opts, zerolog.Nop())
	t.Cleanup(h.Shutdown)
	return h
}

// serve runs a connection in the background and waits until it is
// registered (and bound, when id is given).
func serve(t *testing.T, h *Hub, conn *mockConn, id *types.Identity) {
	t.Helper()
	before := h.ClientCount()
	bound := 0
	if id != nil {
		bound = len(h.Registry().FindByUser(id.UserID))
	}
	go func() { _ = h.Serve(context.Background(), conn, id) }()
	require.Eventually(t, func() bool {
		if id == nil {
			return h.ClientCount() > before
		}
		return len(h.Registry().FindByUser(id.UserID)) > bound
	}, time.Second, 5*time.Millisecond)
}

func user(id, name string) *types.Identity {
	return &types.Identity{UserID: id, Username: name}
}
