package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ErrIdentityAlreadySet is returned when a client is bound twice.
var ErrIdentityAlreadySet = errors.New("identity already set")

// State is the heartbeat state of a connection.
type State int32

const (
	StateAlive State = iota
	StateAwaitingPong
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateAwaitingPong:
		return "awaiting_pong"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// Client wraps a WebSocket connection and manages message flow.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	send        chan any
	inbound     chan types.SendFrame
	pongs       chan struct{}
	connectedAt time.Time

	mu       sync.RWMutex
	identity *types.Identity

	lastPong atomic.Int64
	state    atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	size, inSize := 256, 64
	if h != nil && h.opts.SendBuffer > 0 {
		size = h.opts.SendBuffer
	}
	if h != nil && h.opts.InboundBuffer > 0 {
		inSize = h.opts.InboundBuffer
	}
	return &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		send:        make(chan any, size),
		inbound:     make(chan types.SendFrame, inSize),
		pongs:       make(chan struct{}, 1),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// Identity returns the resolved identity, or false while the client is
// still unauthenticated.
func (c *Client) Identity() (types.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return types.Identity{}, false
	}
	return *c.identity, true
}

// setIdentity binds the identity once; later calls fail.
func (c *Client) setIdentity(id types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return ErrIdentityAlreadySet
	}
	c.identity = &id
	return nil
}

// UserID returns the bound user id or "".
func (c *Client) UserID() string {
	id, _ := c.Identity()
	return id.UserID
}

// State reports the heartbeat state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// LastPong returns when the last pong was observed (zero if never).
func (c *Client) LastPong() time.Time {
	n := c.lastPong.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	id, _ := c.Identity()
	return types.ClientInfo{
		ID:          c.ID,
		UserID:      id.UserID,
		Username:    id.Username,
		ConnectedAt: c.connectedAt,
		State:       c.State().String(),
	}
}

// Enqueue queues a frame for the write pump without blocking. It reports
// false when the client is closed or its queue is full.
func (c *Client) Enqueue(frame any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) pong() {
	c.lastPong.Store(time.Now().UnixNano())
	select {
	case c.pongs <- struct{}{}:
	default:
	}
}

// ReadPump reads frames from the WebSocket and queues them for RoutePump.
// It never routes itself, so pong control frames keep being read while a
// message is persisted. A full inbound queue blocks reading until the
// router catches up or the client is closed.
func (c *Client) ReadPump() {
	defer close(c.inbound)
	logger := c.hub.logger.With().Str("client_id", c.ID).Logger()
	for {
		raw, err := c.conn.ReadFrame()
		if err != nil {
			return
		}
		if _, ok := c.Identity(); !ok {
			logger.Debug().Msg("frame from unauthenticated connection dropped")
			continue
		}
		var frame types.SendFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Debug().Err(err).Msg("undecodable frame dropped")
			continue
		}
		select {
		case c.inbound <- frame:
		case <-c.done:
			return
		}
	}
}

// RoutePump routes queued frames one at a time, in receive order. A frame
// is fully persisted and fanned out before the next one is taken. It
// returns once ReadPump has stopped and the queue is drained.
func (c *Client) RoutePump(ctx context.Context) {
	for frame := range c.inbound {
		c.hub.route(ctx, c, frame)
	}
}

// WritePump writes queued frames to the WebSocket.
func (c *Client) WritePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteJSON(frame); err != nil {
				c.hub.Disconnect(c, ReasonWriteFailed)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the pumps and the heartbeat and closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateDead)
		close(c.done)
		_ = c.conn.Close()
	})
}
