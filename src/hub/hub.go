package hub

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
)

// FrameRouter handles a decoded frame from an authenticated client.
// Defined here to avoid circular imports with the router package.
type FrameRouter interface {
	Route(ctx context.Context, sender *Client, frame types.SendFrame) error
}

// Mirror receives every presence snapshot after it has been broadcast.
type Mirror interface {
	Publish(ctx context.Context, online []types.Presence) error
	Available() bool
}

// Reason explains why a connection left the registry.
type Reason string

const (
	ReasonClosed      Reason = "closed"
	ReasonHeartbeat   Reason = "heartbeat timeout"
	ReasonPingFailed  Reason = "ping failed"
	ReasonWriteFailed Reason = "write failed"
	ReasonShutdown    Reason = "shutdown"
)

// Options tunes the hub.
type Options struct {
	PingInterval  time.Duration
	PongTimeout   time.Duration
	SendBuffer    int
	InboundBuffer int // frames read but not yet routed, per connection
}

// DefaultOptions returns the heartbeat cadence of 5s ping / 1s grace.
func DefaultOptions() Options {
	return Options{
		PingInterval:  5 * time.Second,
		PongTimeout:   time.Second,
		SendBuffer:    256,
		InboundBuffer: 64,
	}
}

// Hub owns all live connections: registration, heartbeat, presence and
// dispatch of inbound frames.
type Hub struct {
	opts     Options
	registry *Registry
	presence *Presence
	router   FrameRouter
	logger   zerolog.Logger
}

// New creates a new Hub instance. A pong timeout that does not fit inside
// the ping interval is clamped to half the interval; otherwise every tick
// would re-arm the death timer before it fires.
func New(opts Options, logger zerolog.Logger) *Hub {
	logger = logger.With().Str("component", "hub").Logger()
	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = def.PongTimeout
	}
	if opts.PongTimeout >= opts.PingInterval {
		clamped := opts.PingInterval / 2
		logger.Warn().
			Dur("pong_timeout", opts.PongTimeout).
			Dur("ping_interval", opts.PingInterval).
			Dur("clamped_to", clamped).
			Msg("pong timeout must be shorter than ping interval")
		opts.PongTimeout = clamped
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = def.InboundBuffer
	}
	reg := NewRegistry()
	return &Hub{
		opts:     opts,
		registry: reg,
		presence: newPresence(reg, logger),
		logger:   logger,
	}
}

// SetRouter attaches the handler for inbound message frames.
func (h *Hub) SetRouter(r FrameRouter) { h.router = r }

// SetMirror attaches a presence mirror. Call before serving connections.
func (h *Hub) SetMirror(m Mirror) { h.presence.mirror = m }

// Registry returns the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int { return h.registry.Count() }

// NotifyAll broadcasts the current online list to every connection.
func (h *Hub) NotifyAll() []types.Presence { return h.presence.NotifyAll() }

// Serve runs a connection until it is gone. A nil identity leaves the
// connection anonymous: it receives presence but its frames are dropped.
func (h *Hub) Serve(ctx context.Context, conn types.Conn, id *types.Identity) error {
	c := NewClient(uuid.New().String(), conn, h)
	if err := h.Attach(c); err != nil {
		_ = conn.Close()
		return err
	}
	go c.WritePump()
	if id != nil {
		if err := h.Authenticate(c, *id); err != nil {
			h.Disconnect(c, ReasonClosed)
			return err
		}
	}
	routed := make(chan struct{})
	go func() {
		defer close(routed)
		c.RoutePump(ctx)
	}()
	c.ReadPump()
	h.Disconnect(c, ReasonClosed)
	<-routed
	return nil
}

// Attach registers a freshly accepted connection and starts its heartbeat.
func (h *Hub) Attach(c *Client) error {
	if err := h.registry.Add(c); err != nil {
		h.logger.Error().Err(err).Str("client_id", c.ID).Msg("connection invariant violated")
		return err
	}
	c.conn.OnPong(c.pong)
	go h.monitor(c)
	h.logger.Debug().Str("client_id", c.ID).Msg("client attached")
	return nil
}

// Authenticate binds an identity to an attached client and announces it.
func (h *Hub) Authenticate(c *Client, id types.Identity) error {
	if err := h.registry.Bind(c.ID, id); err != nil {
		return err
	}
	h.logger.Info().
		Str("client_id", c.ID).
		Str("user_id", id.UserID).
		Str("username", id.Username).
		Msg("client registered")
	h.presence.NotifyAll()
	return nil
}

// Disconnect is the single exit path of a connection. Only the first call
// for a client removes it, closes it and broadcasts presence.
func (h *Hub) Disconnect(c *Client, reason Reason) {
	if !h.registry.Remove(c.ID) {
		return
	}
	c.Close()

	ev := h.logger.Info()
	if reason == ReasonWriteFailed || reason == ReasonPingFailed {
		ev = h.logger.Warn()
	}
	ev.Str("client_id", c.ID).
		Str("user_id", c.UserID()).
		Str("reason", string(reason)).
		Msg("client unregistered")

	h.presence.NotifyAll()
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.Clients() {
		h.Disconnect(c, ReasonShutdown)
	}
}

func (h *Hub) route(ctx context.Context, c *Client, frame types.SendFrame) {
	if h.router == nil {
		h.logger.Debug().Str("client_id", c.ID).Msg("no router")
		return
	}
	if err := h.router.Route(ctx, c, frame); err != nil {
		ev := h.logger.Error()
		if errors.Is(err, ErrFrameDropped) {
			ev = h.logger.Debug()
		}
		ev.Err(err).Str("client_id", c.ID).Str("user_id", c.UserID()).Msg("frame not routed")
	}
}

// ErrFrameDropped marks router errors that are expected client noise and
// only worth a debug line.
var ErrFrameDropped = errors.New("frame dropped")
