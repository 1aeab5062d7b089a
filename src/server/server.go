// Package server exposes the relay over HTTP: websocket upgrades go to the
// hub, everything else to the Fiber API.
package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/chatrelay/config"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/identity"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const requestTimeout = 10 * time.Second

// Server wires the transport to the hub and the HTTP API to the service.
type Server struct {
	cfg      *config.SocketConfig
	hub      *hub.Hub
	svc      *service.Service
	resolver identity.Resolver
	uploads  *store.Disk
	app      *fiber.App
	upgrader websocket.FastHTTPUpgrader
	logger   zerolog.Logger
	ctx      context.Context
}

// New builds the server. uploads may be nil when attachments are stored
// elsewhere.
func New(cfg *config.SocketConfig, svc *service.Service, resolver identity.Resolver, uploads *store.Disk, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      svc.Hub(),
		svc:      svc,
		resolver: resolver,
		uploads:  uploads,
		logger:   logger.With().Str("component", "server").Logger(),
		ctx:      context.Background(),
	}
	s.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	s.app = fiber.New()
	s.registerRoutes()
	return s
}

// App returns the Fiber application serving the HTTP API.
func (s *Server) App() *fiber.App { return s.app }

// Handler dispatches websocket upgrades to the hub and the rest to Fiber.
func (s *Server) Handler() fasthttp.RequestHandler {
	api := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if isUpgrade(ctx) {
			s.handleUpgrade(ctx)
			return
		}
		if string(ctx.Path()) == "/ws" {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}
		api(ctx)
	}
}

// ListenAndServe serves until ctx is cancelled, then closes every
// connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.ctx = ctx
	srv := &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "chatrelay",
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("relay listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.hub.Shutdown()
	if err := srv.Shutdown(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) handleUpgrade(ctx *fasthttp.RequestCtx) {
	if s.cfg.MaxConnections > 0 && s.hub.ClientCount() >= s.cfg.MaxConnections {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString(`{"error":"too_many_connections"}`)
		return
	}

	hs := identity.Handshake{
		Token: identity.PickToken(
			string(ctx.Request.Header.Cookie(identity.TokenCookie)),
			string(ctx.Request.Header.Peek("Authorization")),
			string(ctx.QueryArgs().Peek("token")),
		),
		RemoteAddr: ctx.RemoteAddr().String(),
	}
	who, err := s.resolve(hs)
	if err != nil {
		if !s.cfg.AllowAnonymous {
			s.logger.Debug().Err(err).Str("remote", hs.RemoteAddr).Msg("handshake rejected")
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString(`{"error":"unauthenticated"}`)
			return
		}
		s.logger.Debug().Err(err).Str("remote", hs.RemoteAddr).Msg("anonymous connection")
	}

	base := s.ctx
	err = s.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		wc := newFastHTTPConn(conn, s.cfg.WriteTimeout, s.cfg.ReadLimit())
		if err := s.hub.Serve(base, wc, who); err != nil {
			s.logger.Error().Err(err).Msg("connection not served")
		}
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

func (s *Server) resolve(hs identity.Handshake) (*types.Identity, error) {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()
	id, err := s.resolver.Resolve(ctx, hs)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Server) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	if s.cfg.ClientURL == "" {
		return true
	}
	return string(ctx.Request.Header.Peek("Origin")) == s.cfg.ClientURL
}

func isUpgrade(ctx *fasthttp.RequestCtx) bool {
	return strings.EqualFold(string(ctx.Request.Header.Peek("Upgrade")), "websocket")
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newFastHTTPConn(conn *websocket.Conn, writeTimeout time.Duration, readLimit int64) *fasthttpConn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &fasthttpConn{conn: conn, writeTimeout: writeTimeout}
}

func (f *fasthttpConn) ReadFrame() ([]byte, error) {
	_, p, err := f.conn.ReadMessage()
	return p, err
}

func (f *fasthttpConn) WriteJSON(v any) error {
	if f.writeTimeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}
	return f.conn.WriteJSON(v)
}

func (f *fasthttpConn) Ping(deadline time.Time) error {
	return f.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (f *fasthttpConn) OnPong(fn func()) {
	f.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
