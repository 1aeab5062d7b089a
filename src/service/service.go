package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrMissingPeer is returned when a history request names no peer.
var ErrMissingPeer = errors.New("peer user id is required")

// Service is the read side of the relay used by the HTTP API.
type Service struct {
	hub     *hub.Hub
	history store.HistoryStore
	logger  zerolog.Logger
}

// New creates a service backed by the given hub and history store.
func New(h *hub.Hub, history store.HistoryStore, logger zerolog.Logger) *Service {
	return &Service{hub: h, history: history, logger: logger}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// OnlineUsers returns each online user once, in connection order.
func (s *Service) OnlineUsers() []types.Presence {
	return lo.UniqBy(s.hub.Registry().Snapshot(), func(p types.Presence) string {
		return p.UserID
	})
}

// ClientCount returns the number of live connections, anonymous included.
func (s *Service) ClientCount() int {
	return s.hub.ClientCount()
}

// Clients returns metadata for every live connection.
func (s *Service) Clients() []types.ClientInfo {
	return lo.Map(s.hub.Registry().Clients(), func(c *hub.Client, _ int) types.ClientInfo {
		return c.Info()
	})
}

// Conversation returns the messages exchanged between me and peer, oldest
// first.
func (s *Service) Conversation(ctx context.Context, me, peer string) ([]store.Message, error) {
	if peer == "" {
		return nil, ErrMissingPeer
	}
	msgs, err := s.history.Conversation(ctx, me, peer)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	s.logger.Debug().
		Str("user_id", me).
		Str("peer", peer).
		Int("messages", len(msgs)).
		Msg("conversation loaded")
	return msgs, nil
}
