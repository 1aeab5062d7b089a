package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/orchestra-mcp/chatrelay/src/identity"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/orchestra-mcp/chatrelay/src/store"
)

func (s *Server) registerRoutes() {
	if s.cfg.ClientURL != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     []string{s.cfg.ClientURL},
			AllowCredentials: true,
		}))
	}
	s.app.Get("/test", s.handleTest)
	s.app.Get("/ws/info", s.handleInfo)
	s.app.Get("/ws/clients", s.handleClients)
	s.app.Get("/people/online", s.handleOnline)
	s.app.Get("/messages/:userId", s.handleMessages)
	s.app.Get("/uploads/:name", s.handleUpload)
}

func (s *Server) handleTest(c fiber.Ctx) error {
	return c.JSON("Test OK")
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"clients":   s.svc.ClientCount(),
		"online":    len(s.svc.OnlineUsers()),
	})
}

func (s *Server) handleClients(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"count":   s.svc.ClientCount(),
		"clients": s.svc.Clients(),
	})
}

func (s *Server) handleOnline(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"online": s.svc.OnlineUsers()})
}

func (s *Server) handleMessages(c fiber.Ctx) error {
	hs := identity.Handshake{
		Token: identity.PickToken(c.Cookies(identity.TokenCookie), c.Get("Authorization"), c.Query("token")),
	}
	me, err := s.resolve(hs)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
	}

	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()
	msgs, err := s.svc.Conversation(ctx, me.UserID, c.Params("userId"))
	if errors.Is(err, service.ErrMissingPeer) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", me.UserID).Msg("history lookup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "history unavailable"})
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return c.JSON(msgs)
}

func (s *Server) handleUpload(c fiber.Ctx) error {
	if s.uploads == nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	path, err := s.uploads.Path(c.Params("name"))
	if err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.SendFile(path)
}
