// Package router persists inbound chat frames and fans them out to the
// recipient's live connections.
package router

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
)

// ErrMalformedFrame is returned for frames that are silently dropped.
var ErrMalformedFrame = fmt.Errorf("malformed frame: %w", hub.ErrFrameDropped)

var validate = validator.New()

// Directory finds the live connections of a user.
type Directory interface {
	FindByUser(userID string) []*hub.Client
}

// Ingestor stores an inline attachment and returns its reference.
type Ingestor interface {
	Ingest(ctx context.Context, p types.FilePayload) (string, error)
}

// Router implements hub.FrameRouter.
type Router struct {
	directory Directory
	messages  store.MessageStore
	ingestor  Ingestor
	logger    zerolog.Logger
}

// New creates a router.
func New(dir Directory, messages store.MessageStore, ingestor Ingestor, logger zerolog.Logger) *Router {
	return &Router{
		directory: dir,
		messages:  messages,
		ingestor:  ingestor,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// Route validates, persists and delivers one frame. Persistence happens
// before any delivery; a recipient without live connections still gets the
// message stored for history.
func (r *Router) Route(ctx context.Context, sender *hub.Client, frame types.SendFrame) error {
	from, ok := sender.Identity()
	if !ok {
		return fmt.Errorf("%w: sender not authenticated", ErrMalformedFrame)
	}
	if err := validate.Struct(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var fileRef string
	if frame.File != nil {
		ref, err := r.ingestor.Ingest(ctx, *frame.File)
		if err != nil {
			return fmt.Errorf("ingest attachment: %w", err)
		}
		fileRef = ref
	}

	id, err := r.messages.Create(ctx, store.Message{
		Sender:    from.UserID,
		Recipient: frame.Recipient,
		Text:      frame.Text,
		File:      fileRef,
	})
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	delivery := types.DeliveryFrame{
		Text:      frame.Text,
		Sender:    from.UserID,
		Recipient: frame.Recipient,
		File:      fileRef,
		ID:        id,
	}
	delivered := 0
	for _, c := range r.directory.FindByUser(frame.Recipient) {
		if c.Enqueue(delivery) {
			delivered++
			continue
		}
		r.logger.Warn().
			Str("client_id", c.ID).
			Str("message_id", id).
			Msg("delivery dropped for unreachable connection")
	}

	r.logger.Debug().
		Str("message_id", id).
		Str("sender", from.UserID).
		Str("recipient", frame.Recipient).
		Bool("file", fileRef != "").
		Int("delivered", delivered).
		Msg("message routed")
	return nil
}
