package types

import "time"

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Presence is one entry of the online list.
type Presence = Identity

// PresenceFrame is pushed to every connection whenever membership changes.
// Receivers replace their online view with it.
type PresenceFrame struct {
	Online []Presence `json:"online"`
}

// DeliveryFrame carries a persisted message to a recipient connection.
type DeliveryFrame struct {
	Text      string `json:"text,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	File      string `json:"file,omitempty"`
	ID        string `json:"_id"`
}

// SendFrame is what a client sends to address a message to a peer.
type SendFrame struct {
	Recipient string       `json:"recipient" validate:"required"`
	Text      string       `json:"text,omitempty" validate:"required_without=File"`
	File      *FilePayload `json:"file,omitempty"`
}

// FilePayload is an inline attachment: a suggested file name and a base64
// body, optionally in data URL form.
type FilePayload struct {
	Name string `json:"name" validate:"required"`
	Data string `json:"data" validate:"required"`
}

// ClientInfo holds metadata about a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Username    string    `json:"username,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	State       string    `json:"state"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	// ReadFrame blocks until the next data frame arrives.
	ReadFrame() ([]byte, error)
	WriteJSON(v any) error
	// Ping writes a ping control frame. Safe to call concurrently with
	// WriteJSON.
	Ping(deadline time.Time) error
	// OnPong installs the callback run for every pong control frame.
	OnPong(fn func())
	Close() error
}
