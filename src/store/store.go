// Package store holds the durable collaborators of the relay: the message
// store and the attachment blob store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStoreWrite wraps every persistence failure.
var ErrStoreWrite = errors.New("store write failed")

// Message is a persisted chat message. At least one of Text and File is set.
type Message struct {
	ID        string    `json:"_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageStore persists messages. The store assigns ID and CreatedAt.
type MessageStore interface {
	Create(ctx context.Context, msg Message) (string, error)
}

// HistoryStore reads back a two-party conversation ordered by CreatedAt.
type HistoryStore interface {
	Conversation(ctx context.Context, a, b string) ([]Message, error)
}

// BlobStore persists attachment bytes under a caller-chosen name and returns
// the reference clients use to fetch them.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}
