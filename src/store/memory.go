package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local message store. It backs tests and runs when no
// MongoDB URI is configured.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Create(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	msg.ID = uuid.New().String()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *Memory) Conversation(_ context.Context, a, b string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Message
	for _, msg := range m.messages {
		if (msg.Sender == a && msg.Recipient == b) || (msg.Sender == b && msg.Recipient == a) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// All returns a copy of every stored message in insertion order.
func (m *Memory) All() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make([]Message, len(m.messages))
	copy(cp, m.messages)
	return cp
}

// MemoryBlobs keeps attachments in memory.
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobs creates an empty in-memory blob store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

func (b *MemoryBlobs) Put(_ context.Context, name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[name]; ok {
		return "", fmt.Errorf("%w: %s already exists", ErrStoreWrite, name)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blobs[name] = cp
	return name, nil
}

// Get returns the stored bytes for a reference.
func (b *MemoryBlobs) Get(name string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[name]
	return data, ok
}
