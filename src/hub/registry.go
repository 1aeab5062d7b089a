package hub

import (
	"errors"
	"sort"
	"sync"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

var (
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrUnknownConnection   = errors.New("unknown connection")
)

// Registry is the set of live connections, indexed by handle and by user.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client // userID -> set of handles
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
	}
}

// Add inserts a client keyed by its handle.
func (r *Registry) Add(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID]; ok {
		return ErrDuplicateConnection
	}
	r.clients[c.ID] = c
	if id, ok := c.Identity(); ok {
		r.index(id.UserID, c)
	}
	return nil
}

// Bind sets the identity of a registered client and indexes it by user.
func (r *Registry) Bind(handle string, id types.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[handle]
	if !ok {
		return ErrUnknownConnection
	}
	if err := c.setIdentity(id); err != nil {
		return err
	}
	r.index(id.UserID, c)
	return nil
}

func (r *Registry) index(userID string, c *Client) {
	set := r.byUser[userID]
	if set == nil {
		set = make(map[string]*Client)
		r.byUser[userID] = set
	}
	set[c.ID] = c
}

// Remove deletes a client. It reports whether this call removed it, so only
// one caller ever runs the cleanup for a handle.
func (r *Registry) Remove(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[handle]
	if !ok {
		return false
	}
	delete(r.clients, handle)
	if id, ok := c.Identity(); ok {
		if set := r.byUser[id.UserID]; set != nil {
			delete(set, handle)
			if len(set) == 0 {
				delete(r.byUser, id.UserID)
			}
		}
	}
	return true
}

// FindByUser returns every live connection of a user.
func (r *Registry) FindByUser(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Snapshot returns the identity-resolved connections at one instant.
func (r *Registry) Snapshot() []types.Presence {
	online, _ := r.view()
	return online
}

// Clients returns all registered clients, authenticated or not.
func (r *Registry) Clients() []*Client {
	_, clients := r.view()
	return clients
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// view takes the online list and the delivery targets under one lock so a
// broadcast never pairs a snapshot with a different membership.
func (r *Registry) view() ([]types.Presence, []*Client) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].connectedAt.Before(clients[j].connectedAt)
	})
	online := make([]types.Presence, 0, len(clients))
	for _, c := range clients {
		if id, ok := c.Identity(); ok {
			online = append(online, id)
		}
	}
	return online, clients
}
