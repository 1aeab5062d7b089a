package hub

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
)

const mirrorTimeout = 2 * time.Second

// Presence pushes the full online list to every connection.
type Presence struct {
	registry *Registry
	mirror   Mirror
	logger   zerolog.Logger

	mu  sync.Mutex // orders broadcasts
	seq uint64

	mirrorMu sync.Mutex
	mirrored uint64
}

func newPresence(reg *Registry, logger zerolog.Logger) *Presence {
	return &Presence{
		registry: reg,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// NotifyAll takes a registry snapshot and queues it on every live
// connection, then hands it to the mirror. It returns the snapshot sent.
func (p *Presence) NotifyAll() []types.Presence {
	p.mu.Lock()
	online, clients := p.registry.view()
	frame := types.PresenceFrame{Online: online}
	for _, c := range clients {
		if !c.Enqueue(frame) {
			p.logger.Warn().Str("client_id", c.ID).Msg("presence dropped")
		}
	}
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	p.publish(seq, online)
	return online
}

// publish forwards a snapshot to the mirror unless a newer one already went.
func (p *Presence) publish(seq uint64, online []types.Presence) {
	if p.mirror == nil || !p.mirror.Available() {
		return
	}
	p.mirrorMu.Lock()
	defer p.mirrorMu.Unlock()
	if seq <= p.mirrored {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := p.mirror.Publish(ctx, online); err != nil {
		p.logger.Error().Err(err).Msg("presence mirror publish failed")
		return
	}
	p.mirrored = seq
}
