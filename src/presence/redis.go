// Package presence mirrors the online list into Redis for tools outside the
// relay process. Nothing reads it back into the hub.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// snapshotEnvelope is what subscribers of the presence channel receive.
type snapshotEnvelope struct {
	InstanceID string           `json:"instance_id"`
	Online     []types.Presence `json:"online"`
	At         time.Time        `json:"at"`
}

// RedisMirror writes each presence snapshot to a hash and a pub/sub channel.
type RedisMirror struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     zerolog.Logger

	mu     sync.RWMutex
	active bool
}

// NewRedisMirror creates a mirror; call Start before use.
func NewRedisMirror(cfg *RedisConfig, instanceID string, logger zerolog.Logger) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisMirror{
		client:     client,
		prefix:     cfg.Prefix,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "redis-presence").Logger(),
	}
}

// Start checks connectivity and marks the mirror available.
func (m *RedisMirror) Start(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	m.logger.Info().
		Str("instance_id", m.instanceID).
		Str("key", m.onlineKey()).
		Msg("redis presence mirror started")
	return nil
}

// Publish replaces the online hash and announces the snapshot.
func (m *RedisMirror) Publish(ctx context.Context, online []types.Presence) error {
	data, err := encodeSnapshot(m.instanceID, online, time.Now())
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.onlineKey())
	if fields := hashFields(online); len(fields) > 0 {
		pipe.HSet(ctx, m.onlineKey(), fields...)
	}
	pipe.Publish(ctx, m.channel(), data)
	_, err = pipe.Exec(ctx)
	return err
}

// Stop clears the hash and closes the Redis connection.
func (m *RedisMirror) Stop() error {
	m.mu.Lock()
	wasActive := m.active
	m.active = false
	m.mu.Unlock()

	if wasActive {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.client.Del(ctx, m.onlineKey()).Err(); err != nil {
			m.logger.Warn().Err(err).Msg("failed to clear online hash")
		}
	}
	return m.client.Close()
}

// Available reports whether the mirror is connected.
func (m *RedisMirror) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *RedisMirror) onlineKey() string { return m.prefix + "online" }
func (m *RedisMirror) channel() string   { return m.prefix + "presence" }

func encodeSnapshot(instanceID string, online []types.Presence, at time.Time) ([]byte, error) {
	if online == nil {
		online = []types.Presence{}
	}
	return json.Marshal(snapshotEnvelope{InstanceID: instanceID, Online: online, At: at})
}

// hashFields flattens the list to userId/username pairs; several
// connections of one user collapse into one field.
func hashFields(online []types.Presence) []any {
	fields := make([]any, 0, len(online)*2)
	seen := make(map[string]bool, len(online))
	for _, p := range online {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		fields = append(fields, p.UserID, p.Username)
	}
	return fields
}
