package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// SocketConfig holds the relay server configuration.
type SocketConfig struct {
	Addr               string        `envconfig:"RELAY_ADDR" default:":4040"`
	LogLevel           string        `envconfig:"RELAY_LOG_LEVEL" default:"info"`
	ClientURL          string        `envconfig:"RELAY_CLIENT_URL"`
	MaxConnections     int           `envconfig:"RELAY_MAX_CONNECTIONS" default:"1000"`
	PingInterval       time.Duration `envconfig:"RELAY_PING_INTERVAL" default:"5s"`
	PongTimeout        time.Duration `envconfig:"RELAY_PONG_TIMEOUT" default:"1s"`
	WriteTimeout       time.Duration `envconfig:"RELAY_WRITE_TIMEOUT" default:"10s"`
	ReadBufferSize     int           `envconfig:"RELAY_READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize    int           `envconfig:"RELAY_WRITE_BUFFER_SIZE" default:"1024"`
	SendBuffer         int           `envconfig:"RELAY_SEND_BUFFER" default:"256"`
	MaxAttachmentBytes int64         `envconfig:"RELAY_MAX_ATTACHMENT_BYTES" default:"10485760"`
	AllowAnonymous     bool          `envconfig:"RELAY_ALLOW_ANONYMOUS" default:"false"`
	UploadDir          string        `envconfig:"RELAY_UPLOAD_DIR" default:"uploads"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	MongoURI         string `envconfig:"MONGO_URI"`
	MongoDatabase    string `envconfig:"MONGO_DATABASE" default:"chat"`
	MongoMaxPoolSize uint64 `envconfig:"MONGO_MAX_POOL_SIZE" default:"20"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		Addr:               ":4040",
		LogLevel:           "info",
		MaxConnections:     1000,
		PingInterval:       5 * time.Second,
		PongTimeout:        time.Second,
		WriteTimeout:       10 * time.Second,
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
		SendBuffer:         256,
		MaxAttachmentBytes: 10 << 20,
		UploadDir:          "uploads",
		MongoDatabase:      "chat",
		MongoMaxPoolSize:   20,
	}
}

// Load reads the configuration from the environment.
func Load() (*SocketConfig, error) {
	var cfg SocketConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the heartbeat or transport cannot work with.
func (c *SocketConfig) Validate() error {
	if c.PingInterval <= 0 {
		return fmt.Errorf("RELAY_PING_INTERVAL must be positive, got %s", c.PingInterval)
	}
	if c.PongTimeout <= 0 || c.PongTimeout >= c.PingInterval {
		return fmt.Errorf("RELAY_PONG_TIMEOUT must be positive and shorter than RELAY_PING_INTERVAL, got %s", c.PongTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("RELAY_WRITE_TIMEOUT must be positive, got %s", c.WriteTimeout)
	}
	return nil
}

// ReadLimit bounds one inbound frame: a base64 attachment at the size limit
// plus room for the JSON envelope and a data URL prefix.
func (c *SocketConfig) ReadLimit() int64 {
	if c.MaxAttachmentBytes <= 0 {
		return 0
	}
	return c.MaxAttachmentBytes*4/3 + 64<<10
}
