package presence

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// RedisConfig holds connection settings for the Redis presence mirror.
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	Prefix   string `envconfig:"REDIS_PRESENCE_PREFIX" default:"chatrelay:"`
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "chatrelay:",
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Unset keys take their defaults; malformed values are an error.
func RedisConfigFromEnv() (*RedisConfig, error) {
	var cfg RedisConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load redis config: %w", err)
	}
	return &cfg, nil
}
