package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/chatrelay/config"
	"github.com/orchestra-mcp/chatrelay/src/attachment"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/identity"
	"github.com/orchestra-mcp/chatrelay/src/presence"
	"github.com/orchestra-mcp/chatrelay/src/router"
	"github.com/orchestra-mcp/chatrelay/src/server"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

// messageBackend is what the relay needs from a message store.
type messageBackend interface {
	store.MessageStore
	store.HistoryStore
}

func run() error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages, closeMessages, err := openMessages(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMessages()

	uploads, err := store.NewDisk(cfg.UploadDir)
	if err != nil {
		return err
	}

	h := hub.New(hub.Options{
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		SendBuffer:   cfg.SendBuffer,
	}, logger)
	ingestor := attachment.New(uploads, cfg.MaxAttachmentBytes, logger)
	h.SetRouter(router.New(h.Registry(), messages, ingestor, logger))

	// Redis is optional; the hub runs without a mirror if it is unreachable.
	rcfg, err := presence.RedisConfigFromEnv()
	if err != nil {
		return err
	}
	if rcfg.Enabled {
		mirror := presence.NewRedisMirror(rcfg, uuid.New().String(), logger)
		if err := mirror.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis presence mirror unavailable")
		} else {
			h.SetMirror(mirror)
			defer func() {
				if err := mirror.Stop(); err != nil {
					logger.Error().Err(err).Msg("redis mirror stop error")
				}
			}()
		}
	}

	svc := service.New(h, messages, logger)
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET is empty, every handshake will be unauthenticated")
	}
	srv := server.New(cfg, svc, identity.NewJWTResolver([]byte(cfg.JWTSecret)), uploads, logger)
	return srv.ListenAndServe(ctx)
}

func openMessages(ctx context.Context, cfg *config.SocketConfig, logger zerolog.Logger) (messageBackend, func(), error) {
	if cfg.MongoURI == "" {
		logger.Warn().Msg("MONGO_URI is empty, messages are kept in memory only")
		return store.NewMemory(), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	m, err := store.NewMongo(connectCtx, store.MongoConfig{
		URI:         cfg.MongoURI,
		Database:    cfg.MongoDatabase,
		MaxPoolSize: cfg.MongoMaxPoolSize,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("database", cfg.MongoDatabase).Msg("mongo connected")
	return m, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("mongo disconnect error")
		}
	}, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "chatrelay").Logger()
}
