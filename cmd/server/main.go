package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/api"
	"github.com/syncspace-live/syncspace/internal/chat"
	"github.com/syncspace-live/syncspace/internal/config"
	"github.com/syncspace-live/syncspace/internal/control"
	"github.com/syncspace-live/syncspace/internal/crdt"
	"github.com/syncspace-live/syncspace/internal/presence"
	"github.com/syncspace-live/syncspace/internal/session"
	"github.com/syncspace-live/syncspace/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the message store: PostgreSQL when configured, SQLite
	// otherwise (development).
	var messages store.MessageStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		messages = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		messages = sqliteStore
		logger.Info().Msg("using SQLite store")
	}
	defer messages.Close()

	// Initialize the Redis presence store
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// Wire the engine: session registry, control hub, chat pipeline,
	// presence coordinator.
	registry := session.NewRegistry(crdt.NewUpdateLogDocument, messages, cfg.MaxSessions, logger)
	hub := control.NewHub(logger)
	pipeline := chat.NewPipeline(messages, hub, logger)
	coordinator := presence.NewCoordinator(redisStore, hub, logger)

	router := api.NewRouter(api.Deps{
		Logger:        logger,
		Chat:          pipeline,
		Presence:      coordinator,
		Registry:      registry,
		Hub:           hub,
		AllowedOrigin: cfg.AllowedOrigin,
	})

	// Create server. No read/write timeouts: the realtime channels hold
	// connections open until the transport reports disconnect.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting syncspace server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
