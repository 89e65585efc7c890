// Package app wires the storage, core, streaming, and transport layers into a
// runnable server.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/auth"
	"github.com/avoronin/threadcast-server/internal/config"
	"github.com/avoronin/threadcast-server/internal/core"
	"github.com/avoronin/threadcast-server/internal/log"
	"github.com/avoronin/threadcast-server/internal/provider"
	"github.com/avoronin/threadcast-server/internal/store"
	"github.com/avoronin/threadcast-server/internal/store/sqlite"
	"github.com/avoronin/threadcast-server/internal/stream"
	transporthttp "github.com/avoronin/threadcast-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	sessions := &auth.SessionConfig{
		Secret: []byte(cfg.SessionSecret),
		Issuer: "threadcast",
		TTL:    30 * 24 * time.Hour,
	}

	newProvider := func(id provider.ID, apiKey string) (provider.Provider, error) {
		return provider.NewWithOptions(id, apiKey, provider.Options{
			HuggingFaceBaseURL: cfg.HuggingFaceBaseURL,
		})
	}

	registryLog := log.Component(logger, "registry")
	registry := core.NewRegistry(registryLog)

	dispatchLog := log.Component(logger, "dispatch")
	dispatch := core.NewDispatcher(registry, dispatchLog)

	accounts := provider.NewAccounts()

	streamLog := log.Component(logger, "stream")
	streams := stream.NewController(st, dispatch, accounts, streamLog)

	httpLog := log.Component(logger, "http")
	handlers := transporthttp.NewAPIHandlers(st, accounts, dispatch, streams, sessions, newProvider, httpLog)
	ws := transporthttp.NewWSHandler(registry, log.Component(logger, "ws"))

	server := transporthttp.NewServer(cfg, handlers, ws, sessions, accounts, newProvider, httpLog)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
