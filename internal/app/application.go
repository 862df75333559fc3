// Package app wires the relay's components and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"nightingale/internal/api"
	"nightingale/internal/broadcast"
	"nightingale/internal/config"
	"nightingale/internal/ledger"
	"nightingale/internal/ratelimit"
	"nightingale/internal/registry"
	"nightingale/internal/session"
	"nightingale/internal/ws"
)

const limiterCleanupInterval = 5 * time.Minute

// Application holds every long-lived component. Construction order follows
// the dependency chain: ledger, registry, limiter, broadcaster, coordinator,
// transport, API.
type Application struct {
	config      *config.Config
	ledger      *ledger.Manager
	registry    *registry.Registry
	limiter     *ratelimit.Limiter
	coordinator *session.Coordinator
	httpServer  *http.Server
	stopCleanup chan struct{}
}

// New builds a fully wired application from cfg.
func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	led, err := ledger.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	reg := registry.New()
	limiter := ratelimit.New()
	broadcaster := broadcast.New(reg, led)

	limits := session.Limits{
		ConnMaxRequests: cfg.RateLimit.ConnMaxRequests,
		ConnWindow:      cfg.RateLimit.ConnWindow,
		MsgMaxRequests:  cfg.RateLimit.MsgMaxRequests,
		MsgWindow:       cfg.RateLimit.MsgWindow,
	}
	coordinator := session.NewCoordinator(reg, led, broadcaster, limiter, limits)

	wsHandler := ws.NewHandler(coordinator, ws.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})
	apiServer := api.NewServer(led, reg, broadcaster)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{user_id}", wsHandler.HandleWebSocket)
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		ledger:      led,
		registry:    reg,
		limiter:     limiter,
		coordinator: coordinator,
		httpServer:  httpServer,
		stopCleanup: make(chan struct{}),
	}, nil
}

// Start begins serving and returns once the listener is up.
func (a *Application) Start() error {
	log.Info().Str("addr", a.httpServer.Addr).Msg("starting nightingale relay")

	go a.limiterCleanupLoop()

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-time.After(100 * time.Millisecond):
		log.Info().Msg("relay started")
		return nil
	}
}

// Stop drains the HTTP server, then closes the ledger.
func (a *Application) Stop(ctx context.Context) error {
	log.Info().Msg("stopping relay")

	close(a.stopCleanup)
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	return a.ledger.Close()
}

// limiterCleanupLoop reclaims idle rate-limiter keys; Admit only prunes the
// key it touches.
func (a *Application) limiterCleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.limiter.Cleanup(limiterCleanupInterval)
		case <-a.stopCleanup:
			return
		}
	}
}
