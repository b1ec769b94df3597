// Package api exposes the bridge's HTTP surface: the TradingView webhook
// ingress and the operator control/observation endpoints.
//
// The ingress facade validates inbound payloads, classifies them by
// strategy, journals them, and dispatches to the execution engine under the
// symbol lock. Everything else is a read-mostly projection: status, logs,
// recent webhooks and responses, strategy management, environment control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hyperbridge/internal/balance"
	"hyperbridge/internal/config"
	"hyperbridge/internal/engine"
	"hyperbridge/internal/journal"
	"hyperbridge/internal/strategy"
	"hyperbridge/internal/uptime"
	"hyperbridge/internal/venue"
	"hyperbridge/pkg/types"
)

// VenueSet bundles the per-environment collaborators. Switching testnet ↔
// mainnet builds a fresh set and swaps it in atomically.
type VenueSet struct {
	Env     types.Environment
	Port    venue.Port
	Wallet  string // signing key address
	Master  string // resolved trading account
	Balance *balance.Cache
}

// VenueFactory builds a VenueSet for an environment. Provided by main so the
// server never touches key material directly.
type VenueFactory func(ctx context.Context, env types.Environment) (*VenueSet, error)

// Server runs the HTTP API.
type Server struct {
	cfg      config.Config
	journal  journal.Store
	registry *strategy.Registry
	executor *engine.Executor
	uptime   *uptime.Prober
	factory  VenueFactory
	logger   *slog.Logger

	venueMu  sync.RWMutex
	venueSet *VenueSet

	server    *http.Server
	startedAt time.Time
	restartCh chan struct{}
}

// NewServer wires the handlers and routes.
func NewServer(
	cfg config.Config,
	store journal.Store,
	registry *strategy.Registry,
	executor *engine.Executor,
	prober *uptime.Prober,
	initial *VenueSet,
	factory VenueFactory,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		journal:   store,
		registry:  registry,
		executor:  executor,
		uptime:    prober,
		factory:   factory,
		venueSet:  initial,
		logger:    logger.With("component", "api-server"),
		startedAt: time.Now(),
		restartCh: make(chan struct{}, 1),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/webhook/tradingview", s.handleWebhook)
	mux.HandleFunc("POST /api/webhook/re-execute", s.handleWebhook)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("DELETE /api/logs", s.handleClearLogs)
	mux.HandleFunc("GET /api/webhooks", s.handleWebhooks)
	mux.HandleFunc("GET /api/responses", s.handleResponses)

	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/strategies/ids", s.handleStrategyIDs)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleStrategy)
	mux.HandleFunc("POST /api/strategies/{id}/toggle", s.handleStrategyToggle)

	mux.HandleFunc("GET /api/environment", s.handleGetEnvironment)
	mux.HandleFunc("POST /api/environment", s.handleSetEnvironment)
	mux.HandleFunc("POST /api/restart", s.handleRestart)
	mux.HandleFunc("POST /api/reset-uptime-stats", s.handleResetUptime)

	mux.HandleFunc("GET /api/orders/history", s.handleOrderHistory)
	mux.HandleFunc("GET /api/orders/open", s.handleOpenOrders)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      corsAll(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start serves until Stop. Blocks.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// RestartRequested fires once when an operator posts /api/restart.
func (s *Server) RestartRequested() <-chan struct{} {
	return s.restartCh
}

// Venue returns the active venue set.
func (s *Server) Venue() *VenueSet {
	s.venueMu.RLock()
	defer s.venueMu.RUnlock()
	return s.venueSet
}

// corsAll permits any origin: the bridge sits behind operator tooling hosted
// wherever the operator likes.
func corsAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
