// Hyperbridge — a TradingView → Hyperliquid signal bridge.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	api/server.go        — HTTP surface: webhook ingress + operator control/observation endpoints
//	engine/engine.go     — the signal-to-orders state machine (reversal, entry, stop, TPs, fallback)
//	venue/client.go      — Hyperliquid HTTP adapter: info reads + signed exchange actions
//	venue/signer.go      — EIP-712 phantom-agent signing of msgpack-encoded actions
//	venue/resolver.go    — agent-key → master-account resolution
//	precision/           — size truncation and side-aware price snapping per symbol metadata
//	journal/             — append-only event journal (MongoDB, memory fallback)
//	strategy/registry.go — named rule-sets, auto-discovery, per-strategy counters
//	symlock/             — per-symbol exclusive locks serializing order flow
//	balance/             — 30s TTL equity snapshot with single-flight refresh
//	uptime/              — external reachability prober on a 5s cadence
//
// A signal webhook becomes: optional flatten of an opposing position (with a
// reduce-only fallback when the venue's close path answers null), the entry,
// a protective stop, and tiered take-profits — all journaled, all serialized
// per symbol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hyperbridge/internal/api"
	"hyperbridge/internal/balance"
	"hyperbridge/internal/config"
	"hyperbridge/internal/engine"
	"hyperbridge/internal/journal"
	"hyperbridge/internal/strategy"
	"hyperbridge/internal/symlock"
	"hyperbridge/internal/uptime"
	"hyperbridge/internal/venue"
	"hyperbridge/pkg/types"
)

func main() {
	// .env is a convenience for local runs; deployments set real env vars.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Journal: Mongo when reachable, memory otherwise. The bridge keeps
	// serving either way; journaling is not allowed to block order flow.
	var store journal.Store
	var persister strategy.Persister

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	mongoStore, err := journal.OpenMongo(connectCtx, cfg.Database.URL, cfg.Database.Name)
	connectCancel()
	if err != nil {
		logger.Warn("document store unreachable, journaling in memory", "error", err)
		store = journal.NewMemoryStore()
	} else {
		mongoStore.MaxSeq(ctx)
		store = mongoStore
		persister = strategy.NewMongoPersister(mongoStore.Database())
		logger.Info("document store connected", "db", cfg.Database.Name)
	}

	registry, err := strategy.NewRegistry(ctx, persister, logger)
	if err != nil {
		logger.Error("failed to load strategy registry", "error", err)
		os.Exit(1)
	}

	locks := symlock.NewManager(cfg.Server.LockTimeout)
	executor := engine.NewExecutor(store, registry, locks, logger)
	prober := uptime.NewProber(cfg.Uptime.ProbeURL, cfg.Uptime.Interval, logger)

	// buildVenue constructs the per-environment set: signed client, resolved
	// master account, fresh balance cache.
	buildVenue := func(ctx context.Context, env types.Environment) (*api.VenueSet, error) {
		key, err := cfg.KeyFor(env)
		if err != nil {
			return nil, err
		}
		client, err := venue.NewClient(env, key, cfg.DryRun, logger)
		if err != nil {
			return nil, err
		}

		resolver := venue.NewResolver(client, logger)
		master, err := resolver.Resolve(ctx, client.SignerAddress())
		if err != nil {
			return nil, err
		}
		client.SetAccount(master)

		return &api.VenueSet{
			Env:     env,
			Port:    client,
			Wallet:  client.SignerAddress(),
			Master:  master,
			Balance: balance.NewCache(client, client.Account, balance.DefaultTTL),
		}, nil
	}

	initialCtx, initialCancel := context.WithTimeout(ctx, 15*time.Second)
	venueSet, err := buildVenue(initialCtx, cfg.ActiveEnvironment())
	initialCancel()
	if err != nil {
		logger.Error("failed to initialize venue", "error", err, "environment", cfg.Environment)
		os.Exit(1)
	}

	server := api.NewServer(*cfg, store, registry, executor, prober, venueSet, buildVenue, logger)

	go prober.Run(ctx)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("hyperbridge started",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"wallet", venueSet.Wallet,
		"account", venueSet.Master,
		"dry_run", cfg.DryRun,
	)
	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	// Wait for shutdown: a signal, an operator restart request, or a fatal
	// server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	restart := false
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-server.RestartRequested():
		logger.Info("operator requested restart")
		restart = true
	case <-ctx.Done():
	}

	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Close(closeCtx); err != nil {
		logger.Error("failed to close journal", "error", err)
	}
	closeCancel()

	logger.Info("shutdown complete")
	if restart {
		// Exit clean so the supervisor restarts the process.
		fmt.Fprintln(os.Stderr, "restarting")
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
