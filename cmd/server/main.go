package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wallet-relay/wallet-relay/internal/api"
	"github.com/wallet-relay/wallet-relay/internal/app"
	"github.com/wallet-relay/wallet-relay/internal/auth"
	"github.com/wallet-relay/wallet-relay/internal/config"
	"github.com/wallet-relay/wallet-relay/internal/logger"
	"github.com/wallet-relay/wallet-relay/internal/middleware"
	"github.com/wallet-relay/wallet-relay/internal/risk"
	"github.com/wallet-relay/wallet-relay/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize storage
	var store *storage.Store
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		store, err = storage.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to database")
	case config.BackendMemory:
		store = storage.NewMemory()
		slog.Warn("using in-memory storage, data will not survive restarts")
	default:
		slog.Error("unknown storage backend", "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize application services
	tokens := auth.NewTokenIssuer(cfg.AuthSecret)
	secrets := app.NewHMACSecretProvider(cfg.CustodyMasterSecret)
	custodyService := app.NewCustodyService(store, secrets)
	connectionService := app.NewConnectionService(store, tokens)
	assessor := risk.NewAssessor(store.Relay)
	relayService := app.NewRelayService(store, connectionService, custodyService, assessor, cfg.RequestTTL, cfg.AutoApproveRiskCeiling)

	// Background expiry sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go app.NewSweeper(relayService, cfg.SweepInterval).Run(sweepCtx)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled)

	// Initialize API server
	server := api.NewServer(cfg, custodyService, connectionService, relayService, authMiddleware, rateLimiter)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		stopSweep()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}
