package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/api"
	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/dex"
	"github.com/speedrun-hq/swaprunner/pkg/executor"
	"github.com/speedrun-hq/swaprunner/pkg/health"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/notify"
	"github.com/speedrun-hq/swaprunner/pkg/repository"
	"github.com/speedrun-hq/swaprunner/pkg/scheduler"
)

const (
	shutdownTimeout = 15 * time.Second
	queueGCInterval = 5 * time.Minute
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := newLogger(cfg.LoggerConfig)
	if zl, ok := appLogger.(*logger.ZapLogger); ok {
		defer func() { _ = zl.Sync() }()
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := openRepository(cfg.Storage, appLogger)
	if err != nil {
		log.Fatalf("Failed to open order storage: %v", err)
	}
	defer repo.Close()

	store, err := scheduler.NewBadgerStore(cfg.Storage.QueuePath, appLogger)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer store.Close()
	if cfg.Storage.QueuePath != "" {
		go store.RunGC(ctx, queueGCInterval)
	}

	router := dex.NewSimulatedRouter(cfg.Venues, cfg.CircuitBreaker, appLogger)
	hub := notify.NewHub(appLogger)
	service := executor.NewService(cfg.Scheduler, repo, router, hub, appLogger, executor.WithJobStore(store))

	apiServer := api.NewServer(service, cfg.CORSAllowedOrigins, appLogger)
	healthServer := health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, repo, service.Scheduler(), router.Breakers(), appLogger)

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	if err := service.Start(ctx); err != nil {
		log.Fatalf("Failed to start order executor: %v", err)
	}

	go func() {
		if err := healthServer.Start(); err != nil {
			appLogger.Error("Health server error: %v", err)
		}
	}()
	go func() {
		if err := apiServer.Start(":" + cfg.Port); err != nil {
			appLogger.Error("API server error: %v", err)
			cancel()
		}
	}()

	appLogger.Info("Swap order service running on port %s (metrics on %s)", cfg.Port, cfg.MetricsPort)
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("API server shutdown: %v", err)
	}
	service.Wait()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Health server shutdown: %v", err)
	}
	appLogger.Info("Shutdown complete")
}

func newLogger(cfg config.LoggerConfig) logger.Logger {
	if cfg.Format == "json" {
		zl, err := logger.NewZapLogger(cfg.Level)
		if err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}
		return zl
	}
	return logger.NewStdLogger(cfg.Coloring, cfg.Level)
}

func openRepository(cfg config.StorageConfig, log logger.Logger) (repository.Repository, error) {
	if cfg.Driver == config.StorageMemory {
		log.Notice("Using in-memory order storage, orders are lost on restart")
		return repository.NewMemoryRepository(), nil
	}
	return repository.Open(cfg, log)
}
