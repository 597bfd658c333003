package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ric-platform/a1-mediator/pkg/api/handlers"
	"github.com/ric-platform/a1-mediator/pkg/api/middleware"
	"github.com/ric-platform/a1-mediator/pkg/config"
	"github.com/ric-platform/a1-mediator/pkg/ei"
	"github.com/ric-platform/a1-mediator/pkg/logger"
	"github.com/ric-platform/a1-mediator/pkg/metrics"
	"github.com/ric-platform/a1-mediator/pkg/registry"
	"github.com/ric-platform/a1-mediator/pkg/rmr"
	"github.com/ric-platform/a1-mediator/pkg/store"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional; environment variables apply on top)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	metrics.Init()

	log := logger.NewLogger(logger.Config{
		Level:  cfg.Mediator.Logging.Level,
		Format: cfg.Mediator.Logging.Format,
	})

	log.Info("Starting A1 mediator",
		slog.String("version", Version),
		slog.String("git_commit", GitCommit),
		slog.String("build_date", BuildDate),
		slog.String("storage_type", cfg.Mediator.Storage.Type),
		slog.Int("api_port", cfg.Mediator.Server.APIPort),
		slog.Int("bus_port", cfg.Mediator.Bus.Port),
		slog.String("ei_coordinator", cfg.Mediator.EI.CoordinatorURL))

	// Initialize storage based on type
	var db store.Store
	switch cfg.Mediator.Storage.Type {
	case "redis":
		log.Info("Initializing Redis store", slog.String("addr", cfg.Mediator.Storage.Redis.Addr))
		db = store.NewRedisStore(cfg.Mediator.Storage.Redis.Addr, log)
	case "sqlite":
		log.Info("Initializing SQLite store", slog.String("path", cfg.Mediator.Storage.SQLite.Path))
		db, err = store.NewSQLiteStore(cfg.Mediator.Storage.SQLite.Path, log)
		if err != nil {
			log.Error("Failed to initialize SQLite store", slog.Any("error", err))
			os.Exit(1)
		}
	case "memory":
		log.Info("Running with the in-memory store (no persistence)")
		db = store.NewMemoryStore()
	default:
		log.Error("Unknown storage type", slog.String("type", cfg.Mediator.Storage.Type))
		os.Exit(1)
	}
	defer db.Close()

	reg := registry.NewPolicyRegistry(db, log,
		time.Duration(cfg.Mediator.Delete.RespTTLSeconds)*time.Second,
		time.Duration(cfg.Mediator.Delete.NoRespTTLSeconds)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Finalizer().Start(ctx)
	defer reg.Finalizer().Stop()

	bus := rmr.NewChanBus()
	bridge := ei.NewBridge(cfg.Mediator.EI.CoordinatorURL, log)

	loop := rmr.NewLoop(bus, reg, bridge, log, cfg.Mediator.Bus.RetryTimes)
	if err := loop.Start(ctx); err != nil {
		log.Error("Failed to start bus loop", slog.Any("error", err))
		os.Exit(1)
	}
	defer loop.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.CorrelationIDMiddleware(log),
		middleware.MetricsMiddleware(),
		middleware.ErrorHandlingMiddleware(log),
	)

	server := handlers.NewAPIServer(reg, loop, db, log)
	server.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Mediator.Server.APIPort),
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", slog.Any("error", err))
	}

	log.Info("Shutdown complete")
}
