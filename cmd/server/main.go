package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/poolwarden/poolwarden/internal/api"
	"github.com/poolwarden/poolwarden/internal/backend"
	"github.com/poolwarden/poolwarden/internal/cache"
	"github.com/poolwarden/poolwarden/internal/config"
	"github.com/poolwarden/poolwarden/internal/metrics"
	"github.com/poolwarden/poolwarden/internal/pool"
	"github.com/poolwarden/poolwarden/internal/queue"
	"github.com/poolwarden/poolwarden/internal/store"
	"github.com/poolwarden/poolwarden/pkg/logging"
)

func main() {
	// Load .env file if present (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := config.Load()

	// Initialize structured logger
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector()

	logger.Info("Starting poolwarden", "pool", cfg.Pool.Name, "backend", cfg.Backend.Mode)

	// Create durable state store
	var st store.Store
	switch cfg.Store.Driver {
	case "bolt":
		boltStore, err := store.NewBoltStore(cfg.Store.BoltPath, cfg.Pool.Name)
		if err != nil {
			logger.Fatal("Failed to open bolt store", "error", err)
		}
		st = boltStore
	case "valkey":
		fallthrough
	default:
		valkeyStore, err := store.NewValkeyStore(&cfg.Store, cfg.Pool.Name)
		if err != nil {
			logger.Fatal("Failed to connect to Valkey", "error", err)
		}
		st = valkeyStore
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		logger.Fatal("State store unreachable", "error", err)
	}

	// Create instance backend based on configuration
	var adapter backend.Adapter
	switch cfg.Backend.Mode {
	case "podman":
		podmanAdapter, err := backend.NewPodmanAdapter(&cfg.Backend, logger)
		if err != nil {
			logger.Fatal("Failed to create Podman adapter", "error", err)
		}
		adapter = podmanAdapter
	case "docker":
		fallthrough
	default:
		dockerAdapter, err := backend.NewDockerAdapter(&cfg.Backend, logger)
		if err != nil {
			logger.Fatal("Failed to create Docker adapter", "error", err)
		}
		adapter = dockerAdapter
	}

	// Optional identity lookup cache
	var lookup cache.Lookup
	if cfg.Cache.Enabled {
		valkeyLookup, err := cache.NewValkeyLookup(&cfg.Cache, cfg.Pool.Name)
		if err != nil {
			logger.Fatal("Failed to create lookup cache", "error", err)
		}
		defer valkeyLookup.Close()
		lookup = valkeyLookup
		logger.Info("Lookup cache enabled", "addr", cfg.Cache.ValkeyAddr)
	}

	// Optional NATS event publisher
	var events pool.EventSink
	var publisher *queue.NATSPublisher
	if cfg.Queue.Enabled {
		var err error
		publisher, err = queue.NewNATSPublisher(&cfg.Queue)
		if err != nil {
			logger.Fatal("Failed to create NATS publisher", "error", err)
		}
		defer publisher.Close()
		events = publisher
		logger.Info("Connected to NATS JetStream", "stream", cfg.Queue.StreamName)
	}

	// Create pool scheduler
	poolCfg := pool.Config{
		WarmTarget:      cfg.Pool.WarmTarget,
		RefreshInterval: cfg.Pool.RefreshInterval,
		Mode:            pool.Mode(cfg.Pool.Mode),
		AcquireTimeout:  cfg.Pool.AcquireTimeout,
	}
	scheduler, err := pool.New(poolCfg, st, adapter, lookup, events, logger, metricsCollector)
	if err != nil {
		logger.Fatal("Failed to create pool scheduler", "error", err)
	}

	// Optional NATS consumer for out-of-band stopped reports
	if cfg.Queue.Enabled {
		handlers := queue.NewHandlers(scheduler, logger)
		consumer, err := queue.NewNATSConsumer(&cfg.Queue, handlers.StoppedHandler)
		if err != nil {
			logger.Fatal("Failed to create NATS consumer", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start NATS consumer", "error", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			consumer.Stop(stopCtx)
		}()
	}

	// Start reconciliation loop
	if err := scheduler.StartReconciler(ctx); err != nil {
		logger.Fatal("Failed to start reconciler", "error", err)
	}
	defer scheduler.StopReconciler()

	// Start metrics gauge updater
	gaugeCtx, cancelGauge := context.WithCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic in metrics updater",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gaugeCtx.Done():
				return
			case <-ticker.C:
				stats := scheduler.Stats()
				metricsCollector.PoolWarm.Set(float64(stats.Warm))
				metricsCollector.PoolAssigned.Set(float64(stats.Assigned))
				metricsCollector.PoolWarming.Set(float64(stats.Warming))
				metricsCollector.PoolTarget.Set(float64(stats.WarmTarget))
				if stats.Ceiling != nil {
					metricsCollector.PoolCeiling.Set(float64(*stats.Ceiling))
				} else {
					metricsCollector.PoolCeiling.Set(0)
				}
			}
		}
	}()
	defer cancelGauge()

	// Create API handler
	handler := api.NewHandler(cfg, scheduler, metricsCollector, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Channel to receive server errors from goroutine
	serverErrCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			serverErrCh <- err
		}
	}()

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig)
	case err := <-serverErrCh:
		logger.Error("Server failed, initiating shutdown", "error", err)
	}

	logger.Info("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}
