// anomalyd - transaction anomaly scoring service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/api"
	"github.com/eelnxz09/anamoly-processing/internal/bus"
	"github.com/eelnxz09/anamoly-processing/internal/cache"
	"github.com/eelnxz09/anamoly-processing/internal/domain"
	"github.com/eelnxz09/anamoly-processing/internal/rules"
	"github.com/eelnxz09/anamoly-processing/internal/scoring"
	"github.com/eelnxz09/anamoly-processing/internal/warehouse"
	"github.com/eelnxz09/anamoly-processing/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("ANOMALYD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting anomalyd",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for cluster deployment via environment
	if os.Getenv("ANOMALYD_CLUSTER") == "true" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}

	slog.Info("configuration loaded",
		"warehouse", cfg.Warehouse.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ensemble", cfg.Detector.UseEnsemble,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Warehouse
	wh, err := warehouse.New(cfg.Warehouse)
	if err != nil {
		slog.Error("failed to initialize warehouse", "error", err)
		os.Exit(1)
	}
	defer wh.Close()
	slog.Info("warehouse initialized", "driver", cfg.Warehouse.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Initialize Scoring Service
	svc, err := scoring.NewService(cfg.Detector, cfg.Ingest.MinBatchRows, wh, cacheImpl, busImpl, engine, logger)
	if err != nil {
		slog.Error("failed to initialize scoring service", "error", err)
		os.Exit(1)
	}

	// Load screening rules from the warehouse, or fall back to builtins
	if err := svc.ReloadRules(ctx); err != nil {
		slog.Error("failed to load screening rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.Count())

	// Restore the latest persisted model, if one exists
	if err := svc.LoadLatestArtifact(); err != nil {
		slog.Warn("failed to restore model artifact, starting untrained", "error", err)
	}
	if svc.Trained() {
		slog.Info("model restored from artifact", "dir", cfg.Detector.ModelDir)
	} else {
		slog.Info("no model artifact found, starting untrained")
	}

	// Initialize source poller
	poller := worker.NewPoller(svc, time.Duration(cfg.Ingest.PollIntervalSecs)*time.Second)
	poller.Start()
	defer poller.Stop()
	slog.Info("source poller started", "interval_secs", cfg.Ingest.PollIntervalSecs)

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, poller, wh, cacheImpl, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("anomalyd is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("anomalyd shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  anomalyd - transaction anomaly scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /upload/csv                - Upload a transaction batch")
	fmt.Println("    POST /sources                   - Register a polled row source")
	fmt.Println("    GET  /sources                   - List registered sources")
	fmt.Println("    POST /train                     - Fit a fresh model")
	fmt.Println("    GET  /analyze                   - Score stored transactions")
	fmt.Println("    GET  /transactions              - List stored transactions")
	fmt.Println("    GET  /transactions/{id}/explain - Explain one assessment")
	fmt.Println("    GET  /statistics                - Warehouse aggregates")
	fmt.Println("    GET  /rules                     - List screening rules")
	fmt.Println("    POST /rules                     - Create a screening rule")
	fmt.Println("    POST /rules/reload              - Hot-reload rules")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
