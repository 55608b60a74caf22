// Command study runs the forecast aggregation simulation study.
//
// The study pipeline:
//  1. Simulates regression datasets with a known ideal forecast
//  2. Fits an ensemble of post-processing models per (scenario, replicate)
//  3. Aggregates the members with the linear pool and Vincentization variants
//  4. Scores everything against the held-out test observations
//  5. Persists per-instance records and writes panel/skill/best CSV tables
//
// While running, the binary serves an HTTP API providing:
//   - GET /results?dataset=<name>&nn=<type>&sim=<n> - Stored evaluation records
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	study \
//	  -experiment=experiment.yaml \
//	  -output-dir=results \
//	  -storage=memory
//
// Environment variables:
//
//	LISTEN             - HTTP listen address (default: :8082)
//	STORAGE            - Storage backend: memory or redis (default: memory)
//	REDIS_ADDR         - Redis server address
//	EXPERIMENT_FILE    - Experiment YAML file
//	OUTPUT_DIR         - Directory for CSV outputs (default: results)
//	ENSAGG_REPLICATES  - Override the number of replicates
//	ENSAGG_WORKERS     - Override the worker count
//	LOG_LEVEL          - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT         - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/ensagg/cmd/study/config"
	"github.com/HatiCode/ensagg/cmd/study/logger"
	"github.com/HatiCode/ensagg/cmd/study/metrics"
	"github.com/HatiCode/ensagg/cmd/study/router"
	"github.com/HatiCode/ensagg/cmd/study/store"
	"github.com/HatiCode/ensagg/pkg/httpx"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting ensagg study", "version", version)

	exp, err := config.LoadExperiment(cfg)
	if err != nil {
		logger.Error("invalid experiment", "error", err)
		os.Exit(1)
	}

	st := store.New(cfg, logger)
	if closer, ok := st.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	study := NewStudy(exp, st, logger, metrics.New(), cfg.OutputDir)

	mux := router.SetupRoutes(st, logger)
	httpServer := httpx.NewServer(cfg.Listen, mux, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	studyDone := make(chan error, 1)
	go func() {
		studyDone <- study.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	case err := <-studyDone:
		if err != nil {
			logger.Error("study failed", "error", err)
		}
		// Keep serving results until interrupted.
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
