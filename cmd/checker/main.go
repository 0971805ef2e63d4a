package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediagate/streamgate/internal/checker"
	"github.com/mediagate/streamgate/internal/config"
	"github.com/mediagate/streamgate/internal/database"
	"github.com/mediagate/streamgate/internal/logging"
	"github.com/mediagate/streamgate/internal/metrics"
	"github.com/mediagate/streamgate/internal/tracing"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.Init("streamgate-checker", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize tracer")
		}
		defer closer.Close()
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	repo := database.NewRepository(db)
	prober := checker.NewProber(cfg.Checker.ProbeTimeout, cfg.Proxy.UserAgent)
	chk := checker.NewChecker(repo, prober, checker.Config{
		Interval:    cfg.Checker.Interval,
		Concurrency: cfg.Checker.Concurrency,
		HostRPS:     cfg.Checker.HostRPS,
		HostBurst:   cfg.Checker.HostBurst,
	}, logger)

	metricsSrv, mux := metrics.NewServer(cfg.Metrics.Port)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chk.Stats())
	})
	go func() {
		if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		chk.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down checker")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("checker did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("metrics server shutdown failed")
	}
}
