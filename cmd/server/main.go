// Package main is the entry point for the rebalancing oracle HTTP service.
// It accepts request bundles over HTTP, solves every strategy, journals each
// run in journal.db and optionally copies runs to S3-compatible storage.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/taxoracle/internal/config"
	"github.com/aristath/taxoracle/internal/di"
	"github.com/aristath/taxoracle/internal/server"
	"github.com/aristath/taxoracle/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("version", version).Msg("Starting taxoracle")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	serverCfg := server.Config{
		Log:        log,
		JournalDB:  container.JournalDB,
		Runner:     container.RebalancingService,
		Runs:       container.RunRepo,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		RunTimeout: cfg.Solver.TimeLimit*2 + time.Minute,
		Version:    version,
	}
	if container.Scheduler != nil {
		serverCfg.Maintenance = container.Scheduler
		container.Scheduler.Start()
	}
	srv := server.New(serverCfg)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	log.Info().Msg("Shutting down server...")

	// In-flight runs get up to 30 seconds to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
