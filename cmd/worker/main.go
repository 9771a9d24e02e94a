// Package main provides the background worker entry point. It runs the
// task runtime and the reclaimer without the HTTP surface, for deployments
// that split API serving from background sweeps.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/wearsync/internal/adapter"
	"github.com/wearsync/internal/config"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/orchestrator"
	"github.com/wearsync/internal/session"
	"github.com/wearsync/internal/storage"
	"github.com/wearsync/internal/task"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger().WithField("binary", "worker")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	store, err := storage.NewSessionStore(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer store.Close()

	connectionRepo := storage.NewConnectionRepository(postgres)
	providerClient := adapter.NewProviderClient(&cfg.Provider, logger)

	backfillTracker := session.NewTracker(store, &cfg.Backfill)
	runtime := task.NewRuntime(&cfg.Worker, logger)

	orch := orchestrator.NewOrchestrator(backfillTracker, connectionRepo, providerClient, runtime, &cfg.Backfill, logger)
	reclaimer := orchestrator.NewReclaimer(backfillTracker, store, orch, &cfg.Backfill, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start task runtime")
	}

	runtime.Periodic("reclaimer_sweep", cfg.Backfill.SweepInterval, func(ctx context.Context) error {
		_, err := reclaimer.Sweep(ctx)
		return err
	})

	logger.WithField("sweep_interval", cfg.Backfill.SweepInterval.String()).Info("Worker started")

	<-ctx.Done()

	logger.Info("Shutting down worker...")
	runtime.Stop()
	logger.Info("Worker exited")
}
