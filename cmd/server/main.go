// Package main provides the API server entry point for the wearable sync service.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/wearsync/internal/adapter"
	"github.com/wearsync/internal/api"
	"github.com/wearsync/internal/config"
	"github.com/wearsync/internal/ingest"
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
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	store, err := storage.NewSessionStore(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer store.Close()

	logger.Info("Database connections established")

	// Repositories and sinks
	connectionRepo := storage.NewConnectionRepository(postgres)
	recordRepo := storage.NewRecordRepository(postgres)
	sampleRepo := storage.NewSampleRepository(clickhouse)

	providerClient := adapter.NewProviderClient(&cfg.Provider, logger)
	ingestService := ingest.NewService(recordRepo, sampleRepo, logger)

	// Session trackers and task runtime
	backfillTracker := session.NewTracker(store, &cfg.Backfill)
	syncTracker := session.NewSyncTracker(store, &cfg.Sync)

	runtime := task.NewRuntime(&cfg.Worker, logger)

	// Orchestration
	orch := orchestrator.NewOrchestrator(backfillTracker, connectionRepo, providerClient, runtime, &cfg.Backfill, logger)
	receiver := orchestrator.NewReceiver(backfillTracker, orch, logger)
	reclaimer := orchestrator.NewReclaimer(backfillTracker, store, orch, &cfg.Backfill, logger)
	scheduler := orchestrator.NewScheduler(syncTracker, connectionRepo, providerClient, ingestService, runtime, &cfg.Sync, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start task runtime")
	}
	defer runtime.Stop()

	runtime.Periodic("reclaimer_sweep", cfg.Backfill.SweepInterval, func(ctx context.Context) error {
		_, err := reclaimer.Sweep(ctx)
		return err
	})

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	health := map[string]api.HealthChecker{
		"postgres":   postgres,
		"clickhouse": clickhouse,
		"redis":      store,
	}

	server := api.NewServer(serverConfig, orch, scheduler, receiver, health, logger)

	go func() {
		if err := server.Start(); err != nil && ctx.Err() == nil {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	<-ctx.Done()

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
