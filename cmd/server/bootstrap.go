package main

import (
	"context"

	"github.com/huangang/trackmirror/internal/config"
	"github.com/huangang/trackmirror/internal/handlers"
	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/internal/services/syncer"
	"github.com/huangang/trackmirror/internal/storage"
	"github.com/huangang/trackmirror/internal/tracker"
	"github.com/huangang/trackmirror/internal/tracker/redmine"
	"github.com/huangang/trackmirror/internal/utils"
	"github.com/huangang/trackmirror/pkg/logger"
)

// appServices holds everything the routes and shutdown need.
type appServices struct {
	connector   tracker.Connector
	runner      *services.SyncRunner
	taskQueue   services.TaskQueue
	worker      *services.Worker
	scheduler   *services.SyncScheduler
	authHandler *handlers.AuthHandler
}

// bootstrap opens the database and wires the sync engine, queue, worker and scheduler.
func bootstrap(ctx context.Context, cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)
	loc := cfg.Sync.Location()

	if err := models.InitDB(&cfg.Database, loc); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()
	services.InitSystemLogger(db)
	services.StartLogCleanupScheduler(db)

	blobs, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize attachment storage: %v", err)
	}

	connector := tracker.Registry{"redmine": redmine.Connect}
	engine := syncer.New(db, connector, blobs, syncer.Options{
		Location:        loc,
		BacklinkFieldID: cfg.Sync.BacklinkFieldID,
	})
	runner := services.NewSyncRunner(db, engine, cfg.Sync.LockTTL())

	// Redis when enabled and reachable, otherwise in-process.
	taskQueue := services.InitTaskQueue(cfg)
	var worker *services.Worker
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(runner.Process)
	} else if worker = services.InitWorker(cfg); worker != nil {
		worker.SetProcessor(runner.Process)
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
	}

	scheduler := services.NewSyncScheduler(db, taskQueue, cfg.Sync.Schedule, loc)
	if err := scheduler.Start(); err != nil {
		logger.Warn().Err(err).Msg("Scheduled mirror runs disabled")
	}

	authHandler := handlers.NewAuthHandler(db, cfg)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		connector:   connector,
		runner:      runner,
		taskQueue:   taskQueue,
		worker:      worker,
		scheduler:   scheduler,
		authHandler: authHandler,
	}
}

// shutdown stops scheduling first so nothing new is queued, then drains the queue.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	services.StopLogCleanupScheduler()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
