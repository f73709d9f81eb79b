package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/huangang/trackmirror/internal/config"
	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/internal/services/syncer"
	"github.com/huangang/trackmirror/internal/storage"
	"github.com/huangang/trackmirror/internal/tracker"
	"github.com/huangang/trackmirror/internal/tracker/redmine"
	"github.com/huangang/trackmirror/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Global flags
var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "mirrorctl",
	Short: "Run issue tracker mirrors from the command line",
	Long: `mirrorctl keeps pairs of issue tracker projects in sync.

It shares the database and configuration of the API server, so a run
started here is recorded in the same sync logs and respects the same
per-mirror lock.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// env is what every command needs once the config is loaded.
type env struct {
	cfg    *config.Config
	db     *gorm.DB
	engine *syncer.Engine
	runner *services.SyncRunner
}

// openDB loads the config, initializes logging and connects to the migrated database.
func openDB() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	// Logs go to stderr so --json output stays parseable.
	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		lvl = zerolog.InfoLevel
	}
	logger.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}, lvl)

	if err := models.InitDB(&cfg.Database, cfg.Sync.Location()); err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	db := models.GetDB()
	if err := models.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}
	services.InitSystemLogger(db)
	return cfg, db, nil
}

// setup wires the sync engine the same way the server does.
func setup(ctx context.Context) (*env, error) {
	cfg, db, err := openDB()
	if err != nil {
		return nil, err
	}

	blobs, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing attachment storage: %w", err)
	}
	engine := syncer.New(db, tracker.Registry{"redmine": redmine.Connect}, blobs, syncer.Options{
		Location:        cfg.Sync.Location(),
		BacklinkFieldID: cfg.Sync.BacklinkFieldID,
	})

	return &env{
		cfg:    cfg,
		db:     db,
		engine: engine,
		runner: services.NewSyncRunner(db, engine, cfg.Sync.LockTTL()),
	}, nil
}
