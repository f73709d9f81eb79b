package models

import (
	"fmt"
	"time"

	"github.com/huangang/trackmirror/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens the configured database. Timestamps written by gorm are taken in loc
// so they compare consistently with the remote timestamps the sync engine stores.
func InitDB(cfg *config.DatabaseConfig, loc *time.Location) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: NowIn(loc),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

// NowIn returns a clock for gorm.Config.NowFunc.
func NowIn(loc *time.Location) func() time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time { return time.Now().In(loc) }
}

// Migrate creates or updates every table on db.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&Issue{}, "Labels", &IssueLabel{}); err != nil {
		return err
	}
	return db.AutoMigrate(
		&User{},
		&Server{},
		&Project{},
		&Milestone{},
		&Label{},
		&Issue{},
		&IssueLabel{},
		&IssueComment{},
		&IssueFile{},
		&SyncedIssue{},
		&SyncedComment{},
		&EchoJournal{},
		&SyncedFile{},
		&Credential{},
		&Mirror{},
		&MirrorLabelRule{},
		&SyncLog{},
		&SyncLogError{},
		&SchedulerLock{},
		&SystemConfig{},
		&SystemLog{},
	)
}

func AutoMigrate() error {
	return Migrate(DB)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates default data if not exists
func SeedDefaultData() error {
	defaultConfigs := []SystemConfig{
		{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "System Log Retention Days"},
		{Key: "sync_log_retention_days", Value: "90", Type: "int", Group: "sync", Label: "Sync Log Retention Days"},
	}

	for _, cfg := range defaultConfigs {
		var count int64
		DB.Model(&SystemConfig{}).Where("config_key = ?", cfg.Key).Count(&count)
		if count == 0 {
			if err := DB.Create(&cfg).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
