package models

import "time"

// SyncLog is the audit record of one Pull or Push run.
type SyncLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	MirrorID   uint           `gorm:"not null;index" json:"mirror_id"`
	ProjectID  uint           `gorm:"not null;index" json:"project_id"`
	Type       string         `gorm:"size:10;not null;index" json:"type"` // Pull, Push
	Status     string         `gorm:"size:50;not null;index" json:"status"`
	Processed  int            `json:"processed"`
	ErrorCount int            `json:"error_count"`
	Errors     []SyncLogError `gorm:"foreignKey:SyncLogID" json:"errors,omitempty"`
	StartedAt  time.Time      `gorm:"index" json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`

	// RemoteUpdatedMax is the newest updated_on a Pull read from the
	// tracker, on the tracker's clock.
	RemoteUpdatedMax *time.Time `json:"remote_updated_max,omitempty"`
}

func (SyncLog) TableName() string { return "sync_logs" }

type SyncLogError struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SyncLogID uint      `gorm:"not null;index" json:"sync_log_id"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (SyncLogError) TableName() string { return "sync_log_errors" }
