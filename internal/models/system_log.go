package models

import "time"

// SystemLog is an operator-facing event, separate from the per-run SyncLog.
// Aborted sync steps, manual runs and logins end up here.
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index" json:"level"`    // info, warning, error
	Module    string    `gorm:"size:100;index" json:"module"`  // Sync, Auth, Mirror, ...
	Action    string    `gorm:"size:200;index" json:"action"`  // e.g. "Pull aborted"
	Message   string    `gorm:"type:text" json:"message"`
	UserID    *uint     `json:"user_id"` // nil for scheduled runs
	IP        string    `gorm:"size:50" json:"ip"`
	UserAgent string    `gorm:"size:500" json:"user_agent"`
	Extra     string    `gorm:"type:text" json:"extra"` // JSON, e.g. mirror_id and sync_log_id of a failed step
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (SystemLog) TableName() string { return "system_logs" }
