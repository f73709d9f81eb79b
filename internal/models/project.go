package models

import (
	"time"

	"gorm.io/gorm"
)

// Project is a tracker project living on a Server.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ServerID    uint           `gorm:"not null;uniqueIndex:idx_project_server_ext" json:"server_id"`
	Server      *Server        `gorm:"foreignKey:ServerID" json:"server,omitempty"`
	ExtID       int            `gorm:"not null;uniqueIndex:idx_project_server_ext" json:"ext_id"`
	Identifier  string         `gorm:"size:100" json:"identifier"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Project) TableName() string { return "projects" }

// Milestone is a project version (fixed version on Redmine).
type Milestone struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_milestone_project_ext" json:"project_id"`
	ExtID     int       `gorm:"not null;uniqueIndex:idx_milestone_project_ext" json:"ext_id"`
	Name      string    `gorm:"size:200" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Milestone) TableName() string { return "milestones" }
