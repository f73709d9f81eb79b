package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Server is a remote issue tracker instance.
type Server struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"size:100;not null" json:"name"`
	Driver    string         `gorm:"size:50;not null;default:redmine" json:"driver"`
	BaseURI   string         `gorm:"size:500;not null" json:"base_uri"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Server) TableName() string { return "servers" }

// IssueURL is the browser URL of an issue on this server.
func (s *Server) IssueURL(extID int) string {
	base := s.BaseURI
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%sissues/%d", base, extID)
}
