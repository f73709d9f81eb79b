package models

import "time"

// Label is a tracker, status or priority value of one Server.
// Lookups must always be scoped by server, ext ids collide across servers.
type Label struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ServerID  uint      `gorm:"not null;uniqueIndex:idx_label_server_type_ext" json:"server_id"`
	Type      LabelType `gorm:"size:20;uniqueIndex:idx_label_server_type_ext" json:"type"`
	ExtID     int       `gorm:"not null;uniqueIndex:idx_label_server_type_ext" json:"ext_id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	IsClosed  bool      `json:"is_closed"` // statuses only
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Label) TableName() string { return "labels" }
