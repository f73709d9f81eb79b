package models

import "time"

// Credential links a local user to an account on a tracker server.
// APIKey is empty for accounts discovered through sync.
type Credential struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_credential_user_server" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ServerID  uint      `gorm:"not null;uniqueIndex:idx_credential_user_server;uniqueIndex:idx_credential_server_ext" json:"server_id"`
	ExtID     int       `gorm:"not null;uniqueIndex:idx_credential_server_ext" json:"ext_id"`
	Username  string    `gorm:"size:200" json:"username"`
	APIKey    string    `gorm:"size:255" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Credential) TableName() string { return "credentials" }

// MaskAPIKey returns masked API key for display
func (c *Credential) MaskAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) <= 8 {
		return "****"
	}
	return c.APIKey[:4] + "****" + c.APIKey[len(c.APIKey)-4:]
}
