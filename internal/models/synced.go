package models

import "time"

// SyncedIssue records that an Issue has a counterpart in Project with id ExtID,
// last observed at UpdatedAt. No row means never synchronized to that project.
type SyncedIssue struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IssueID   uint      `gorm:"not null;uniqueIndex:idx_synced_issue_target" json:"issue_id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_synced_issue_target;uniqueIndex:idx_synced_issue_ext" json:"project_id"`
	ExtID     int       `gorm:"not null;uniqueIndex:idx_synced_issue_ext" json:"ext_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (SyncedIssue) TableName() string { return "synced_issues" }

type SyncedComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_synced_comment_target" json:"comment_id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_synced_comment_target;uniqueIndex:idx_synced_comment_ext" json:"project_id"`
	ExtID     int       `gorm:"not null;uniqueIndex:idx_synced_comment_ext" json:"ext_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (SyncedComment) TableName() string { return "synced_comments" }

// EchoJournal is a journal entry that one of our own issue updates left on
// the remote issue. Pull never turns it into a comment.
type EchoJournal struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_echo_journal" json:"project_id"`
	ExtID     int       `gorm:"not null;uniqueIndex:idx_echo_journal" json:"ext_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (EchoJournal) TableName() string { return "echo_journals" }

type SyncedFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FileID    uint      `gorm:"not null;uniqueIndex:idx_synced_file_target" json:"file_id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_synced_file_target;uniqueIndex:idx_synced_file_ext" json:"project_id"`
	ExtID     int       `gorm:"not null;uniqueIndex:idx_synced_file_ext" json:"ext_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (SyncedFile) TableName() string { return "synced_files" }
