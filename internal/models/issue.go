package models

import "time"

// Issue is the local canonical copy of a tracker issue.
//
// ExtID is the id on the owning project's server, zero for issues created
// locally. UpdatedAt is not maintained by gorm: the sync engine sets it to the
// remote timestamp it reconciled with, local edits set it explicitly.
type Issue struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ProjectID      uint           `gorm:"not null;index" json:"project_id"`
	Project        *Project       `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	ExtID          int            `gorm:"index" json:"ext_id"`
	MilestoneID    *uint          `json:"milestone_id"`
	Milestone      *Milestone     `gorm:"foreignKey:MilestoneID" json:"milestone,omitempty"`
	AuthorID       uint           `gorm:"index" json:"author_id"`
	Author         *User          `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	AssigneeID     *uint          `gorm:"index" json:"assignee_id"`
	Assignee       *User          `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Subject        string         `gorm:"size:255;not null" json:"subject"`
	Description    string         `gorm:"type:text" json:"description"`
	EstimatedHours *float64       `json:"estimated_hours"`
	DoneRatio      int            `json:"done_ratio"`
	StartedAt      *time.Time     `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at"`
	Open           bool           `json:"open"`
	Labels         []Label        `gorm:"many2many:issue_labels" json:"labels,omitempty"`
	Comments       []IssueComment `gorm:"foreignKey:IssueID" json:"-"`
	Files          []IssueFile    `gorm:"foreignKey:IssueID" json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (Issue) TableName() string { return "issues" }

// Label returns the attached label of the given type, or nil.
func (i *Issue) Label(t LabelType) *Label {
	for k := range i.Labels {
		if i.Labels[k].Type == t {
			return &i.Labels[k]
		}
	}
	return nil
}

// IssueComment is a note on an issue.
type IssueComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IssueID   uint      `gorm:"not null;index" json:"issue_id"`
	AuthorID  uint      `gorm:"index" json:"author_id"`
	Author    *User     `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Body      string    `gorm:"type:text" json:"body"`
	ExtID     int       `gorm:"index" json:"ext_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (IssueComment) TableName() string { return "issue_comments" }

// IssueFile is an attachment whose bytes live in blob storage under Path.
type IssueFile struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	IssueID     uint      `gorm:"not null;index" json:"issue_id"`
	AuthorID    uint      `gorm:"index" json:"author_id"`
	Author      *User     `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"size:1000" json:"description"`
	Path        string    `gorm:"size:500;not null" json:"path"`
	Size        int64     `json:"size"`
	ExtID       int       `gorm:"index" json:"ext_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (IssueFile) TableName() string { return "issue_files" }

// IssueLabel is the issue_labels join row.
type IssueLabel struct {
	IssueID uint `gorm:"primaryKey"`
	LabelID uint `gorm:"primaryKey"`
}

func (IssueLabel) TableName() string { return "issue_labels" }
