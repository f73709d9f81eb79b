package models

import (
	"time"

	"gorm.io/gorm"
)

// Mirror pairs Project (left) with MirrorProject (right) and is run under
// the Owner's credentials whenever an author has none.
type Mirror struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	Name              string            `gorm:"size:200" json:"name"`
	ProjectID         uint              `gorm:"not null;index" json:"project_id"`
	Project           *Project          `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	MirrorProjectID   uint              `gorm:"not null;index" json:"mirror_project_id"`
	MirrorProject     *Project          `gorm:"foreignKey:MirrorProjectID" json:"mirror_project,omitempty"`
	OwnerID           uint              `gorm:"not null" json:"owner_id"`
	Owner             *User             `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	MilestoneID       *uint             `json:"milestone_id"`        // used for issues pushed into Project
	MirrorMilestoneID *uint             `json:"mirror_milestone_id"` // used for issues pushed into MirrorProject
	IsActive          bool              `json:"is_active"`
	LabelRules        []MirrorLabelRule `gorm:"foreignKey:MirrorID" json:"label_rules,omitempty"`
	LastRunAt         *time.Time        `json:"last_run_at"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	DeletedAt         gorm.DeletedAt    `gorm:"index" json:"-"`
}

func (Mirror) TableName() string { return "mirrors" }

// Counterpart returns the id of the other side of the mirror.
func (m *Mirror) Counterpart(projectID uint) uint {
	if projectID == m.ProjectID {
		return m.MirrorProjectID
	}
	return m.ProjectID
}

// DirectionInto is the rule direction whose targets live in projectID.
func (m *Mirror) DirectionInto(projectID uint) RuleDirection {
	if projectID == m.MirrorProjectID {
		return LeftToRight
	}
	return RightToLeft
}

// MilestoneFor returns the configured milestone for issues pushed into projectID.
func (m *Mirror) MilestoneFor(projectID uint) *uint {
	if projectID == m.MirrorProjectID {
		return m.MirrorMilestoneID
	}
	return m.MilestoneID
}

// MirrorLabelRule maps a source label onto a target label for one direction.
type MirrorLabelRule struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	MirrorID      uint          `gorm:"not null;uniqueIndex:idx_rule_mirror_dir_source" json:"mirror_id"`
	Direction     RuleDirection `gorm:"size:3;not null;uniqueIndex:idx_rule_mirror_dir_source" json:"direction"`
	Type          LabelType     `gorm:"size:20" json:"type"`
	SourceLabelID uint          `gorm:"not null;uniqueIndex:idx_rule_mirror_dir_source" json:"source_label_id"`
	SourceLabel   *Label        `gorm:"foreignKey:SourceLabelID" json:"source_label,omitempty"`
	TargetLabelID uint          `gorm:"not null" json:"target_label_id"`
	TargetLabel   *Label        `gorm:"foreignKey:TargetLabelID" json:"target_label,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (MirrorLabelRule) TableName() string { return "mirror_label_rules" }
