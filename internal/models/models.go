package models

// LabelType classifies a Label. Issues carry at most one label per classified type.
type LabelType string

const (
	LabelTracker   LabelType = "tracker"
	LabelStatus    LabelType = "status"
	LabelPriority  LabelType = "priority"
	LabelUnlabeled LabelType = ""
)

// ClassifiedLabelTypes lists the types that map onto remote issue fields.
var ClassifiedLabelTypes = []LabelType{LabelTracker, LabelStatus, LabelPriority}

// RuleDirection says which way a mirror label rule translates.
type RuleDirection string

const (
	// LeftToRight maps labels of Mirror.Project onto labels of Mirror.MirrorProject.
	LeftToRight RuleDirection = "ltr"
	// RightToLeft maps labels of Mirror.MirrorProject onto labels of Mirror.Project.
	RightToLeft RuleDirection = "rtl"
)

// Opposite returns the reverse direction.
func (d RuleDirection) Opposite() RuleDirection {
	if d == LeftToRight {
		return RightToLeft
	}
	return LeftToRight
}

// Sync log run types and statuses.
const (
	SyncTypePull = "Pull"
	SyncTypePush = "Push"

	SyncStatusInProcess          = "In process"
	SyncStatusSuccess            = "Success"
	SyncStatusFinishedWithErrors = "Finished with errors"
)
