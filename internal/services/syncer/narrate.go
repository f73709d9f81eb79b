package syncer

import (
	"fmt"
	"strings"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
)

// namer turns remote ids found in journal details into display names.
// Unknown ids are returned unchanged.
type namer interface {
	labelName(t models.LabelType, extID string) string
	userName(extID string) string
	milestoneName(extID string) string
}

var attributeTitles = map[string]string{
	"subject":          "Subject",
	"tracker_id":       "Tracker",
	"status_id":        "Status",
	"priority_id":      "Priority",
	"assigned_to_id":   "Assignee",
	"fixed_version_id": "Target version",
	"category_id":      "Category",
	"parent_id":        "Parent task",
	"start_date":       "Start date",
	"due_date":         "Due date",
	"done_ratio":       "% Done",
	"estimated_hours":  "Estimated time",
	"is_private":       "Private",
}

var labelAttributes = map[string]models.LabelType{
	"tracker_id":  models.LabelTracker,
	"status_id":   models.LabelStatus,
	"priority_id": models.LabelPriority,
}

// narrate renders structured journal changes, one line per change. Custom
// field and relation changes are not narrated.
func narrate(details []tracker.JournalDetail, n namer) string {
	var lines []string
	for _, d := range details {
		switch d.Property {
		case "attr":
			if line := narrateAttribute(d, n); line != "" {
				lines = append(lines, line)
			}
		case "attachment":
			if d.NewValue != "" {
				lines = append(lines, fmt.Sprintf("File %s added", d.NewValue))
			} else if d.OldValue != "" {
				lines = append(lines, fmt.Sprintf("File %s deleted", d.OldValue))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func narrateAttribute(d tracker.JournalDetail, n namer) string {
	if d.Name == "description" {
		return "Description updated"
	}
	title, ok := attributeTitles[d.Name]
	if !ok {
		title = d.Name
	}

	old, cur := attributeValue(d.Name, d.OldValue, n), attributeValue(d.Name, d.NewValue, n)
	switch {
	case old == "" && cur == "":
		return ""
	case old == "":
		return fmt.Sprintf("%s set to %s", title, cur)
	case cur == "":
		return fmt.Sprintf("%s deleted (%s)", title, old)
	default:
		return fmt.Sprintf("%s changed from %s to %s", title, old, cur)
	}
}

func attributeValue(name, raw string, n namer) string {
	if raw == "" {
		return ""
	}
	if t, ok := labelAttributes[name]; ok {
		return n.labelName(t, raw)
	}
	switch name {
	case "assigned_to_id":
		return n.userName(raw)
	case "fixed_version_id":
		return n.milestoneName(raw)
	}
	return raw
}

// journalText is the comment body for a journal entry: the narration of its
// changes followed by its notes. Empty when the entry carries neither.
func journalText(j *tracker.Journal, n namer) string {
	narration := narrate(j.Details, n)
	notes := strings.TrimSpace(j.Notes)
	switch {
	case narration == "":
		return notes
	case notes == "":
		return narration
	}
	return narration + "\n\n" + notes
}
