package tracker

import (
	"strings"
	"time"

	"github.com/huangang/trackmirror/internal/models"
)

// Ref is a reference to a named remote object (project, status, user, ...).
type Ref struct {
	ID       int    `json:"id"`
	Name     string `json:"name,omitempty"`
	IsClosed bool   `json:"is_closed,omitempty"` // statuses only
}

const dateLayout = "2006-01-02"

// Date is a calendar day without a time of day.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in t's location.
func NewDate(t time.Time) *Date {
	y, m, d := t.Date()
	return &Date{Time: time.Date(y, m, d, 0, 0, 0, 0, t.Location())}
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Issue is a remote issue as returned by the tracker.
type Issue struct {
	ID             int          `json:"id"`
	Project        Ref          `json:"project"`
	Tracker        *Ref         `json:"tracker,omitempty"`
	Status         *Ref         `json:"status,omitempty"`
	Priority       *Ref         `json:"priority,omitempty"`
	Author         Ref          `json:"author"`
	AssignedTo     *Ref         `json:"assigned_to,omitempty"`
	FixedVersion   *Ref         `json:"fixed_version,omitempty"`
	Subject        string       `json:"subject"`
	Description    string       `json:"description"`
	StartDate      *Date        `json:"start_date,omitempty"`
	DueDate        *Date        `json:"due_date,omitempty"`
	EstimatedHours *float64     `json:"estimated_hours,omitempty"`
	DoneRatio      int          `json:"done_ratio"`
	CreatedOn      time.Time    `json:"created_on"`
	UpdatedOn      time.Time    `json:"updated_on"`
	Journals       []Journal    `json:"journals,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

var issueLabels = map[models.LabelType]func(*Issue) *Ref{
	models.LabelTracker:  func(i *Issue) *Ref { return i.Tracker },
	models.LabelStatus:   func(i *Issue) *Ref { return i.Status },
	models.LabelPriority: func(i *Issue) *Ref { return i.Priority },
}

// Label returns the classification of the given type, or nil.
func (i *Issue) Label(t models.LabelType) *Ref {
	if get, ok := issueLabels[t]; ok {
		return get(i)
	}
	return nil
}

// Journal is one entry of an issue's history: free-text notes and/or field changes.
type Journal struct {
	ID        int             `json:"id"`
	User      Ref             `json:"user"`
	Notes     string          `json:"notes"`
	CreatedOn time.Time       `json:"created_on"`
	Details   []JournalDetail `json:"details,omitempty"`
}

// JournalDetail is a single structured change.
type JournalDetail struct {
	Property string `json:"property"` // attr, cf, attachment, relation
	Name     string `json:"name"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

type Attachment struct {
	ID          int       `json:"id"`
	Filename    string    `json:"filename"`
	Filesize    int64     `json:"filesize"`
	ContentType string    `json:"content_type,omitempty"`
	Description string    `json:"description"`
	ContentURL  string    `json:"content_url,omitempty"`
	Author      Ref       `json:"author"`
	CreatedOn   time.Time `json:"created_on"`
}

// User is a remote account profile.
type User struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Mail      string `json:"mail"`
}

// DisplayName joins first and last name, falling back to the login.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.Firstname + " " + u.Lastname)
	if name == "" {
		return u.Login
	}
	return name
}

type CustomField struct {
	ID    int    `json:"id"`
	Value string `json:"value"`
}

// Upload references previously uploaded bytes to attach to an issue.
type Upload struct {
	Token       string `json:"token"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// IssueAttributes is the writable part of an issue. Nil fields are left untouched.
type IssueAttributes struct {
	ProjectID      int           `json:"project_id"`
	Subject        string        `json:"subject"`
	Description    string        `json:"description"`
	TrackerID      *int          `json:"tracker_id,omitempty"`
	StatusID       *int          `json:"status_id,omitempty"`
	PriorityID     *int          `json:"priority_id,omitempty"`
	FixedVersionID *int          `json:"fixed_version_id,omitempty"`
	AssignedToID   *int          `json:"assigned_to_id,omitempty"`
	AuthorID       *int          `json:"author_id,omitempty"`
	EstimatedHours *float64      `json:"estimated_hours,omitempty"`
	DoneRatio      *int          `json:"done_ratio,omitempty"`
	StartDate      *Date         `json:"start_date,omitempty"`
	DueDate        *Date         `json:"due_date,omitempty"`
	CustomFields   []CustomField `json:"custom_fields,omitempty"`
}

var attributeLabels = map[models.LabelType]func(*IssueAttributes) **int{
	models.LabelTracker:  func(a *IssueAttributes) **int { return &a.TrackerID },
	models.LabelStatus:   func(a *IssueAttributes) **int { return &a.StatusID },
	models.LabelPriority: func(a *IssueAttributes) **int { return &a.PriorityID },
}

// SetLabel sets the id field of the given classification type.
func (a *IssueAttributes) SetLabel(t models.LabelType, id int) {
	if field, ok := attributeLabels[t]; ok {
		*field(a) = &id
	}
}

// LabelID returns the id set for the given classification type, or nil.
func (a *IssueAttributes) LabelID(t models.LabelType) *int {
	if field, ok := attributeLabels[t]; ok {
		return *field(a)
	}
	return nil
}

// IssueFilter selects a page of issues of one project. Issues of every status are returned.
type IssueFilter struct {
	ProjectID    int
	UpdatedSince *time.Time
	CreatedSince *time.Time
	Offset       int
	Limit        int
}

type IssuePage struct {
	Issues     []Issue `json:"issues"`
	TotalCount int     `json:"total_count"`
	Offset     int     `json:"offset"`
	Limit      int     `json:"limit"`
}
