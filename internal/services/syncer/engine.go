// Package syncer reconciles local issues with the two tracker projects of a mirror.
//
// Pull copies remote issues, comments and attachments of one project into the
// local database. Push writes local issues that are new or changed for a
// project back to its tracker. Both are idempotent: watermark rows record
// what each project has already seen.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/storage"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

const defaultPageSize = 100

// ErrNoOwnerCredential means the mirror owner cannot act on a server.
var ErrNoOwnerCredential = errors.New("mirror owner has no credential on server")

type Options struct {
	// Location every stored timestamp is normalized to. Defaults to UTC.
	Location *time.Location
	// BacklinkFieldID is the custom field that receives the canonical issue
	// URL on first push. Zero disables back-links.
	BacklinkFieldID int
	PageSize        int
}

type Engine struct {
	db              *gorm.DB
	connector       tracker.Connector
	blobs           storage.Blob
	loc             *time.Location
	backlinkFieldID int
	pageSize        int
}

func New(db *gorm.DB, connector tracker.Connector, blobs storage.Blob, opts Options) *Engine {
	e := &Engine{
		db:              db,
		connector:       connector,
		blobs:           blobs,
		loc:             opts.Location,
		backlinkFieldID: opts.BacklinkFieldID,
		pageSize:        opts.PageSize,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.pageSize <= 0 {
		e.pageSize = defaultPageSize
	}
	return e
}

// Pull copies the remote issues of project into the local database.
// updatedSince and createdSince optionally narrow the remote query.
//
// The returned log is always finalized. A non-nil error means the run was
// aborted because the mirror owner cannot act on the project's server:
// the owner has no credential there or the tracker refuses the owner's key.
func (e *Engine) Pull(ctx context.Context, project *models.Project, mirror *models.Mirror, updatedSince, createdSince *time.Time) (*models.SyncLog, error) {
	r, err := e.begin(ctx, models.SyncTypePull, project, mirror)
	if err != nil {
		return nil, err
	}
	defer r.finish()

	if err := r.pull(updatedSince, createdSince); err != nil {
		r.fail("Pull aborted: %v", err)
		return r.log, err
	}
	return r.log, nil
}

// Push writes issues to project's tracker. Candidates normally come from
// IssuesToPush; repeated entries are pushed once. Errors are returned under
// the same conditions as Pull; every other failure is recorded per issue.
func (e *Engine) Push(ctx context.Context, issues []models.Issue, project *models.Project, mirror *models.Mirror) (*models.SyncLog, error) {
	r, err := e.begin(ctx, models.SyncTypePush, project, mirror)
	if err != nil {
		return nil, err
	}
	defer r.finish()

	if err := r.push(issues); err != nil {
		r.fail("Push aborted: %v", err)
		return r.log, err
	}
	return r.log, nil
}

// Preview lists what Push would consider for project without writing anything.
func (e *Engine) Preview(project *models.Project, mirror *models.Mirror) ([]models.Issue, error) {
	if project.ID != mirror.ProjectID && project.ID != mirror.MirrorProjectID {
		return nil, fmt.Errorf("project %d is not part of mirror %d", project.ID, mirror.ID)
	}
	var source models.Project
	if err := e.db.First(&source, mirror.Counterpart(project.ID)).Error; err != nil {
		return nil, fmt.Errorf("load counterpart project: %w", err)
	}
	return IssuesToPush(e.db, project, &source)
}

func (e *Engine) now() time.Time {
	return time.Now().In(e.loc)
}

func (e *Engine) normalize(t time.Time) time.Time {
	return t.In(e.loc)
}

// day converts a remote calendar date to midnight in the engine's location.
func (e *Engine) day(d *tracker.Date) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	y, m, dd := d.Date()
	t := time.Date(y, m, dd, 0, 0, 0, 0, e.loc)
	return &t
}

func (e *Engine) date(t *time.Time) *tracker.Date {
	if t == nil || t.IsZero() {
		return nil
	}
	return tracker.NewDate(t.In(e.loc))
}
