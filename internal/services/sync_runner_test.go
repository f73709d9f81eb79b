package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services/syncer"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

// quietTracker is a tracker without issues that records the pull filters it receives.
type quietTracker struct {
	filters []tracker.IssueFilter
	denied  bool
}

func (q *quietTracker) ListIssues(ctx context.Context, filter tracker.IssueFilter) (*tracker.IssuePage, error) {
	q.filters = append(q.filters, filter)
	return &tracker.IssuePage{Limit: filter.Limit}, nil
}
func (q *quietTracker) GetIssue(ctx context.Context, id int, include ...string) (*tracker.Issue, error) {
	return nil, tracker.ErrNotFound
}
func (q *quietTracker) CreateIssue(ctx context.Context, attrs *tracker.IssueAttributes) (*tracker.Issue, error) {
	return nil, errors.New("read only")
}
func (q *quietTracker) UpdateIssue(ctx context.Context, id int, attrs *tracker.IssueAttributes) error {
	return errors.New("read only")
}
func (q *quietTracker) AddNote(ctx context.Context, issueID int, notes string) error {
	return errors.New("read only")
}
func (q *quietTracker) GetUser(ctx context.Context, id int) (*tracker.User, error) {
	return nil, tracker.ErrNotFound
}
func (q *quietTracker) CurrentUser(ctx context.Context) (*tracker.User, error) {
	if q.denied {
		return nil, &tracker.AccessError{Status: 401}
	}
	return &tracker.User{ID: 1, Login: "owner"}, nil
}
func (q *quietTracker) Download(ctx context.Context, a *tracker.Attachment) ([]byte, error) {
	return nil, tracker.ErrNotFound
}
func (q *quietTracker) Upload(ctx context.Context, data []byte) (string, error) {
	return "", errors.New("read only")
}
func (q *quietTracker) Attach(ctx context.Context, issueID int, uploads ...tracker.Upload) error {
	return errors.New("read only")
}

type runnerSetup struct {
	db      *gorm.DB
	runner  *SyncRunner
	mirror  models.Mirror
	alpha   models.Project
	remotes map[string]*quietTracker
}

func newRunnerSetup(t *testing.T) *runnerSetup {
	t.Helper()
	db := newTestDB(t)
	s := &runnerSetup{db: db, remotes: map[string]*quietTracker{
		"https://a.example": {},
		"https://b.example": {},
	}}

	serverA := models.Server{Name: "A", Driver: "redmine", BaseURI: "https://a.example"}
	serverB := models.Server{Name: "B", Driver: "redmine", BaseURI: "https://b.example"}
	mustCreate(t, db, &serverA, &serverB)
	owner := models.User{Username: "owner", Name: "Owner"}
	mustCreate(t, db, &owner)
	mustCreate(t, db,
		&models.Credential{UserID: owner.ID, ServerID: serverA.ID, ExtID: 1, APIKey: "ka"},
		&models.Credential{UserID: owner.ID, ServerID: serverB.ID, ExtID: 1, APIKey: "kb"},
	)
	s.alpha = models.Project{ServerID: serverA.ID, ExtID: 7, Name: "Alpha"}
	beta := models.Project{ServerID: serverB.ID, ExtID: 9, Name: "Beta"}
	mustCreate(t, db, &s.alpha, &beta)
	s.mirror = models.Mirror{Name: "alpha-beta", ProjectID: s.alpha.ID, MirrorProjectID: beta.ID, OwnerID: owner.ID, IsActive: true}
	mustCreate(t, db, &s.mirror)

	connector := tracker.Registry{"redmine": func(ep tracker.Endpoint) (tracker.Gateway, error) {
		return s.remotes[ep.BaseURI], nil
	}}
	engine := syncer.New(db, connector, nil, syncer.Options{Location: time.UTC})
	s.runner = NewSyncRunner(db, engine, time.Minute)
	return s
}

func mustCreate(t *testing.T, db *gorm.DB, values ...interface{}) {
	t.Helper()
	for _, v := range values {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("create %T: %v", v, err)
		}
	}
}

func TestSyncRunner_RunMirror_PullsThenPushes(t *testing.T) {
	s := newRunnerSetup(t)

	result, err := s.runner.RunMirror(context.Background(), s.mirror.ID)
	if err != nil {
		t.Fatalf("RunMirror() error = %v", err)
	}

	var kinds []string
	for _, l := range result.Logs {
		kinds = append(kinds, l.Type)
		if l.Status != models.SyncStatusSuccess {
			t.Errorf("%s log status = %q, expected %q", l.Type, l.Status, models.SyncStatusSuccess)
		}
	}
	expected := []string{"Pull", "Pull", "Push", "Push"}
	if len(kinds) != len(expected) {
		t.Fatalf("steps = %v, expected %v", kinds, expected)
	}
	for i := range expected {
		if kinds[i] != expected[i] {
			t.Errorf("step %d = %q, expected %q", i, kinds[i], expected[i])
		}
	}
	if result.Failed() {
		t.Error("Failed() should be false")
	}

	var mirror models.Mirror
	s.db.First(&mirror, s.mirror.ID)
	if mirror.LastRunAt == nil {
		t.Error("LastRunAt should be set")
	}
	var locks int64
	s.db.Model(&models.SchedulerLock{}).Count(&locks)
	if locks != 0 {
		t.Errorf("locks = %d, expected the lease to be released", locks)
	}
}

func TestSyncRunner_IncrementalPullWindow(t *testing.T) {
	s := newRunnerSetup(t)
	remote := s.remotes["https://a.example"]

	if _, err := s.runner.RunMirror(context.Background(), s.mirror.ID); err != nil {
		t.Fatalf("RunMirror() error = %v", err)
	}
	if remote.filters[0].UpdatedSince != nil {
		t.Error("first pull should not be narrowed")
	}
	if _, err := s.runner.RunMirror(context.Background(), s.mirror.ID); err != nil {
		t.Fatalf("second RunMirror() error = %v", err)
	}
	if remote.filters[len(remote.filters)-1].UpdatedSince != nil {
		t.Error("pulls that read no issue should not narrow the next one")
	}

	// A clean pull a minute ago against a tracker running ten minutes behind.
	started := time.Now().UTC().Add(-time.Minute)
	remoteMax := started.Add(-10 * time.Minute)
	mustCreate(t, s.db, &models.SyncLog{
		MirrorID:         s.mirror.ID,
		ProjectID:        s.alpha.ID,
		Type:             models.SyncTypePull,
		Status:           models.SyncStatusSuccess,
		StartedAt:        started,
		RemoteUpdatedMax: &remoteMax,
	})

	for run := 0; run < 2; run++ {
		if _, err := s.runner.RunMirror(context.Background(), s.mirror.ID); err != nil {
			t.Fatalf("RunMirror() error = %v", err)
		}
		since := remote.filters[len(remote.filters)-1].UpdatedSince
		if since == nil {
			t.Fatal("pull should pass updatedSince")
		}
		expected := remoteMax.Add(-pullOverlap)
		if d := since.Sub(expected); d < -time.Millisecond || d > time.Millisecond {
			t.Errorf("run %d: updatedSince = %v, expected %v", run, since, expected)
		}
		// An edit the tracker stamped eight minutes before our start.
		if edit := started.Add(-8 * time.Minute); since.After(edit) {
			t.Errorf("run %d: updatedSince %v skips a remote edit at %v", run, since, edit)
		}
	}
}

func TestSyncRunner_RejectedCredentials(t *testing.T) {
	s := newRunnerSetup(t)
	s.remotes["https://b.example"].denied = true
	InitSystemLogger(s.db)
	defer InitSystemLogger(nil)

	result, err := s.runner.RunMirror(context.Background(), s.mirror.ID)
	if err == nil {
		t.Fatal("RunMirror() should report the aborted pull")
	}
	if !tracker.IsAccessError(err) {
		t.Errorf("error = %v, expected an access error", err)
	}
	if !result.Failed() {
		t.Error("Failed() should be true")
	}
	if len(result.Logs) != 4 {
		t.Errorf("steps = %d, expected the other steps to still run", len(result.Logs))
	}

	var entries int64
	s.db.Model(&models.SystemLog{}).Where("level = ? AND module = ?", "error", "Sync").Count(&entries)
	if entries == 0 {
		t.Error("aborted steps should be written to the system log")
	}
}

func TestSyncRunner_Busy(t *testing.T) {
	s := newRunnerSetup(t)
	lease, err := NewLockService(s.db).AcquireMirror(s.mirror.ID, time.Minute)
	if err != nil || lease == nil {
		t.Fatalf("AcquireMirror() = %v, %v", lease, err)
	}

	if _, err := s.runner.RunMirror(context.Background(), s.mirror.ID); !errors.Is(err, ErrMirrorBusy) {
		t.Errorf("RunMirror() error = %v, expected %v", err, ErrMirrorBusy)
	}
	if err := s.runner.Process(context.Background(), &SyncTask{MirrorID: s.mirror.ID}); err != nil {
		t.Errorf("Process() should skip a busy mirror, got %v", err)
	}
}

func TestSyncRunner_NotFound(t *testing.T) {
	s := newRunnerSetup(t)
	if _, err := s.runner.RunMirror(context.Background(), 999); !errors.Is(err, ErrMirrorNotFound) {
		t.Errorf("RunMirror() error = %v, expected %v", err, ErrMirrorNotFound)
	}
}

func TestSyncRunner_RunAll_SkipsInactive(t *testing.T) {
	s := newRunnerSetup(t)
	s.db.Model(&s.mirror).Update("is_active", false)

	results, err := s.runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, expected 0", len(results))
	}
}

func TestSyncRunner_Pending(t *testing.T) {
	s := newRunnerSetup(t)
	var owner models.User
	s.db.Where("username = ?", "owner").First(&owner)
	mustCreate(t, s.db, &models.Issue{ProjectID: s.alpha.ID, AuthorID: owner.ID, Subject: "Local only", UpdatedAt: time.Now()})

	pending, err := s.runner.Pending(s.mirror.ID)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Pending() returned %d groups, expected 2", len(pending))
	}
	// An issue of Alpha without a watermark for Alpha goes to both sides.
	for _, group := range pending {
		if len(group.Issues) != 1 {
			t.Errorf("%s pending = %d, expected 1", group.ProjectName, len(group.Issues))
		}
	}
}

func TestSyncRunner_RunStep(t *testing.T) {
	s := newRunnerSetup(t)
	remote := s.remotes["https://a.example"]
	ctx := context.Background()

	log, err := s.runner.RunStep(ctx, s.mirror.ID, s.alpha.ID, models.SyncTypePull, false)
	if err != nil {
		t.Fatalf("RunStep(Pull) error = %v", err)
	}
	if log.Type != models.SyncTypePull || log.ProjectID != s.alpha.ID {
		t.Errorf("log = %s of project %d, expected Pull of %d", log.Type, log.ProjectID, s.alpha.ID)
	}
	// As if that pull had read an issue.
	s.db.Model(log).Update("remote_updated_max", time.Now().UTC())

	if _, err := s.runner.RunStep(ctx, s.mirror.ID, s.alpha.ID, models.SyncTypePull, false); err != nil {
		t.Fatalf("second RunStep(Pull) error = %v", err)
	}
	if remote.filters[len(remote.filters)-1].UpdatedSince == nil {
		t.Error("incremental pull should pass updatedSince")
	}

	if _, err := s.runner.RunStep(ctx, s.mirror.ID, s.alpha.ID, models.SyncTypePull, true); err != nil {
		t.Fatalf("full RunStep(Pull) error = %v", err)
	}
	if remote.filters[len(remote.filters)-1].UpdatedSince != nil {
		t.Error("full pull should not be narrowed")
	}

	log, err = s.runner.RunStep(ctx, s.mirror.ID, s.mirror.MirrorProjectID, models.SyncTypePush, false)
	if err != nil {
		t.Fatalf("RunStep(Push) error = %v", err)
	}
	if log.Type != models.SyncTypePush || log.ProjectID != s.mirror.MirrorProjectID {
		t.Errorf("log = %s of project %d, expected Push of %d", log.Type, log.ProjectID, s.mirror.MirrorProjectID)
	}
}

func TestSyncRunner_RunStep_Rejects(t *testing.T) {
	s := newRunnerSetup(t)
	ctx := context.Background()

	if _, err := s.runner.RunStep(ctx, s.mirror.ID, 999, models.SyncTypePull, false); err == nil {
		t.Error("a project outside the mirror should be rejected")
	}
	if _, err := s.runner.RunStep(ctx, s.mirror.ID, s.alpha.ID, "Merge", false); err == nil {
		t.Error("an unknown sync type should be rejected")
	}
	if _, err := s.runner.RunStep(ctx, 999, s.alpha.ID, models.SyncTypePull, false); !errors.Is(err, ErrMirrorNotFound) {
		t.Errorf("RunStep() error = %v, expected %v", err, ErrMirrorNotFound)
	}

	var locks int64
	s.db.Model(&models.SchedulerLock{}).Count(&locks)
	if locks != 0 {
		t.Errorf("locks = %d, expected none after rejected steps", locks)
	}
}
