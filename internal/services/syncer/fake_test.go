package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/storage"
	"github.com/huangang/trackmirror/internal/tracker"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeTracker is an in-memory tracker server.
type fakeTracker struct {
	mu       sync.Mutex
	issues   map[int]*tracker.Issue
	users    map[int]*tracker.User
	accounts map[string]tracker.User // api key -> account
	files    map[int][]byte
	uploads  map[string][]byte
	clock    time.Time
	nextID   int

	created []tracker.IssueAttributes
	updated map[int][]tracker.IssueAttributes
	failOn  map[string]error // subject -> error returned by create/update
	logins  map[string]int   // api key -> CurrentUser calls
	filters []tracker.IssueFilter
}

func newFakeTracker(start time.Time) *fakeTracker {
	return &fakeTracker{
		issues:   make(map[int]*tracker.Issue),
		users:    make(map[int]*tracker.User),
		accounts: make(map[string]tracker.User),
		files:    make(map[int][]byte),
		uploads:  make(map[string][]byte),
		updated:  make(map[int][]tracker.IssueAttributes),
		failOn:   make(map[string]error),
		logins:   make(map[string]int),
		clock:    start,
		nextID:   1000,
	}
}

func (f *fakeTracker) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeTracker) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeTracker) addAccount(key string, u tracker.User) {
	f.accounts[key] = u
	f.users[u.ID] = &u
}

func (f *fakeTracker) put(issue tracker.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := issue
	f.issues[issue.ID] = &cp
}

func (f *fakeTracker) issue(id int) *tracker.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issues[id]
}

func (f *fakeTracker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issues)
}

type fakeGateway struct {
	srv *fakeTracker
	key string
}

func (g *fakeGateway) account() (tracker.User, error) {
	u, ok := g.srv.accounts[g.key]
	if !ok {
		return tracker.User{}, &tracker.AccessError{Status: 401}
	}
	return u, nil
}

func (g *fakeGateway) ListIssues(ctx context.Context, filter tracker.IssueFilter) (*tracker.IssuePage, error) {
	if _, err := g.account(); err != nil {
		return nil, err
	}
	g.srv.mu.Lock()
	defer g.srv.mu.Unlock()
	g.srv.filters = append(g.srv.filters, filter)

	var matched []tracker.Issue
	for _, issue := range g.srv.issues {
		if issue.Project.ID != filter.ProjectID {
			continue
		}
		if filter.UpdatedSince != nil && issue.UpdatedOn.Before(*filter.UpdatedSince) {
			continue
		}
		if filter.CreatedSince != nil && issue.CreatedOn.Before(*filter.CreatedSince) {
			continue
		}
		brief := *issue
		brief.Journals, brief.Attachments = nil, nil
		matched = append(matched, brief)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}
	page := &tracker.IssuePage{TotalCount: len(matched), Offset: filter.Offset, Limit: limit}
	if filter.Offset < len(matched) {
		end := filter.Offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Issues = matched[filter.Offset:end]
	}
	return page, nil
}

func (g *fakeGateway) GetIssue(ctx context.Context, id int, include ...string) (*tracker.Issue, error) {
	g.srv.mu.Lock()
	defer g.srv.mu.Unlock()
	issue, ok := g.srv.issues[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	cp := *issue
	cp.Journals = append([]tracker.Journal(nil), issue.Journals...)
	cp.Attachments = append([]tracker.Attachment(nil), issue.Attachments...)
	return &cp, nil
}

func refOf(id *int) *tracker.Ref {
	if id == nil {
		return nil
	}
	return &tracker.Ref{ID: *id}
}

func (g *fakeGateway) CreateIssue(ctx context.Context, attrs *tracker.IssueAttributes) (*tracker.Issue, error) {
	account, err := g.account()
	if err != nil {
		return nil, err
	}
	g.srv.mu.Lock()
	defer g.srv.mu.Unlock()
	if err := g.srv.failOn[attrs.Subject]; err != nil {
		return nil, err
	}
	g.srv.created = append(g.srv.created, *attrs)

	now := g.srv.tick()
	issue := &tracker.Issue{
		ID:           g.srv.id(),
		Project:      tracker.Ref{ID: attrs.ProjectID},
		Tracker:      refOf(attrs.TrackerID),
		Status:       refOf(attrs.StatusID),
		Priority:     refOf(attrs.PriorityID),
		Author:       tracker.Ref{ID: account.ID, Name: account.DisplayName()},
		AssignedTo:   refOf(attrs.AssignedToID),
		FixedVersion: refOf(attrs.FixedVersionID),
		Subject:      attrs.Subject,
		Description:  attrs.Description,
		CreatedOn:    now,
		UpdatedOn:    now,
	}
	g.srv.issues[issue.ID] = issue
	cp := *issue
	return &cp, nil
}

func (g *fakeGateway) UpdateIssue(ctx context.Context, id int, attrs *tracker.IssueAttributes) error {
	account, err := g.account()
	if err != nil {
		return err
	}
	g.srv.mu.Lock()
	defer g.srv.mu.Unlock()
	if err := g.srv.failOn[attrs.Subject]; err != nil {
		return err
	}
	issue, ok := g.srv.issues[id]
	if !ok {
		return tracker.ErrNotFound
	}
	g.srv.updated[id] = append(g.srv.updated[id], *attrs)
	// Like the real tracker, a change leaves a journal with its details.
	var details []tracker.JournalDetail
	if issue.Subject != attrs.Subject {
		details = append(details, tracker.JournalDetail{Property: "attr", Name: "subject", OldValue: issue.Subject, NewValue: attrs.Subject})
	}
	issue.Subject = attrs.Subject
	issue.Description = attrs.Description
	if attrs.StatusID != nil {
		issue.Status = refOf(attrs.StatusID)
	}
	issue.UpdatedOn = g.srv.tick()
	if len(details) > 0 {
		issue.Journals = append(issue.Journals, tracker.Journal{
			ID:        g.srv.id(),
			User:      tracker.Ref{ID: account.ID},
			CreatedOn: issue.UpdatedOn,
			Details:   details,
		})
	}
	return nil
}

func (g *fakeGateway) AddNote(ctx context.Context, issueID int, notes string) error {
	account, err := g.account()
	if err != nil {
		return err
	}
	g.srv.mu.Lock()
	defer g.srv.mu.Unlock()
	issue, ok := g.srv.issues[issueID]
	if !ok {
		return tracker.ErrNotFound
	}
	now := g.srv.tick()
	issue.Journals = append(issue.Journals, tracker.Journal{
		ID:        g.srv.id(),
		User:      tracker.Ref{ID: account.ID},
		Notes:     notes,
		CreatedOn: now,
	})
	issue.UpdatedOn = now
	return nil
}

func (g *fakeGateway) GetUser(ctx context.Context, id int) (*tracker.User, error) {
	u, ok := g.srv.users[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (g *fakeGateway) CurrentUser(ctx context.Context) (*tracker.User, error) {
	g.srv.mu.Lock()
	g.srv.logins[g.key]++
	g.srv.mu.Unlock()
	u, err := g.account()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (g *fakeGateway) Download(ctx context.Context, a *tracker.Attachment) ([]byte, error) {
	data, ok := g.srv.files[a.ID]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	return data, nil
}

func (g *fakeGateway) Upload(ctx context.Context, data []byte) (string, error) {
	g.srv.mu.Lock()
	defer g.srv.mu.Unlock()
	token := fmt.Sprintf("tok-%d", g.srv.id())
	g.srv.uploads[token] = data
	return token, nil
}

func (g *fakeGateway) Attach(ctx context.Context, issueID int, uploads ...tracker.Upload) error {
	account, err := g.account()
	if err != nil {
		return err
	}
	g.srv.mu.Lock()
	defer g.srv.mu.Unlock()
	issue, ok := g.srv.issues[issueID]
	if !ok {
		return tracker.ErrNotFound
	}
	now := g.srv.tick()
	for _, u := range uploads {
		id := g.srv.id()
		g.srv.files[id] = g.srv.uploads[u.Token]
		issue.Attachments = append(issue.Attachments, tracker.Attachment{
			ID:          id,
			Filename:    u.Filename,
			Description: u.Description,
			Author:      tracker.Ref{ID: account.ID},
			CreatedOn:   now,
		})
	}
	issue.UpdatedOn = now
	return nil
}

// fakeConnector routes endpoints to fake trackers by base URI.
type fakeConnector map[string]*fakeTracker

func (c fakeConnector) Connect(ep tracker.Endpoint) (tracker.Gateway, error) {
	srv, ok := c[ep.BaseURI]
	if !ok {
		return nil, fmt.Errorf("no fake tracker at %s", ep.BaseURI)
	}
	return &fakeGateway{srv: srv, key: ep.APIKey}, nil
}

type memBlob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{data: make(map[string][]byte)} }

func (m *memBlob) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlob) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: models.NowIn(time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// fixture is a mirror between project "Alpha" on tracker A and project
// "Beta" on tracker B, owned by a user with credentials on both.
type fixture struct {
	db        *gorm.DB
	engine    *Engine
	blobs     *memBlob
	a, b      *fakeTracker
	serverA   models.Server
	serverB   models.Server
	alpha     models.Project
	beta      models.Project
	owner     models.User
	mirror    models.Mirror
	ownerExtA int
	ownerExtB int
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:    newTestDB(t),
		blobs: newMemBlob(),
		a:     newFakeTracker(t0.Add(24 * time.Hour)),
		b:     newFakeTracker(t0.Add(48 * time.Hour)),
	}
	f.engine = New(f.db, fakeConnector{"https://a.example": f.a, "https://b.example": f.b}, f.blobs, Options{
		Location:        time.UTC,
		BacklinkFieldID: 27,
		PageSize:        2,
	})

	f.serverA = models.Server{Name: "A", Driver: "redmine", BaseURI: "https://a.example"}
	f.serverB = models.Server{Name: "B", Driver: "redmine", BaseURI: "https://b.example"}
	require.NoError(t, f.db.Create(&f.serverA).Error)
	require.NoError(t, f.db.Create(&f.serverB).Error)

	f.alpha = models.Project{ServerID: f.serverA.ID, ExtID: 7, Name: "Alpha"}
	f.beta = models.Project{ServerID: f.serverB.ID, ExtID: 9, Name: "Beta"}
	require.NoError(t, f.db.Create(&f.alpha).Error)
	require.NoError(t, f.db.Create(&f.beta).Error)

	f.owner = models.User{Username: "owner", Name: "Owner One", Email: "owner@example.com"}
	require.NoError(t, f.db.Create(&f.owner).Error)

	f.ownerExtA, f.ownerExtB = 1, 2
	f.a.addAccount("owner-a", tracker.User{ID: f.ownerExtA, Login: "owner", Firstname: "Owner", Lastname: "One"})
	f.b.addAccount("owner-b", tracker.User{ID: f.ownerExtB, Login: "owner", Firstname: "Owner", Lastname: "One"})
	require.NoError(t, f.db.Create(&models.Credential{UserID: f.owner.ID, ServerID: f.serverA.ID, ExtID: f.ownerExtA, APIKey: "owner-a"}).Error)
	require.NoError(t, f.db.Create(&models.Credential{UserID: f.owner.ID, ServerID: f.serverB.ID, ExtID: f.ownerExtB, APIKey: "owner-b"}).Error)

	f.mirror = models.Mirror{Name: "alpha-beta", ProjectID: f.alpha.ID, MirrorProjectID: f.beta.ID, OwnerID: f.owner.ID, IsActive: true}
	require.NoError(t, f.db.Create(&f.mirror).Error)
	return f
}

func (f *fixture) label(t *testing.T, server models.Server, typ models.LabelType, ext int, name string, closed bool) models.Label {
	t.Helper()
	l := models.Label{ServerID: server.ID, Type: typ, ExtID: ext, Name: name, IsClosed: closed}
	require.NoError(t, f.db.Create(&l).Error)
	return l
}

func (f *fixture) rule(t *testing.T, dir models.RuleDirection, from, to models.Label) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.MirrorLabelRule{
		MirrorID:      f.mirror.ID,
		Direction:     dir,
		Type:          from.Type,
		SourceLabelID: from.ID,
		TargetLabelID: to.ID,
	}).Error)
}

func (f *fixture) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (f *fixture) errors(t *testing.T, log *models.SyncLog) []string {
	t.Helper()
	var rows []models.SyncLogError
	require.NoError(t, f.db.Where("sync_log_id = ?", log.ID).Order("id").Find(&rows).Error)
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.Message
	}
	return out
}
