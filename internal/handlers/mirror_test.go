package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/internal/services/syncer"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

type recordingQueue struct {
	tasks []*services.SyncTask
}

func (q *recordingQueue) Enqueue(task *services.SyncTask) error {
	q.tasks = append(q.tasks, task)
	return nil
}
func (q *recordingQueue) IsAsync() bool { return true }
func (q *recordingQueue) Close() error  { return nil }

type mirrorFixture struct {
	db          *gorm.DB
	router      *gin.Engine
	queue       *recordingQueue
	owner       models.User
	alpha, beta models.Project
}

func newMirrorFixture(t *testing.T) *mirrorFixture {
	t.Helper()
	db := newTestDB(t)
	f := &mirrorFixture{db: db, queue: &recordingQueue{}}

	serverA := models.Server{Name: "A", Driver: "redmine", BaseURI: "https://a.example/"}
	serverB := models.Server{Name: "B", Driver: "redmine", BaseURI: "https://b.example/"}
	mustCreate(t, db, &serverA, &serverB)
	f.owner = models.User{Username: "owner", AuthType: "local", IsActive: true}
	mustCreate(t, db, &f.owner)
	mustCreate(t, db,
		&models.Credential{UserID: f.owner.ID, ServerID: serverA.ID, ExtID: 1, APIKey: "ka"},
		&models.Credential{UserID: f.owner.ID, ServerID: serverB.ID, ExtID: 1, APIKey: "kb"},
	)
	f.alpha = models.Project{ServerID: serverA.ID, ExtID: 7, Name: "Alpha"}
	f.beta = models.Project{ServerID: serverB.ID, ExtID: 9, Name: "Beta"}
	mustCreate(t, db, &f.alpha, &f.beta)

	engine := syncer.New(db, tracker.Registry{}, nil, syncer.Options{Location: time.UTC})
	h := NewMirrorHandler(db, services.NewSyncRunner(db, engine, time.Minute), f.queue)

	f.router = newRouter(f.owner.ID)
	f.router.GET("/api/mirrors", h.List)
	f.router.POST("/api/mirrors", h.Create)
	f.router.GET("/api/mirrors/:id", h.GetByID)
	f.router.PUT("/api/mirrors/:id", h.Update)
	f.router.DELETE("/api/mirrors/:id", h.Delete)
	f.router.POST("/api/mirrors/:id/sync", h.Sync)
	f.router.GET("/api/mirrors/:id/pending", h.Pending)
	f.router.GET("/api/mirrors/:id/rules", h.ListRules)
	f.router.POST("/api/mirrors/:id/rules", h.CreateRule)
	f.router.DELETE("/api/mirrors/:id/rules/:rule_id", h.DeleteRule)
	return f
}

func (f *mirrorFixture) createMirror(t *testing.T) models.Mirror {
	t.Helper()
	w := doJSON(f.router, "POST", "/api/mirrors", gin.H{
		"name":              "alpha-beta",
		"project_id":        f.alpha.ID,
		"mirror_project_id": f.beta.ID,
		"owner_id":          f.owner.ID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create mirror: expected %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var mirror models.Mirror
	decode(t, w, &mirror)
	return mirror
}

func TestMirrorHandler_Create(t *testing.T) {
	f := newMirrorFixture(t)
	mirror := f.createMirror(t)

	if !mirror.IsActive {
		t.Error("new mirror should be active")
	}
	if mirror.Project == nil || mirror.Project.Name != "Alpha" {
		t.Errorf("project not preloaded: %+v", mirror.Project)
	}

	// Same pair in reverse order is a duplicate.
	w := doJSON(f.router, "POST", "/api/mirrors", gin.H{
		"name": "again", "project_id": f.beta.ID, "mirror_project_id": f.alpha.ID, "owner_id": f.owner.ID,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate mirror: expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestMirrorHandler_CreateRequiresOwnerKeys(t *testing.T) {
	f := newMirrorFixture(t)
	other := models.User{Username: "nokeys", AuthType: "local", IsActive: true}
	mustCreate(t, f.db, &other)

	w := doJSON(f.router, "POST", "/api/mirrors", gin.H{
		"name": "x", "project_id": f.alpha.ID, "mirror_project_id": f.beta.ID, "owner_id": other.ID,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestMirrorHandler_SyncQueuesManualRun(t *testing.T) {
	f := newMirrorFixture(t)
	mirror := f.createMirror(t)

	w := doJSON(f.router, "POST", fmt.Sprintf("/api/mirrors/%d/sync", mirror.ID), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("queued %d tasks, expected 1", len(f.queue.tasks))
	}
	if task := f.queue.tasks[0]; task.MirrorID != mirror.ID || task.Trigger != "manual" {
		t.Errorf("unexpected task %+v", task)
	}

	if w := doJSON(f.router, "POST", "/api/mirrors/999/sync", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown mirror: expected %d, got %d", http.StatusNotFound, w.Code)
	}
	if len(f.queue.tasks) != 1 {
		t.Errorf("unknown mirror should not be queued")
	}
}

func TestMirrorHandler_Pending(t *testing.T) {
	f := newMirrorFixture(t)
	mirror := f.createMirror(t)

	issue := models.Issue{ProjectID: f.alpha.ID, Subject: "local only"}
	mustCreate(t, f.db, &issue)

	w := doJSON(f.router, "GET", fmt.Sprintf("/api/mirrors/%d/pending", mirror.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var pending []services.PendingIssues
	decode(t, w, &pending)
	if len(pending) != 2 {
		t.Fatalf("expected both projects, got %d", len(pending))
	}

	// Beta receives what Alpha owns.
	var toBeta *services.PendingIssues
	for i := range pending {
		if pending[i].ProjectID == f.beta.ID {
			toBeta = &pending[i]
		}
	}
	if toBeta == nil || len(toBeta.Issues) != 1 || toBeta.Issues[0].Subject != "local only" {
		t.Errorf("unexpected pending for Beta: %+v", toBeta)
	}

	if w := doJSON(f.router, "GET", "/api/mirrors/999/pending", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown mirror: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestMirrorHandler_Rules(t *testing.T) {
	f := newMirrorFixture(t)
	mirror := f.createMirror(t)

	srcLabel := models.Label{ServerID: f.alpha.ServerID, Type: models.LabelStatus, ExtID: 1, Name: "New"}
	dstLabel := models.Label{ServerID: f.beta.ServerID, Type: models.LabelStatus, ExtID: 5, Name: "Open"}
	mustCreate(t, f.db, &srcLabel, &dstLabel)

	path := fmt.Sprintf("/api/mirrors/%d/rules", mirror.ID)
	w := doJSON(f.router, "POST", path, gin.H{"direction": "ltr", "source_label_id": srcLabel.ID, "target_label_id": dstLabel.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var rule models.MirrorLabelRule
	decode(t, w, &rule)

	// Wrong direction: the source label does not live on Beta's server.
	w = doJSON(f.router, "POST", path, gin.H{"direction": "rtl", "source_label_id": srcLabel.ID, "target_label_id": dstLabel.ID})
	if w.Code != http.StatusBadRequest {
		t.Errorf("wrong direction: expected %d, got %d", http.StatusBadRequest, w.Code)
	}

	var rules []models.MirrorLabelRule
	decode(t, doJSON(f.router, "GET", path, nil), &rules)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	if w := doJSON(f.router, "DELETE", fmt.Sprintf("%s/%d", path, rule.ID), nil); w.Code != http.StatusOK {
		t.Errorf("delete rule: expected %d, got %d", http.StatusOK, w.Code)
	}
	if w := doJSON(f.router, "DELETE", fmt.Sprintf("%s/%d", path, rule.ID), nil); w.Code != http.StatusNotFound {
		t.Errorf("delete missing rule: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestMirrorHandler_UpdateAndDelete(t *testing.T) {
	f := newMirrorFixture(t)
	mirror := f.createMirror(t)
	path := fmt.Sprintf("/api/mirrors/%d", mirror.ID)

	w := doJSON(f.router, "PUT", path, gin.H{"is_active": false, "name": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var updated models.Mirror
	decode(t, w, &updated)
	if updated.IsActive || updated.Name != "renamed" {
		t.Errorf("update not applied: %+v", updated)
	}

	if w := doJSON(f.router, "DELETE", path, nil); w.Code != http.StatusOK {
		t.Errorf("delete: expected %d, got %d", http.StatusOK, w.Code)
	}
	if w := doJSON(f.router, "GET", path, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected %d, got %d", http.StatusNotFound, w.Code)
	}
	if w := doJSON(f.router, "DELETE", path, nil); w.Code != http.StatusNotFound {
		t.Errorf("delete twice: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}
