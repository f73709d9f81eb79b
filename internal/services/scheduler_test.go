package services

import (
	"testing"
	"time"

	"github.com/huangang/trackmirror/internal/models"
)

type recordingQueue struct {
	tasks []*SyncTask
}

func (q *recordingQueue) Enqueue(task *SyncTask) error {
	q.tasks = append(q.tasks, task)
	return nil
}
func (q *recordingQueue) IsAsync() bool { return false }
func (q *recordingQueue) Close() error  { return nil }

func TestSyncScheduler_EnqueueActive(t *testing.T) {
	db := newTestDB(t)
	db.Create(&models.Mirror{Name: "on", ProjectID: 1, MirrorProjectID: 2, OwnerID: 1, IsActive: true})
	off := models.Mirror{Name: "off", ProjectID: 3, MirrorProjectID: 4, OwnerID: 1, IsActive: true}
	db.Create(&off)
	db.Model(&off).Update("is_active", false)

	queue := &recordingQueue{}
	n, err := NewSyncScheduler(db, queue, "", time.UTC).EnqueueActive("schedule")
	if err != nil {
		t.Fatalf("EnqueueActive() error = %v", err)
	}
	if n != 1 || len(queue.tasks) != 1 {
		t.Fatalf("queued = %d (%d tasks), expected 1", n, len(queue.tasks))
	}
	if queue.tasks[0].Trigger != "schedule" {
		t.Errorf("Trigger = %q, expected %q", queue.tasks[0].Trigger, "schedule")
	}
}

func TestSyncScheduler_Reschedule(t *testing.T) {
	db := newTestDB(t)
	s := NewSyncScheduler(db, &recordingQueue{}, "*/15 * * * *", time.UTC)

	if err := s.Reschedule(); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if s.currentEntryID == 0 {
		t.Error("Reschedule() should add a cron entry")
	}

	_ = NewSystemConfigService(db).Set("sync_schedule", "not a cron")
	if err := s.Reschedule(); err == nil {
		t.Error("Reschedule() should reject an invalid expression")
	}

	_ = NewSystemConfigService(db).Set("sync_schedule", "")
	if err := s.Reschedule(); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if s.currentEntryID != 0 || len(s.cronScheduler.Entries()) != 0 {
		t.Error("an empty schedule should disable runs")
	}
}

func TestValidateSchedule(t *testing.T) {
	if err := ValidateSchedule(""); err != nil {
		t.Errorf("empty schedule should be valid: %v", err)
	}
	if err := ValidateSchedule("*/15 * * * *"); err != nil {
		t.Errorf("expected valid: %v", err)
	}
	if err := ValidateSchedule("every monday"); err == nil {
		t.Error("expected error for invalid expression")
	}
}
