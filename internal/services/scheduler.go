package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// SyncScheduler enqueues every active mirror on a cron schedule.
// The "sync_schedule" system config overrides the configured default.
type SyncScheduler struct {
	db              *gorm.DB
	queue           TaskQueue
	configSvc       *SystemConfigService
	defaultSchedule string
	cronScheduler   *cron.Cron
	currentEntryID  cron.EntryID
	mu              sync.Mutex
}

func NewSyncScheduler(db *gorm.DB, queue TaskQueue, defaultSchedule string, loc *time.Location) *SyncScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &SyncScheduler{
		db:              db,
		queue:           queue,
		configSvc:       NewSystemConfigService(db),
		defaultSchedule: defaultSchedule,
		cronScheduler:   cron.New(cron.WithLocation(loc)),
	}
}

func (s *SyncScheduler) Start() error {
	if err := s.Reschedule(); err != nil {
		return err
	}
	s.cronScheduler.Start()
	logger.Infof("[SyncScheduler] Scheduler started")
	return nil
}

func (s *SyncScheduler) Stop() {
	<-s.cronScheduler.Stop().Done()
}

// Schedule returns the cron expression currently in effect. Empty means disabled.
func (s *SyncScheduler) Schedule() string {
	return s.configSvc.GetWithDefault("sync_schedule", s.defaultSchedule)
}

// Reschedule replaces the cron entry with the current schedule.
func (s *SyncScheduler) Reschedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentEntryID != 0 {
		s.cronScheduler.Remove(s.currentEntryID)
		s.currentEntryID = 0
	}

	expr := s.Schedule()
	if expr == "" {
		logger.Infof("[SyncScheduler] Scheduled runs disabled")
		return nil
	}

	entryID, err := s.cronScheduler.AddFunc(expr, func() {
		if _, err := s.EnqueueActive("schedule"); err != nil {
			logger.Errorf("[SyncScheduler] Failed to enqueue mirrors: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", expr, err)
	}

	s.currentEntryID = entryID
	logger.Infof("[SyncScheduler] Scheduled (cron: %s)", expr)
	return nil
}

// ValidateSchedule reports whether expr is empty or a standard five field cron expression.
func ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", expr, err)
	}
	return nil
}

// EnqueueActive queues a run for every active mirror and returns how many were queued.
func (s *SyncScheduler) EnqueueActive(trigger string) (int, error) {
	var ids []uint
	if err := s.db.Model(&models.Mirror{}).Where("is_active = ?", true).Order("id").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(&SyncTask{MirrorID: id, Trigger: trigger}); err != nil {
			logger.Errorf("[SyncScheduler] Failed to enqueue mirror %d: %v", id, err)
			continue
		}
		queued++
	}
	return queued, nil
}
