package services

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const mirrorSyncLock = "mirror_sync"

// LockService hands out database leases so two processes never run the same mirror at once.
type LockService struct {
	db *gorm.DB
}

func NewLockService(db *gorm.DB) *LockService {
	return &LockService{db: db}
}

// Lease is a held lock. Release it when done.
type Lease struct {
	Name  string
	Key   string
	Owner string
}

// Acquire takes the (name, key) lock for ttl. It returns nil, nil when
// someone else holds an unexpired lease.
func (s *LockService) Acquire(name, key string, ttl time.Duration) (*Lease, error) {
	owner := uuid.NewString()
	now := time.Now()
	expires := now.Add(ttl)

	taken := s.db.Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND expires_at < ?", name, key, now).
		Updates(map[string]interface{}{"locked_by": owner, "locked_at": now, "expires_at": expires})
	if taken.Error != nil {
		return nil, taken.Error
	}
	if taken.RowsAffected == 1 {
		return &Lease{Name: name, Key: key, Owner: owner}, nil
	}

	lock := models.SchedulerLock{LockName: name, LockKey: key, LockedBy: owner, LockedAt: now, ExpiresAt: expires}
	created := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if created.Error != nil {
		return nil, created.Error
	}
	if created.RowsAffected == 0 {
		return nil, nil
	}
	return &Lease{Name: name, Key: key, Owner: owner}, nil
}

// Release drops the lease if it is still ours.
func (s *LockService) Release(lease *Lease) error {
	if lease == nil {
		return nil
	}
	return s.db.Where("lock_name = ? AND lock_key = ? AND locked_by = ?", lease.Name, lease.Key, lease.Owner).
		Delete(&models.SchedulerLock{}).Error
}

// AcquireMirror locks one mirror for a run.
func (s *LockService) AcquireMirror(mirrorID uint, ttl time.Duration) (*Lease, error) {
	return s.Acquire(mirrorSyncLock, strconv.FormatUint(uint64(mirrorID), 10), ttl)
}
