package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/pkg/logger"
	"gorm.io/gorm"
)

var globalDB *gorm.DB

func InitSystemLogger(db *gorm.DB) {
	globalDB = db
}

func LogInfo(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("info", module, action, message, userID, ip, userAgent, extra)
}

func LogWarning(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("warning", module, action, message, userID, ip, userAgent, extra)
}

func LogError(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("error", module, action, message, userID, ip, userAgent, extra)
}

func writeLog(level, module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	if globalDB == nil {
		return
	}

	var extraStr string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			extraStr = string(b)
		}
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Extra:     extraStr,
		CreatedAt: time.Now(),
	}
	if err := globalDB.Create(entry).Error; err != nil {
		logger.Errorf("[SystemLog] Failed to write %s/%s: %v", module, action, err)
	}
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

type SystemLogListRequest struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Level     string `form:"level"`
	Module    string `form:"module"`
	Action    string `form:"action"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Search    string `form:"search"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *SystemLogService) List(req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var logs []models.SystemLog
	var total int64

	query := s.db.Model(&models.SystemLog{})

	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.Action != "" {
		query = query.Where("action LIKE ?", "%"+req.Action+"%")
	}
	if req.StartDate != "" {
		query = query.Where("created_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("created_at <= ?", req.EndDate+" 23:59:59")
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

func (s *SystemLogService) GetModules() ([]string, error) {
	var modules []string
	if err := s.db.Model(&models.SystemLog{}).Distinct("module").Pluck("module", &modules).Error; err != nil {
		return nil, err
	}
	return modules, nil
}

func (s *SystemLogService) Create(log *models.SystemLog) error {
	return s.db.Create(log).Error
}

// CleanupOldLogs deletes logs older than the specified number of days
// Returns the number of deleted records
func (s *SystemLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoffTime).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// CleanupOldSyncLogs removes sync logs, and their errors, that finished more than retentionDays ago.
func (s *SystemLogService) CleanupOldSyncLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)
	var deleted int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.SyncLog{}).Select("id").Where("finished_at IS NOT NULL AND finished_at < ?", cutoffTime)
		if err := tx.Where("sync_log_id IN (?)", old).Delete(&models.SyncLogError{}).Error; err != nil {
			return err
		}
		result := tx.Where("finished_at IS NOT NULL AND finished_at < ?", cutoffTime).Delete(&models.SyncLog{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}

// GetRetentionDays gets the system log retention days from system config
func (s *SystemLogService) GetRetentionDays() int {
	return NewSystemConfigService(s.db).GetInt("log_retention_days", 30)
}

// GetSyncLogRetentionDays gets the sync log retention days from system config
func (s *SystemLogService) GetSyncLogRetentionDays() int {
	return NewSystemConfigService(s.db).GetInt("sync_log_retention_days", 90)
}

var (
	cleanupStop chan struct{}
	cleanupMu   sync.Mutex
)

// StartLogCleanupScheduler cleans up old logs now and then once a day.
func StartLogCleanupScheduler(db *gorm.DB) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	if cleanupStop != nil {
		return
	}
	stop := make(chan struct{})
	cleanupStop = stop

	go func() {
		service := NewSystemLogService(db)
		runCleanup(service)

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runCleanup(service)
			case <-stop:
				return
			}
		}
	}()
}

// StopLogCleanupScheduler stops the daily cleanup started by StartLogCleanupScheduler.
func StopLogCleanupScheduler() {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	if cleanupStop != nil {
		close(cleanupStop)
		cleanupStop = nil
	}
}

func runCleanup(service *SystemLogService) {
	if days := service.GetRetentionDays(); days <= 0 {
		logger.Infof("[SystemLog] Log cleanup disabled (retention_days <= 0)")
	} else if deleted, err := service.CleanupOldLogs(days); err != nil {
		logger.Errorf("[SystemLog] Failed to cleanup old logs: %v", err)
	} else if deleted > 0 {
		logger.Infof("[SystemLog] Cleaned up %d logs older than %d days", deleted, days)
	}

	if days := service.GetSyncLogRetentionDays(); days > 0 {
		deleted, err := service.CleanupOldSyncLogs(days)
		if err != nil {
			logger.Errorf("[SystemLog] Failed to cleanup old sync logs: %v", err)
		} else if deleted > 0 {
			logger.Infof("[SystemLog] Cleaned up %d sync logs older than %d days", deleted, days)
		}
	}
}
