package services

import (
	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
)

type SyncLogService struct {
	db *gorm.DB
}

func NewSyncLogService(db *gorm.DB) *SyncLogService {
	return &SyncLogService{db: db}
}

type SyncLogListRequest struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	MirrorID  uint   `form:"mirror_id"`
	ProjectID uint   `form:"project_id"`
	Type      string `form:"type" binding:"omitempty,oneof=Pull Push"`
	Status    string `form:"status"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

type SyncLogListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.SyncLog `json:"items"`
}

func (s *SyncLogService) List(req *SyncLogListRequest) (*SyncLogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.SyncLog{})
	if req.MirrorID != 0 {
		query = query.Where("mirror_id = ?", req.MirrorID)
	}
	if req.ProjectID != 0 {
		query = query.Where("project_id = ?", req.ProjectID)
	}
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.StartDate != "" {
		query = query.Where("started_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("started_at <= ?", req.EndDate+" 23:59:59")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []models.SyncLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("started_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &SyncLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

// GetByID returns a sync log with every recorded error.
func (s *SyncLogService) GetByID(id uint) (*models.SyncLog, error) {
	var log models.SyncLog
	err := s.db.Preload("Errors", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).First(&log, id).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}
