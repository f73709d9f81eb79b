package services

import (
	"errors"

	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
)

var ErrProjectInUse = errors.New("project is part of a mirror")

type ProjectService struct {
	db *gorm.DB
}

func NewProjectService(db *gorm.DB) *ProjectService {
	return &ProjectService{db: db}
}

type ProjectListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	ServerID uint   `form:"server_id"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

type CreateProjectRequest struct {
	ServerID    uint   `json:"server_id" binding:"required"`
	ExtID       int    `json:"ext_id" binding:"required,min=1"`
	Identifier  string `json:"identifier"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type UpdateProjectRequest struct {
	Identifier  *string `json:"identifier"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type CreateMilestoneRequest struct {
	ExtID int    `json:"ext_id" binding:"required,min=1"`
	Name  string `json:"name" binding:"required"`
}

// List returns paginated projects
func (s *ProjectService) List(req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	var projects []models.Project
	var total int64

	query := s.db.Model(&models.Project{})

	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.ServerID != 0 {
		query = query.Where("server_id = ?", req.ServerID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Server").Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, err
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    projects,
	}, nil
}

// GetByID returns a project by ID
func (s *ProjectService) GetByID(id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.Preload("Server").First(&project, id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// Create registers a remote project so it can be mirrored.
func (s *ProjectService) Create(req *CreateProjectRequest) (*models.Project, error) {
	var server models.Server
	if err := s.db.First(&server, req.ServerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServerNotFound
		}
		return nil, err
	}

	// Issues and watermarks of a deleted project are kept, so registering it again revives the row.
	var existing models.Project
	err := s.db.Unscoped().Where("server_id = ? AND ext_id = ?", req.ServerID, req.ExtID).First(&existing).Error
	if err == nil {
		if !existing.DeletedAt.Valid {
			return nil, errors.New("project is already registered on this server")
		}
		if err := s.db.Unscoped().Model(&existing).Updates(map[string]interface{}{
			"deleted_at":  nil,
			"identifier":  req.Identifier,
			"name":        req.Name,
			"description": req.Description,
		}).Error; err != nil {
			return nil, err
		}
		return s.GetByID(existing.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	project := models.Project{
		ServerID:    req.ServerID,
		ExtID:       req.ExtID,
		Identifier:  req.Identifier,
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.db.Create(&project).Error; err != nil {
		return nil, err
	}
	return s.GetByID(project.ID)
}

// Update changes display fields only. The server and remote id are fixed.
func (s *ProjectService) Update(id uint, req *UpdateProjectRequest) (*models.Project, error) {
	project, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Identifier != nil {
		updates["identifier"] = *req.Identifier
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) > 0 {
		if err := s.db.Model(project).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetByID(id)
}

// Delete refuses while a mirror still uses the project.
func (s *ProjectService) Delete(id uint) error {
	var count int64
	if err := s.db.Model(&models.Mirror{}).Where("project_id = ? OR mirror_project_id = ?", id, id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrProjectInUse
	}
	return s.db.Delete(&models.Project{}, id).Error
}

func (s *ProjectService) ListMilestones(projectID uint) ([]models.Milestone, error) {
	var milestones []models.Milestone
	if err := s.db.Where("project_id = ?", projectID).Order("name").Find(&milestones).Error; err != nil {
		return nil, err
	}
	return milestones, nil
}

// CreateMilestone declares a remote version so mirrors can use it as a fallback.
func (s *ProjectService) CreateMilestone(projectID uint, req *CreateMilestoneRequest) (*models.Milestone, error) {
	if _, err := s.GetByID(projectID); err != nil {
		return nil, err
	}
	milestone := models.Milestone{ProjectID: projectID, ExtID: req.ExtID, Name: req.Name}
	if err := s.db.Where(models.Milestone{ProjectID: projectID, ExtID: req.ExtID}).
		Assign(models.Milestone{Name: req.Name}).
		FirstOrCreate(&milestone).Error; err != nil {
		return nil, err
	}
	return &milestone, nil
}
