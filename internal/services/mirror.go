package services

import (
	"errors"
	"fmt"

	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
)

type MirrorService struct {
	db *gorm.DB
}

func NewMirrorService(db *gorm.DB) *MirrorService {
	return &MirrorService{db: db}
}

type MirrorListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Active   *bool  `form:"active"`
}

type MirrorListResponse struct {
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Items    []models.Mirror `json:"items"`
}

type CreateMirrorRequest struct {
	Name              string `json:"name" binding:"required"`
	ProjectID         uint   `json:"project_id" binding:"required"`
	MirrorProjectID   uint   `json:"mirror_project_id" binding:"required"`
	OwnerID           uint   `json:"owner_id" binding:"required"`
	MilestoneID       *uint  `json:"milestone_id"`
	MirrorMilestoneID *uint  `json:"mirror_milestone_id"`
	IsActive          *bool  `json:"is_active"`
}

type UpdateMirrorRequest struct {
	Name              string `json:"name"`
	OwnerID           uint   `json:"owner_id"`
	MilestoneID       *uint  `json:"milestone_id"`
	MirrorMilestoneID *uint  `json:"mirror_milestone_id"`
	ClearMilestones   bool   `json:"clear_milestones"`
	IsActive          *bool  `json:"is_active"`
}

type CreateLabelRuleRequest struct {
	Direction     models.RuleDirection `json:"direction" binding:"required,oneof=ltr rtl"`
	SourceLabelID uint                 `json:"source_label_id" binding:"required"`
	TargetLabelID uint                 `json:"target_label_id" binding:"required"`
}

func (s *MirrorService) List(req *MirrorListRequest) (*MirrorListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	query := s.db.Model(&models.Mirror{})
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Active != nil {
		query = query.Where("is_active = ?", *req.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var mirrors []models.Mirror
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Project").Preload("MirrorProject").Preload("Owner").
		Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&mirrors).Error; err != nil {
		return nil, err
	}

	return &MirrorListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    mirrors,
	}, nil
}

func (s *MirrorService) GetByID(id uint) (*models.Mirror, error) {
	var mirror models.Mirror
	err := s.db.Preload("Project.Server").Preload("MirrorProject.Server").Preload("Owner").
		Preload("LabelRules.SourceLabel").Preload("LabelRules.TargetLabel").
		First(&mirror, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMirrorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mirror, nil
}

func (s *MirrorService) Create(req *CreateMirrorRequest) (*models.Mirror, error) {
	if req.ProjectID == req.MirrorProjectID {
		return nil, errors.New("a project cannot mirror itself")
	}
	left, err := s.loadProject(req.ProjectID)
	if err != nil {
		return nil, err
	}
	right, err := s.loadProject(req.MirrorProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(req.OwnerID, left, right); err != nil {
		return nil, err
	}
	if err := s.checkMilestone(req.MilestoneID, left); err != nil {
		return nil, err
	}
	if err := s.checkMilestone(req.MirrorMilestoneID, right); err != nil {
		return nil, err
	}

	var count int64
	s.db.Model(&models.Mirror{}).
		Where("(project_id = ? AND mirror_project_id = ?) OR (project_id = ? AND mirror_project_id = ?)",
			left.ID, right.ID, right.ID, left.ID).
		Count(&count)
	if count > 0 {
		return nil, errors.New("these projects are already mirrored")
	}

	mirror := models.Mirror{
		Name:              req.Name,
		ProjectID:         left.ID,
		MirrorProjectID:   right.ID,
		OwnerID:           req.OwnerID,
		MilestoneID:       req.MilestoneID,
		MirrorMilestoneID: req.MirrorMilestoneID,
		IsActive:          req.IsActive == nil || *req.IsActive,
	}
	if err := s.db.Create(&mirror).Error; err != nil {
		return nil, err
	}
	return s.GetByID(mirror.ID)
}

// Update never changes the two projects. Recreate the mirror for that.
func (s *MirrorService) Update(id uint, req *UpdateMirrorRequest) (*models.Mirror, error) {
	mirror, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.OwnerID != 0 {
		if err := s.checkOwner(req.OwnerID, mirror.Project, mirror.MirrorProject); err != nil {
			return nil, err
		}
		updates["owner_id"] = req.OwnerID
	}
	if req.ClearMilestones {
		updates["milestone_id"] = nil
		updates["mirror_milestone_id"] = nil
	}
	if req.MilestoneID != nil {
		if err := s.checkMilestone(req.MilestoneID, mirror.Project); err != nil {
			return nil, err
		}
		updates["milestone_id"] = *req.MilestoneID
	}
	if req.MirrorMilestoneID != nil {
		if err := s.checkMilestone(req.MirrorMilestoneID, mirror.MirrorProject); err != nil {
			return nil, err
		}
		updates["mirror_milestone_id"] = *req.MirrorMilestoneID
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.Model(&models.Mirror{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetByID(id)
}

// Delete removes the mirror and its label rules. Local issues and watermarks stay.
func (s *MirrorService) Delete(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mirror_id = ?", id).Delete(&models.MirrorLabelRule{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Mirror{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrMirrorNotFound
		}
		return nil
	})
}

func (s *MirrorService) ListRules(mirrorID uint) ([]models.MirrorLabelRule, error) {
	var rules []models.MirrorLabelRule
	if err := s.db.Preload("SourceLabel").Preload("TargetLabel").
		Where("mirror_id = ?", mirrorID).Order("direction, type, id").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateRule maps a label of the direction's source server onto one of its
// target server. A second rule for the same source label replaces the first.
func (s *MirrorService) CreateRule(mirrorID uint, req *CreateLabelRuleRequest) (*models.MirrorLabelRule, error) {
	mirror, err := s.GetByID(mirrorID)
	if err != nil {
		return nil, err
	}

	source, target := mirror.Project, mirror.MirrorProject
	if req.Direction == models.RightToLeft {
		source, target = target, source
	}

	var from, to models.Label
	if err := s.db.First(&from, req.SourceLabelID).Error; err != nil {
		return nil, errors.New("source label not found")
	}
	if err := s.db.First(&to, req.TargetLabelID).Error; err != nil {
		return nil, errors.New("target label not found")
	}
	if from.ServerID != source.ServerID {
		return nil, fmt.Errorf("source label must belong to the server of %s", source.Name)
	}
	if to.ServerID != target.ServerID {
		return nil, fmt.Errorf("target label must belong to the server of %s", target.Name)
	}
	if from.Type != to.Type {
		return nil, fmt.Errorf("cannot map a %s onto a %s", from.Type, to.Type)
	}

	rule := models.MirrorLabelRule{
		MirrorID:      mirror.ID,
		Direction:     req.Direction,
		Type:          from.Type,
		SourceLabelID: from.ID,
		TargetLabelID: to.ID,
	}
	err = s.db.Where(models.MirrorLabelRule{MirrorID: mirror.ID, Direction: req.Direction, SourceLabelID: from.ID}).
		Assign(models.MirrorLabelRule{TargetLabelID: to.ID, Type: from.Type}).
		FirstOrCreate(&rule).Error
	if err != nil {
		return nil, err
	}
	rule.SourceLabel = &from
	rule.TargetLabel = &to
	return &rule, nil
}

func (s *MirrorService) DeleteRule(mirrorID, ruleID uint) error {
	result := s.db.Where("id = ? AND mirror_id = ?", ruleID, mirrorID).Delete(&models.MirrorLabelRule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *MirrorService) loadProject(id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.Preload("Server").First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %d not found", id)
		}
		return nil, err
	}
	return &project, nil
}

// checkOwner requires an API key on both servers: the owner pulls every issue.
func (s *MirrorService) checkOwner(ownerID uint, projects ...*models.Project) error {
	var owner models.User
	if err := s.db.First(&owner, ownerID).Error; err != nil {
		return errors.New("owner not found")
	}
	for _, p := range projects {
		var count int64
		s.db.Model(&models.Credential{}).
			Where("user_id = ? AND server_id = ? AND api_key <> ''", ownerID, p.ServerID).
			Count(&count)
		if count == 0 {
			return fmt.Errorf("owner %s has no api key for the server of %s", owner.Username, p.Name)
		}
	}
	return nil
}

func (s *MirrorService) checkMilestone(id *uint, project *models.Project) error {
	if id == nil {
		return nil
	}
	var count int64
	s.db.Model(&models.Milestone{}).Where("id = ? AND project_id = ?", *id, project.ID).Count(&count)
	if count == 0 {
		return fmt.Errorf("milestone %d does not belong to %s", *id, project.Name)
	}
	return nil
}
