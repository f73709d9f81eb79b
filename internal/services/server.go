package services

import (
	"errors"
	"net/url"
	"strings"

	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrServerInUse    = errors.New("server still has projects")
	ErrServerNotFound = errors.New("server not found")
)

type ServerService struct {
	db *gorm.DB
}

func NewServerService(db *gorm.DB) *ServerService {
	return &ServerService{db: db}
}

type CreateServerRequest struct {
	Name    string `json:"name" binding:"required"`
	Driver  string `json:"driver" binding:"omitempty,oneof=redmine"`
	BaseURI string `json:"base_uri" binding:"required,url"`
}

type UpdateServerRequest struct {
	Name    string `json:"name"`
	BaseURI string `json:"base_uri" binding:"omitempty,url"`
}

func (s *ServerService) List() ([]models.Server, error) {
	var servers []models.Server
	if err := s.db.Order("name").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func (s *ServerService) GetByID(id uint) (*models.Server, error) {
	var server models.Server
	if err := s.db.First(&server, id).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *ServerService) Create(req *CreateServerRequest) (*models.Server, error) {
	base, err := normalizeBaseURI(req.BaseURI)
	if err != nil {
		return nil, err
	}
	driver := req.Driver
	if driver == "" {
		driver = "redmine"
	}

	server := models.Server{Name: req.Name, Driver: driver, BaseURI: base}
	if err := s.db.Create(&server).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *ServerService) Update(id uint, req *UpdateServerRequest) (*models.Server, error) {
	server, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.BaseURI != "" {
		base, err := normalizeBaseURI(req.BaseURI)
		if err != nil {
			return nil, err
		}
		updates["base_uri"] = base
	}
	if len(updates) > 0 {
		if err := s.db.Model(server).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetByID(id)
}

// Delete refuses while projects still live on the server.
func (s *ServerService) Delete(id uint) error {
	var count int64
	if err := s.db.Model(&models.Project{}).Where("server_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrServerInUse
	}
	return s.db.Delete(&models.Server{}, id).Error
}

type LabelListRequest struct {
	Type string `form:"type" binding:"omitempty,oneof=tracker status priority"`
}

func (s *ServerService) ListLabels(serverID uint, req *LabelListRequest) ([]models.Label, error) {
	query := s.db.Where("server_id = ?", serverID)
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	var labels []models.Label
	if err := query.Order("type, position, ext_id").Find(&labels).Error; err != nil {
		return nil, err
	}
	return labels, nil
}

// UpsertLabelRequest declares a tracker, status or priority of a server
// before any issue using it has been pulled.
type UpsertLabelRequest struct {
	Type     models.LabelType `json:"type" binding:"required,oneof=tracker status priority"`
	ExtID    int              `json:"ext_id" binding:"required,min=1"`
	Name     string           `json:"name" binding:"required"`
	IsClosed bool             `json:"is_closed"`
	Position int              `json:"position"`
}

func (s *ServerService) UpsertLabel(serverID uint, req *UpsertLabelRequest) (*models.Label, error) {
	if _, err := s.GetByID(serverID); err != nil {
		return nil, err
	}

	label := models.Label{
		ServerID: serverID,
		Type:     req.Type,
		ExtID:    req.ExtID,
		Name:     req.Name,
		IsClosed: req.IsClosed,
		Position: req.Position,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "type"}, {Name: "ext_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "is_closed", "position", "updated_at"}),
	}).Create(&label).Error
	if err != nil {
		return nil, err
	}

	var stored models.Label
	if err := s.db.Where("server_id = ? AND type = ? AND ext_id = ?", serverID, req.Type, req.ExtID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func normalizeBaseURI(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.New("base_uri must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("base_uri must use http or https")
	}
	return strings.TrimRight(u.String(), "/") + "/", nil
}
