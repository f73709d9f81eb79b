package services

import (
	"errors"
	"strconv"

	"github.com/huangang/trackmirror/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where("config_key = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetInt falls back to defaultValue when the key is missing or not a number.
func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(s.GetWithDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("config_key = ?", key).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("config_group = ?", group).Order("config_key").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateConfigsRequest sets several keys at once, keyed by config key.
type UpdateConfigsRequest struct {
	Values map[string]string `json:"values" binding:"required"`
}

// SetMany writes every value in one transaction. Int typed keys must parse.
func (s *SystemConfigService) SetMany(values map[string]string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		svc := NewSystemConfigService(tx)
		for key, value := range values {
			var cfg models.SystemConfig
			if err := tx.Where("config_key = ?", key).First(&cfg).Error; err == nil && cfg.Type == "int" {
				if _, err := strconv.Atoi(value); err != nil {
					return errors.New(key + " must be a number")
				}
			}
			if err := svc.Set(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}
