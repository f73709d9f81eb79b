package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/tracker"
	"gorm.io/gorm"
)

var ErrAccountLinked = errors.New("remote account is already linked to another user")

// CredentialService stores API keys. Every key is checked against its server
// first, which also tells us the remote account id.
type CredentialService struct {
	db        *gorm.DB
	connector tracker.Connector
}

func NewCredentialService(db *gorm.DB, connector tracker.Connector) *CredentialService {
	return &CredentialService{db: db, connector: connector}
}

type CredentialListRequest struct {
	UserID   uint `form:"user_id"`
	ServerID uint `form:"server_id"`
}

type SaveCredentialRequest struct {
	UserID   uint   `json:"user_id" binding:"required"`
	ServerID uint   `json:"server_id" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
}

// CredentialResponse never carries the full key.
type CredentialResponse struct {
	models.Credential
	APIKeyMasked string `json:"api_key_masked"`
	HasAPIKey    bool   `json:"has_api_key"`
}

func toCredentialResponse(c *models.Credential) CredentialResponse {
	return CredentialResponse{Credential: *c, APIKeyMasked: c.MaskAPIKey(), HasAPIKey: c.APIKey != ""}
}

func (s *CredentialService) List(req *CredentialListRequest) ([]CredentialResponse, error) {
	query := s.db.Preload("User")
	if req.UserID != 0 {
		query = query.Where("user_id = ?", req.UserID)
	}
	if req.ServerID != 0 {
		query = query.Where("server_id = ?", req.ServerID)
	}

	var creds []models.Credential
	if err := query.Order("server_id, user_id").Find(&creds).Error; err != nil {
		return nil, err
	}

	items := make([]CredentialResponse, 0, len(creds))
	for i := range creds {
		items = append(items, toCredentialResponse(&creds[i]))
	}
	return items, nil
}

// Save validates the key with the server and stores it. An account that sync
// already linked to the same user gets the key attached to that row.
func (s *CredentialService) Save(ctx context.Context, req *SaveCredentialRequest) (*CredentialResponse, error) {
	var server models.Server
	if err := s.db.First(&server, req.ServerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServerNotFound
		}
		return nil, err
	}
	var user models.User
	if err := s.db.First(&user, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	apiKey := strings.TrimSpace(req.APIKey)
	gw, err := s.connector.Connect(tracker.Endpoint{Driver: server.Driver, BaseURI: server.BaseURI, APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	account, err := gw.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("check api key on %s: %w", server.Name, err)
	}

	var cred models.Credential
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var linked models.Credential
		err := tx.Where("server_id = ? AND ext_id = ?", server.ID, account.ID).First(&linked).Error
		switch {
		case err == nil && linked.UserID != user.ID:
			return ErrAccountLinked
		case err == nil:
			cred = linked
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		default:
			err := tx.Where("user_id = ? AND server_id = ?", user.ID, server.ID).First(&cred).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				cred = models.Credential{UserID: user.ID, ServerID: server.ID}
			} else if err != nil {
				return err
			}
		}

		cred.ExtID = account.ID
		cred.Username = account.Login
		cred.APIKey = apiKey
		return tx.Save(&cred).Error
	})
	if err != nil {
		return nil, err
	}

	resp := toCredentialResponse(&cred)
	return &resp, nil
}

// Delete forgets the key. The account link stays so authorship is kept.
func (s *CredentialService) Delete(id uint) error {
	result := s.db.Model(&models.Credential{}).Where("id = ?", id).Update("api_key", "")
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
