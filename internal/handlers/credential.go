package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/middleware"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/internal/tracker"
	"github.com/huangang/trackmirror/pkg/response"
	"gorm.io/gorm"
)

type CredentialHandler struct {
	credentialService *services.CredentialService
}

func NewCredentialHandler(db *gorm.DB, connector tracker.Connector) *CredentialHandler {
	return &CredentialHandler{
		credentialService: services.NewCredentialService(db, connector),
	}
}

// List shows every credential to admins and only their own to other users.
// GET /api/credentials?user_id=&server_id=
func (h *CredentialHandler) List(c *gin.Context) {
	var req services.CredentialListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if middleware.GetRole(c) != "admin" {
		req.UserID = middleware.GetUserID(c)
	}

	creds, err := h.credentialService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, creds)
}

// Save validates the key against the server and stores it.
// POST /api/credentials
func (h *CredentialHandler) Save(c *gin.Context) {
	var req services.SaveCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if middleware.GetRole(c) != "admin" && req.UserID != middleware.GetUserID(c) {
		response.Forbidden(c, "only admins can set keys of other users")
		return
	}

	cred, err := h.credentialService.Save(c.Request.Context(), &req)
	switch {
	case errors.Is(err, services.ErrAccountLinked):
		response.Conflict(c, err.Error())
		return
	case errors.Is(err, services.ErrServerNotFound), errors.Is(err, services.ErrUserNotFound):
		response.NotFound(c, err.Error())
		return
	case tracker.IsAccessError(err):
		response.BadRequest(c, "api key rejected by server: "+err.Error())
		return
	case err != nil:
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, cred)
}

// Delete clears the stored key.
// DELETE /api/credentials/:id
func (h *CredentialHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id", "credential")
	if !ok {
		return
	}

	if err := h.credentialService.Delete(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "credential not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "credential removed"})
}
