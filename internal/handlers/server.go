package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/pkg/response"
	"gorm.io/gorm"
)

type ServerHandler struct {
	serverService *services.ServerService
}

func NewServerHandler(db *gorm.DB) *ServerHandler {
	return &ServerHandler{
		serverService: services.NewServerService(db),
	}
}

// List
// GET /api/servers
func (h *ServerHandler) List(c *gin.Context) {
	servers, err := h.serverService.List()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, servers)
}

// GetByID
// GET /api/servers/:id
func (h *ServerHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id", "server")
	if !ok {
		return
	}
	server, err := h.serverService.GetByID(id)
	if err != nil {
		response.NotFound(c, "server not found")
		return
	}
	response.Success(c, server)
}

// Create
// POST /api/servers
func (h *ServerHandler) Create(c *gin.Context) {
	var req services.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	server, err := h.serverService.Create(&req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, server)
}

// Update
// PUT /api/servers/:id
func (h *ServerHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id", "server")
	if !ok {
		return
	}

	var req services.UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	server, err := h.serverService.Update(id, &req)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.NotFound(c, "server not found")
		return
	}
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, server)
}

// Delete
// DELETE /api/servers/:id
func (h *ServerHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id", "server")
	if !ok {
		return
	}

	err := h.serverService.Delete(id)
	switch {
	case errors.Is(err, services.ErrServerInUse):
		response.Conflict(c, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.NotFound(c, "server not found")
	case err != nil:
		response.ServerError(c, err.Error())
	default:
		response.Success(c, gin.H{"message": "server deleted"})
	}
}

// ListLabels
// GET /api/servers/:id/labels?type=status
func (h *ServerHandler) ListLabels(c *gin.Context) {
	id, ok := paramID(c, "id", "server")
	if !ok {
		return
	}

	var req services.LabelListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	labels, err := h.serverService.ListLabels(id, &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, labels)
}

// UpsertLabel
// POST /api/servers/:id/labels
func (h *ServerHandler) UpsertLabel(c *gin.Context) {
	id, ok := paramID(c, "id", "server")
	if !ok {
		return
	}

	var req services.UpsertLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	label, err := h.serverService.UpsertLabel(id, &req)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.NotFound(c, "server not found")
		return
	}
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, label)
}
