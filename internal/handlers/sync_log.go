package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/pkg/response"
	"gorm.io/gorm"
)

type SyncLogHandler struct {
	syncLogService *services.SyncLogService
}

func NewSyncLogHandler(db *gorm.DB) *SyncLogHandler {
	return &SyncLogHandler{
		syncLogService: services.NewSyncLogService(db),
	}
}

// List
// GET /api/sync-logs
func (h *SyncLogHandler) List(c *gin.Context) {
	var req services.SyncLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.syncLogService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}

// GetByID returns the log with its per-item errors.
// GET /api/sync-logs/:id
func (h *SyncLogHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id", "sync log")
	if !ok {
		return
	}

	log, err := h.syncLogService.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.NotFound(c, "sync log not found")
		return
	}
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, log)
}
