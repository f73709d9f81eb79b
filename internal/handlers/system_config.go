package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/pkg/logger"
	"github.com/huangang/trackmirror/pkg/response"
	"gorm.io/gorm"
)

// Rescheduler picks up a changed sync_schedule.
type Rescheduler interface {
	Reschedule() error
}

type SystemConfigHandler struct {
	configService *services.SystemConfigService
	scheduler     Rescheduler
}

func NewSystemConfigHandler(db *gorm.DB, scheduler Rescheduler) *SystemConfigHandler {
	return &SystemConfigHandler{
		configService: services.NewSystemConfigService(db),
		scheduler:     scheduler,
	}
}

// GetGroup
// GET /api/system-config/:group
func (h *SystemConfigHandler) GetGroup(c *gin.Context) {
	configs, err := h.configService.GetByGroup(c.Param("group"))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, configs)
}

// Update writes several keys at once and reschedules runs when sync_schedule changed.
// PUT /api/system-config
func (h *SystemConfigHandler) Update(c *gin.Context) {
	var req services.UpdateConfigsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	schedule, scheduleChanged := req.Values["sync_schedule"]
	if scheduleChanged {
		if err := services.ValidateSchedule(schedule); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	if err := h.configService.SetMany(req.Values); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if scheduleChanged && h.scheduler != nil {
		if err := h.scheduler.Reschedule(); err != nil {
			logger.Errorf("[SystemConfig] Reschedule failed: %v", err)
			response.ServerError(c, err.Error())
			return
		}
	}

	response.Success(c, gin.H{"updated": len(req.Values)})
}
