package handlers

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/middleware"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/pkg/response"
	"gorm.io/gorm"
)

type MirrorHandler struct {
	mirrorService *services.MirrorService
	runner        *services.SyncRunner
	queue         services.TaskQueue
}

func NewMirrorHandler(db *gorm.DB, runner *services.SyncRunner, queue services.TaskQueue) *MirrorHandler {
	return &MirrorHandler{
		mirrorService: services.NewMirrorService(db),
		runner:        runner,
		queue:         queue,
	}
}

// mirrorError maps service errors: not found to 404, validation to 400.
func mirrorError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrMirrorNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	response.BadRequest(c, err.Error())
}

// List
// GET /api/mirrors
func (h *MirrorHandler) List(c *gin.Context) {
	var req services.MirrorListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.mirrorService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}

// GetByID
// GET /api/mirrors/:id
func (h *MirrorHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}

	mirror, err := h.mirrorService.GetByID(id)
	if err != nil {
		mirrorError(c, err)
		return
	}
	response.Success(c, mirror)
}

// Create
// POST /api/mirrors
func (h *MirrorHandler) Create(c *gin.Context) {
	var req services.CreateMirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	mirror, err := h.mirrorService.Create(&req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Created(c, mirror)
}

// Update
// PUT /api/mirrors/:id
func (h *MirrorHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}

	var req services.UpdateMirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	mirror, err := h.mirrorService.Update(id, &req)
	if err != nil {
		mirrorError(c, err)
		return
	}
	response.Success(c, mirror)
}

// Delete
// DELETE /api/mirrors/:id
func (h *MirrorHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}

	if err := h.mirrorService.Delete(id); err != nil {
		if errors.Is(err, services.ErrMirrorNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "mirror deleted"})
}

// ListRules
// GET /api/mirrors/:id/rules
func (h *MirrorHandler) ListRules(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}

	rules, err := h.mirrorService.ListRules(id)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, rules)
}

// CreateRule
// POST /api/mirrors/:id/rules
func (h *MirrorHandler) CreateRule(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}

	var req services.CreateLabelRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	rule, err := h.mirrorService.CreateRule(id, &req)
	if err != nil {
		mirrorError(c, err)
		return
	}
	response.Created(c, rule)
}

// DeleteRule
// DELETE /api/mirrors/:id/rules/:rule_id
func (h *MirrorHandler) DeleteRule(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}
	ruleID, ok := paramID(c, "rule_id", "rule")
	if !ok {
		return
	}

	if err := h.mirrorService.DeleteRule(id, ruleID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "rule not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "rule deleted"})
}

// Sync queues a Pull then Push run of the mirror.
// POST /api/mirrors/:id/sync
func (h *MirrorHandler) Sync(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}

	mirror, err := h.mirrorService.GetByID(id)
	if err != nil {
		mirrorError(c, err)
		return
	}
	if h.queue == nil {
		response.ServerError(c, "task queue is not initialized")
		return
	}

	if err := h.queue.Enqueue(&services.SyncTask{MirrorID: mirror.ID, Trigger: "manual"}); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	uid := middleware.GetUserID(c)
	services.LogInfo("Sync", "Manual run",
		fmt.Sprintf("Run of mirror %q requested by %s", mirror.Name, middleware.GetUsername(c)),
		&uid, c.ClientIP(), c.Request.UserAgent(), map[string]interface{}{"mirror_id": mirror.ID, "async": h.queue.IsAsync()})
	response.Accepted(c, gin.H{"mirror_id": mirror.ID, "async": h.queue.IsAsync()})
}

// Pending lists the local issues the next Push would send, per project.
// GET /api/mirrors/:id/pending
func (h *MirrorHandler) Pending(c *gin.Context) {
	id, ok := paramID(c, "id", "mirror")
	if !ok {
		return
	}

	pending, err := h.runner.Pending(id)
	if err != nil {
		if errors.Is(err, services.ErrMirrorNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, pending)
}
