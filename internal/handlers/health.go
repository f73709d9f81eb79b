package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database, queue and running syncs.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// CheckHealth
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := 200

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
		status = 503
	}

	queueMode := "sync"
	if q := services.GetTaskQueue(); q != nil && q.IsAsync() {
		queueMode = "async (Redis)"
	}

	var running int64
	h.db.Model(&models.SyncLog{}).Where("status = ?", models.SyncStatusInProcess).Count(&running)

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "trackmirror",
		"components": gin.H{
			"database":      dbStatus,
			"queue_mode":    queueMode,
			"sse_clients":   services.GetSSEHub().ClientCount(),
			"running_syncs": running,
		},
	})
}
