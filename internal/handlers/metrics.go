package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services"
	"gorm.io/gorm"
)

var startTime = time.Now()

type MetricsHandler struct {
	db *gorm.DB
}

func NewMetricsHandler(db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{db: db}
}

// Metrics returns Prometheus-compatible text format metrics.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "trackmirror_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "trackmirror_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "trackmirror_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))

	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "trackmirror_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "trackmirror_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	writeGauge(&b, "trackmirror_sse_active_clients", "Number of active SSE connections", float64(services.GetSSEHub().ClientCount()))

	queueAsync := 0.0
	if q := services.GetTaskQueue(); q != nil && q.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "trackmirror_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// -- Mirror metrics --
	var mirrors, activeMirrors, issues, synced int64
	h.db.Model(&models.Mirror{}).Count(&mirrors)
	h.db.Model(&models.Mirror{}).Where("is_active = ?", true).Count(&activeMirrors)
	h.db.Model(&models.Issue{}).Count(&issues)
	h.db.Model(&models.SyncedIssue{}).Count(&synced)

	writeGauge(&b, "trackmirror_mirrors_total", "Number of configured mirrors", float64(mirrors))
	writeGauge(&b, "trackmirror_mirrors_active", "Number of mirrors run by the scheduler", float64(activeMirrors))
	writeGauge(&b, "trackmirror_issues_total", "Number of local issues", float64(issues))
	writeGauge(&b, "trackmirror_synced_issues_total", "Number of issue watermarks", float64(synced))

	// -- Sync runs in the last 24h, by type and status --
	type bucket struct {
		Type   string
		Status string
		Count  int64
		Errors int64
	}
	var buckets []bucket
	h.db.Model(&models.SyncLog{}).
		Select("type, status, COUNT(*) AS count, COALESCE(SUM(error_count), 0) AS errors").
		Where("started_at >= ?", time.Now().Add(-24*time.Hour)).
		Group("type, status").
		Order("type, status").
		Scan(&buckets)

	b.WriteString("# HELP trackmirror_sync_runs_24h Pull and Push runs started in the last 24 hours\n")
	b.WriteString("# TYPE trackmirror_sync_runs_24h gauge\n")
	var errorTotal int64
	for _, bk := range buckets {
		fmt.Fprintf(&b, "trackmirror_sync_runs_24h{type=%q,status=%q} %d\n", bk.Type, bk.Status, bk.Count)
		errorTotal += bk.Errors
	}
	b.WriteString("\n")
	writeGauge(&b, "trackmirror_sync_errors_24h", "Item errors recorded by runs in the last 24 hours", float64(errorTotal))

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
