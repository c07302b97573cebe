package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"vigil-worker-go/internal/services/pipeline"
	"vigil-worker-go/internal/store"
)

// SystemHandler exposes worker-level runtime and pipeline statistics
type SystemHandler struct {
	WorkerID  string
	pipeline  *pipeline.Pipeline
	store     *store.Store
	connected func() bool
	startedAt time.Time
}

func NewSystemHandler(workerID string, p *pipeline.Pipeline, s *store.Store, connected func() bool) *SystemHandler {
	return &SystemHandler{
		WorkerID:  workerID,
		pipeline:  p,
		store:     s,
		connected: connected,
		startedAt: time.Now(),
	}
}

// @Summary Get system stats
// @Description Get runtime, pipeline and store statistics
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stored, err := h.store.Count(c.Request.Context())
	if err != nil {
		stored = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"worker_id": h.WorkerID,
		"uptime_s":  int64(time.Since(h.startedAt).Seconds()),
		"runtime": gin.H{
			"memory_mb":  m.Alloc / 1024 / 1024,
			"cpu_cores":  runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
			"go_version": runtime.Version(),
		},
		"pipeline":       h.pipeline.Stats(),
		"stored_events":  stored,
		"nats_connected": h.connected(),
		"timestamp":      time.Now().Unix(),
	})
}
