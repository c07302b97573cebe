package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/models"
)

// CameraSupervisor is the surface of the supervisor the API depends on
type CameraSupervisor interface {
	AddCamera(camera models.CameraConfig) error
	RemoveCamera(ctx context.Context, cameraID string) error
	StartCamera(cameraID string) error
	StopCamera(ctx context.Context, cameraID string) error
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	CameraState(cameraID string) (models.CameraState, error)
	CameraStates() []models.CameraState
}

type CameraHandler struct {
	supervisor CameraSupervisor
}

func NewCameraHandler(supervisor CameraSupervisor) *CameraHandler {
	return &CameraHandler{supervisor: supervisor}
}

// AddCamera registers a camera
// @Summary Register a camera
// @Description Register a camera without starting it
// @Tags cameras
// @Accept json
// @Produce json
// @Param request body models.CameraConfig true "Camera configuration"
// @Success 201 {object} models.CameraState
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /cameras [post]
func (h *CameraHandler) AddCamera(c *gin.Context) {
	var req models.CameraConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid camera config")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.supervisor.AddCamera(req); err != nil {
		log.Error().Err(err).Str("camera_id", req.CameraID).Msg("Failed to register camera")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	state, err := h.supervisor.CameraState(req.CameraID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("camera_id", req.CameraID).Str("url", req.URL).Msg("Camera registered")
	c.JSON(http.StatusCreated, state)
}

// RemoveCamera stops and deletes a camera
// @Summary Remove a camera
// @Description Stop the camera's worker if running and delete its registration
// @Tags cameras
// @Param id path string true "Camera ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /cameras/{id} [delete]
func (h *CameraHandler) RemoveCamera(c *gin.Context) {
	cameraID := c.Param("id")

	if err := h.supervisor.RemoveCamera(c.Request.Context(), cameraID); err != nil {
		status := http.StatusInternalServerError
		var timeout *models.SupervisorTimeoutError
		switch {
		case errors.As(err, &timeout):
			status = http.StatusGatewayTimeout
		case strings.Contains(err.Error(), "not found"):
			status = http.StatusNotFound
		}
		log.Error().Err(err).Str("camera_id", cameraID).Msg("Failed to remove camera")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Camera removed"})
}

// StartCamera starts a camera's worker
// @Summary Start a camera
// @Description Launch a worker for a registered camera. Starting a failed camera resets its restart budget.
// @Tags cameras
// @Param id path string true "Camera ID"
// @Success 200 {object} models.CameraState
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /cameras/{id}/start [post]
func (h *CameraHandler) StartCamera(c *gin.Context) {
	cameraID := c.Param("id")

	if err := h.supervisor.StartCamera(cameraID); err != nil {
		status := http.StatusConflict
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		log.Error().Err(err).Str("camera_id", cameraID).Msg("Failed to start camera")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	state, _ := h.supervisor.CameraState(cameraID)
	log.Info().Str("camera_id", cameraID).Msg("Camera start requested")
	c.JSON(http.StatusOK, state)
}

// StopCamera stops a camera's worker
// @Summary Stop a camera
// @Description Stop the camera's worker. No restarts are scheduled after an operator stop.
// @Tags cameras
// @Param id path string true "Camera ID"
// @Success 200 {object} models.CameraState
// @Failure 404 {object} map[string]string
// @Router /cameras/{id}/stop [post]
func (h *CameraHandler) StopCamera(c *gin.Context) {
	cameraID := c.Param("id")

	if err := h.supervisor.StopCamera(c.Request.Context(), cameraID); err != nil {
		status := http.StatusInternalServerError
		var timeout *models.SupervisorTimeoutError
		switch {
		case errors.As(err, &timeout):
			status = http.StatusGatewayTimeout
		case strings.Contains(err.Error(), "not found"):
			status = http.StatusNotFound
		}
		log.Error().Err(err).Str("camera_id", cameraID).Msg("Failed to stop camera")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	state, _ := h.supervisor.CameraState(cameraID)
	log.Info().Str("camera_id", cameraID).Msg("Camera stopped")
	c.JSON(http.StatusOK, state)
}

// StartAll starts all registered cameras
// @Summary Start all cameras
// @Tags cameras
// @Success 200 {object} map[string]interface{}
// @Router /cameras/start-all [post]
func (h *CameraHandler) StartAll(c *gin.Context) {
	if err := h.supervisor.StartAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": h.supervisor.CameraStates()})
}

// StopAll stops all cameras
// @Summary Stop all cameras
// @Tags cameras
// @Success 200 {object} map[string]interface{}
// @Router /cameras/stop-all [post]
func (h *CameraHandler) StopAll(c *gin.Context) {
	if err := h.supervisor.StopAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": h.supervisor.CameraStates()})
}

// ListCameras lists all registered cameras
// @Summary List all cameras
// @Description Get all registered cameras with their lifecycle status and counters
// @Tags cameras
// @Success 200 {object} map[string]interface{}
// @Router /cameras [get]
func (h *CameraHandler) ListCameras(c *gin.Context) {
	cameras := h.supervisor.CameraStates()
	c.JSON(http.StatusOK, gin.H{
		"cameras": cameras,
		"count":   len(cameras),
	})
}

// GetCameraStatus returns one camera's state
// @Summary Get camera status
// @Tags cameras
// @Param id path string true "Camera ID"
// @Success 200 {object} models.CameraState
// @Failure 404 {object} map[string]string
// @Router /cameras/{id}/status [get]
func (h *CameraHandler) GetCameraStatus(c *gin.Context) {
	cameraID := c.Param("id")

	state, err := h.supervisor.CameraState(cameraID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}
