package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/registry"
)

type SubjectsHandler struct {
	registry *registry.Registry
}

func NewSubjectsHandler(r *registry.Registry) *SubjectsHandler {
	return &SubjectsHandler{registry: r}
}

type RegisterSubjectRequest struct {
	SubjectID   string      `json:"subject_id" binding:"required"`
	DisplayName string      `json:"display_name"`
	Encodings   [][]float64 `json:"encodings" binding:"required"`
}

// RegisterSubject adds or replaces a known subject
// @Summary Register a subject
// @Description Register a known person with one or more face encodings. Re-registering replaces the stored encodings.
// @Tags subjects
// @Accept json
// @Produce json
// @Param request body RegisterSubjectRequest true "Subject and encodings"
// @Success 201 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /subjects [post]
func (h *SubjectsHandler) RegisterSubject(c *gin.Context) {
	var req RegisterSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Encodings) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one encoding is required"})
		return
	}

	if err := h.registry.RegisterSubject(c.Request.Context(), req.SubjectID, req.DisplayName, req.Encodings); err != nil {
		log.Error().Err(err).Str("subject_id", req.SubjectID).Msg("Failed to register subject")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("subject_id", req.SubjectID).Int("encodings", len(req.Encodings)).Msg("Subject registered")
	c.JSON(http.StatusCreated, gin.H{"subject_id": req.SubjectID})
}

// RemoveSubject deletes a subject and its encodings
// @Summary Remove a subject
// @Tags subjects
// @Param id path string true "Subject ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /subjects/{id} [delete]
func (h *SubjectsHandler) RemoveSubject(c *gin.Context) {
	subjectID := c.Param("id")

	if err := h.registry.RemoveSubject(c.Request.Context(), subjectID); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("subject_id", subjectID).Msg("Subject removed")
	c.JSON(http.StatusOK, gin.H{"message": "Subject removed"})
}

// ListSubjects lists registered subjects without their encodings
// @Summary List subjects
// @Tags subjects
// @Success 200 {object} map[string]interface{}
// @Router /subjects [get]
func (h *SubjectsHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.registry.ListSubjects(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subjects": subjects,
		"count":    len(subjects),
	})
}
