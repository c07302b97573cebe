package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/models"
	"vigil-worker-go/internal/store"
)

type EventsHandler struct {
	store *store.Store
}

func NewEventsHandler(s *store.Store) *EventsHandler {
	return &EventsHandler{store: s}
}

// parseRange resolves either a named period (?period=day|week|month|year)
// or an explicit ?from / ?to pair in RFC 3339. Period wins when both are
// present; no parameters means the last day.
func parseRange(c *gin.Context) (store.Range, error) {
	if p := c.Query("period"); p != "" {
		return store.PeriodRange(store.Period(p), time.Now())
	}

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" && toStr == "" {
		return store.PeriodRange(store.PeriodDay, time.Now())
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return store.Range{}, err
	}
	to := time.Now()
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return store.Range{}, err
		}
	}
	return store.NewRange(from, to)
}

// ListEvents queries stored events
// @Summary Query events
// @Description List events in a time window, optionally filtered by camera or classification
// @Tags events
// @Produce json
// @Param period query string false "Named period: day, week, month or year"
// @Param from query string false "Window start, RFC 3339"
// @Param to query string false "Window end, RFC 3339"
// @Param camera_id query string false "Filter by camera"
// @Param classification query string false "Filter by classification"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /events [get]
func (h *EventsHandler) ListEvents(c *gin.Context) {
	r, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := store.EventFilter{
		CameraID:       c.Query("camera_id"),
		Classification: models.Classification(c.Query("classification")),
	}

	var events []models.Event
	if filter.CameraID == "" && filter.Classification == "" {
		events, err = h.store.Query(c.Request.Context(), r)
	} else {
		events, err = h.store.QueryFiltered(c.Request.Context(), r, filter)
	}
	if err != nil {
		log.Error().Err(err).Msg("Event query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
		"from":   r.From,
		"to":     r.To,
	})
}

type ExportRequest struct {
	Period      string `json:"period"`
	From        string `json:"from"`
	To          string `json:"to"`
	Destination string `json:"destination" binding:"required"`
}

// ExportEvents writes events in a window to a CSV file
// @Summary Export events to CSV
// @Description Export all events in a time window to a CSV file on the worker host
// @Tags events
// @Accept json
// @Produce json
// @Param request body ExportRequest true "Export window and destination path"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /events/export [post]
func (h *EventsHandler) ExportEvents(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var r store.Range
	var err error
	switch {
	case req.Period != "":
		r, err = store.PeriodRange(store.Period(req.Period), time.Now())
	case req.From != "":
		var from, to time.Time
		if from, err = time.Parse(time.RFC3339, req.From); err != nil {
			break
		}
		to = time.Now()
		if req.To != "" {
			if to, err = time.Parse(time.RFC3339, req.To); err != nil {
				break
			}
		}
		r, err = store.NewRange(from, to)
	default:
		r, err = store.PeriodRange(store.PeriodDay, time.Now())
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := h.store.ExportCSV(c.Request.Context(), r, req.Destination)
	if err != nil {
		log.Error().Err(err).Str("destination", req.Destination).Msg("Export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("destination", req.Destination).Int("count", count).Msg("Events exported")
	c.JSON(http.StatusOK, gin.H{
		"destination": req.Destination,
		"count":       count,
		"from":        r.From,
		"to":          r.To,
	})
}
