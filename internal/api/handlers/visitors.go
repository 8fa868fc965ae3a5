package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/pkg/dto"
)

type VisitorStore interface {
	ListVisitorSummaries(ctx context.Context, cameraID string) ([]models.VisitorSummary, error)
}

type VisitorHandler struct {
	db VisitorStore
}

func NewVisitorHandler(db VisitorStore) *VisitorHandler {
	return &VisitorHandler{db: db}
}

// List returns every visitor seen on a camera with its sighting aggregate.
func (h *VisitorHandler) List(c *gin.Context) {
	cameraID := c.Param("camera")

	summaries, err := h.db.ListVisitorSummaries(c.Request.Context(), cameraID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.VisitorListResponse{
		CameraID: cameraID,
		Visitors: make([]dto.VisitorResponse, 0, len(summaries)),
	}
	for _, v := range summaries {
		resp.Visitors = append(resp.Visitors, dto.VisitorResponse{
			VisitorID:       v.VisitorID,
			FirstSeen:       v.FirstSeen.Format(time.RFC3339),
			LastSeen:        v.LastSeen.Format(time.RFC3339),
			Sightings:       v.Sightings,
			MaxDwellSeconds: v.MaxDwellSeconds,
			LastEmotion:     v.LastEmotion,
		})
	}

	c.JSON(http.StatusOK, resp)
}
