package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/storage"
	"github.com/your-org/dwell/pkg/dto"
)

type SightingStore interface {
	QuerySightings(ctx context.Context, f storage.SightingFilter) ([]models.Sighting, int, error)
	GetSighting(ctx context.Context, id uuid.UUID) (*models.Sighting, error)
}

type FrameStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type SightingHandler struct {
	db     SightingStore
	frames FrameStore
}

func NewSightingHandler(db SightingStore, frames FrameStore) *SightingHandler {
	return &SightingHandler{db: db, frames: frames}
}

// List returns a page of a camera's sightings, newest first.
func (h *SightingHandler) List(c *gin.Context) {
	var q dto.SightingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
		return
	}

	filter := storage.SightingFilter{
		CameraID:  c.Param("camera"),
		VisitorID: q.VisitorID,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	var err error
	if filter.From, err = parseTime(q.From); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return
	}
	if filter.To, err = parseTime(q.To); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return
	}

	sightings, total, err := h.db.QuerySightings(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SightingResponse, 0, len(sightings))
	for _, s := range sightings {
		resp = append(resp, sightingResponse(s))
	}
	c.JSON(http.StatusOK, dto.SightingListResponse{Sightings: resp, Total: total})
}

// Frame proxies the JPEG frame a sighting was captured in.
func (h *SightingHandler) Frame(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sighting id"})
		return
	}

	s, err := h.db.GetSighting(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "sighting not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.FrameKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "sighting has no frame"})
		return
	}

	data, err := h.frames.GetObject(c.Request.Context(), s.FrameKey)
	if err != nil {
		// Frames are pruned independently of sightings.
		slog.Debug("load sighting frame", "sighting", id, "key", s.FrameKey, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

func sightingResponse(s models.Sighting) dto.SightingResponse {
	r := dto.SightingResponse{
		ID:           s.ID,
		CycleID:      s.CycleID,
		CameraID:     s.CameraID,
		VisitorID:    s.VisitorID,
		FaceID:       s.FaceID,
		Timestamp:    s.Timestamp.Format(time.RFC3339Nano),
		Rect:         dto.RectResponse(s.Rect),
		Age:          s.Attributes.Age,
		Gender:       s.Attributes.Gender,
		Emotion:      s.Emotion,
		DwellSeconds: s.DwellSeconds,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
	}
	if s.FrameKey != "" {
		r.FrameURL = "/v1/sightings/" + s.ID.String() + "/frame"
	}
	return r
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
