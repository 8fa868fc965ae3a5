package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/your-org/dwell/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// SightingFilter selects sightings of one camera.
type SightingFilter struct {
	CameraID  string
	VisitorID *int
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (f SightingFilter) where() (string, []any) {
	clauses := []string{"camera_id = $1"}
	args := []any{f.CameraID}

	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.VisitorID != nil {
		add("visitor_id = $%d", *f.VisitorID)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp <= $%d", *f.To)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (f SightingFilter) page() (limit, offset int) {
	limit, offset = f.Limit, f.Offset
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// SightingsFromReport turns every person of a cycle report into a sighting
// row. Ids are left for CreateSightings to assign.
func SightingsFromReport(r models.CycleReport) []models.Sighting {
	out := make([]models.Sighting, 0, len(r.Persons))
	for _, p := range r.Persons {
		out = append(out, models.Sighting{
			CycleID:      r.CycleID,
			CameraID:     r.CameraID,
			VisitorID:    p.VisitorID,
			FaceID:       p.FaceID,
			Timestamp:    r.Timestamp,
			Rect:         p.Rect,
			Attributes:   p.Attributes,
			Emotion:      p.Emotion,
			DwellSeconds: p.DwellSeconds,
			FrameKey:     r.FrameRef,
		})
	}
	return out
}
