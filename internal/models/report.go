package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is the per-cycle output record for one detected face.
type Person struct {
	VisitorID    *int           `json:"visitor_id,omitempty"` // nil when resolution did not assign one
	FaceID       string         `json:"face_id"`
	Rect         Rect           `json:"rect"`
	Attributes   FaceAttributes `json:"attributes"`
	Emotion      string         `json:"emotion"`
	DwellSeconds float64        `json:"dwell_seconds"`
}

// CycleReport is everything one cycle produced for one camera.
type CycleReport struct {
	CycleID         uuid.UUID     `json:"cycle_id"`
	CameraID        string        `json:"camera_id"`
	FrameID         uuid.UUID     `json:"frame_id"`
	FrameRef        string        `json:"frame_ref,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
	ActiveVisitorID *int          `json:"active_visitor_id,omitempty"`
	Persons         []Person      `json:"persons"`
	Duration        time.Duration `json:"duration"`
}

// Sighting is a persisted Person record.
type Sighting struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	CycleID      uuid.UUID      `json:"cycle_id" db:"cycle_id"`
	CameraID     string         `json:"camera_id" db:"camera_id"`
	VisitorID    *int           `json:"visitor_id,omitempty" db:"visitor_id"`
	FaceID       string         `json:"face_id" db:"face_id"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	Rect         Rect           `json:"rect" db:"-"`
	Attributes   FaceAttributes `json:"attributes" db:"attributes"`
	Emotion      string         `json:"emotion" db:"emotion"`
	DwellSeconds float64        `json:"dwell_seconds" db:"dwell_seconds"`
	FrameKey     string         `json:"frame_key" db:"frame_key"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// VisitorSummary aggregates the sightings of one visitor on one camera.
type VisitorSummary struct {
	CameraID        string    `json:"camera_id"`
	VisitorID       int       `json:"visitor_id"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	Sightings       int       `json:"sightings"`
	MaxDwellSeconds float64   `json:"max_dwell_seconds"`
	LastEmotion     string    `json:"last_emotion"`
}
