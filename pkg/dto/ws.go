package dto

import "github.com/google/uuid"

// WSTypeCycleReport is the only message type the live feed sends.
const WSTypeCycleReport = "cycle_report"

// ReportPerson is one face of a live cycle report.
type ReportPerson struct {
	VisitorID    *int         `json:"visitor_id,omitempty"`
	FaceID       string       `json:"face_id"`
	Rect         RectResponse `json:"rect"`
	Age          float64      `json:"age"`
	Gender       string       `json:"gender"`
	Emotion      string       `json:"emotion"`
	DwellSeconds float64      `json:"dwell_seconds"`
}

// WSReport is a WebSocket message carrying one cycle's result.
type WSReport struct {
	Type            string         `json:"type"`
	CycleID         uuid.UUID      `json:"cycle_id"`
	CameraID        string         `json:"camera_id"`
	FrameID         uuid.UUID      `json:"frame_id"`
	Timestamp       string         `json:"timestamp"`
	ActiveVisitorID *int           `json:"active_visitor_id,omitempty"`
	Persons         []ReportPerson `json:"persons"`
}
