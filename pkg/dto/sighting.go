package dto

import "github.com/google/uuid"

type RectResponse struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

type SightingResponse struct {
	ID           uuid.UUID    `json:"id"`
	CycleID      uuid.UUID    `json:"cycle_id"`
	CameraID     string       `json:"camera_id"`
	VisitorID    *int         `json:"visitor_id,omitempty"`
	FaceID       string       `json:"face_id"`
	Timestamp    string       `json:"timestamp"`
	Rect         RectResponse `json:"rect"`
	Age          float64      `json:"age"`
	Gender       string       `json:"gender"`
	Emotion      string       `json:"emotion"`
	DwellSeconds float64      `json:"dwell_seconds"`
	FrameURL     string       `json:"frame_url,omitempty"`
	CreatedAt    string       `json:"created_at"`
}

type SightingListResponse struct {
	Sightings []SightingResponse `json:"sightings"`
	Total     int                `json:"total"`
}

type SightingQuery struct {
	VisitorID *int   `form:"visitor_id"`
	From      string `form:"from"`
	To        string `form:"to"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}
