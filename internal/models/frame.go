package models

import (
	"time"

	"github.com/google/uuid"
)

// FrameTask is the message published to NATS for each ingested frame.
type FrameTask struct {
	CameraID  string    `json:"camera_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key
	Width     int       `json:"width"`
}

// CameraType is the kind of source a camera URL points at.
type CameraType string

const (
	CameraTypeRTSP    CameraType = "rtsp"
	CameraTypeHTTP    CameraType = "http"
	CameraTypeYouTube CameraType = "youtube"
)
