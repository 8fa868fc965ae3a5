package dto

type VisitorResponse struct {
	VisitorID       int     `json:"visitor_id"`
	FirstSeen       string  `json:"first_seen"`
	LastSeen        string  `json:"last_seen"`
	Sightings       int     `json:"sightings"`
	MaxDwellSeconds float64 `json:"max_dwell_seconds"`
	LastEmotion     string  `json:"last_emotion,omitempty"`
}

type VisitorListResponse struct {
	CameraID string            `json:"camera_id"`
	Visitors []VisitorResponse `json:"visitors"`
}
