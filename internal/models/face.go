package models

// Rect is a face bounding box in pixel units, as reported by a detector.
type Rect struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

// HeadPose is the head orientation in degrees.
type HeadPose struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// FacialHair holds per-region facial hair likelihoods (0.0 to 1.0).
type FacialHair struct {
	Moustache float64 `json:"moustache"`
	Beard     float64 `json:"beard"`
	Sideburns float64 `json:"sideburns"`
}

// FaceAttributes are detector-produced attributes. They are echoed into
// reports and never interpreted by the tracker.
type FaceAttributes struct {
	Age        float64           `json:"age"`
	Gender     string            `json:"gender"`
	Smile      float64           `json:"smile,omitempty"`
	Glasses    string            `json:"glasses,omitempty"`
	FacialHair *FacialHair       `json:"facial_hair,omitempty"`
	HeadPose   *HeadPose         `json:"head_pose,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// FaceSample is one detected face in one cycle's image.
// ID is an opaque reference assigned by the detector for this face instance.
type FaceSample struct {
	ID         string         `json:"face_id"`
	Rect       Rect           `json:"rect"`
	Attributes FaceAttributes `json:"attributes"`
}

// EmotionSample is one emotion-recognition result for one cycle. Its Rect is
// computed independently of the face detector and may differ by a few pixels.
type EmotionSample struct {
	Rect   Rect               `json:"rect"`
	Scores map[string]float64 `json:"scores"`
}
