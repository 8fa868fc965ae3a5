package cognitive

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/your-org/dwell/internal/models"
)

// faceAttributes is the attribute set requested on every detection.
const faceAttributes = "age,gender,smile,facialHair,headPose,glasses"

// FaceClient calls the hosted face API. It detects faces and answers
// similarity queries over face ids it issued earlier.
type FaceClient struct {
	c client
}

func NewFaceClient(endpoint, key string, timeout time.Duration) *FaceClient {
	return &FaceClient{c: newClient("face", endpoint, key, timeout)}
}

type wireRect struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r wireRect) model() models.Rect {
	return models.Rect{Top: r.Top, Left: r.Left, Height: r.Height, Width: r.Width}
}

type wireFace struct {
	FaceID         string   `json:"faceId"`
	FaceRectangle  wireRect `json:"faceRectangle"`
	FaceAttributes *struct {
		Age        float64 `json:"age"`
		Gender     string  `json:"gender"`
		Smile      float64 `json:"smile"`
		Glasses    string  `json:"glasses"`
		FacialHair *struct {
			Moustache float64 `json:"moustache"`
			Beard     float64 `json:"beard"`
			Sideburns float64 `json:"sideburns"`
		} `json:"facialHair"`
		HeadPose *struct {
			Pitch float64 `json:"pitch"`
			Roll  float64 `json:"roll"`
			Yaw   float64 `json:"yaw"`
		} `json:"headPose"`
	} `json:"faceAttributes"`
}

func (f wireFace) model() models.FaceSample {
	s := models.FaceSample{ID: f.FaceID, Rect: f.FaceRectangle.model()}
	a := f.FaceAttributes
	if a == nil {
		return s
	}
	s.Attributes = models.FaceAttributes{
		Age:     a.Age,
		Gender:  a.Gender,
		Smile:   a.Smile,
		Glasses: a.Glasses,
	}
	if a.FacialHair != nil {
		s.Attributes.FacialHair = &models.FacialHair{
			Moustache: a.FacialHair.Moustache,
			Beard:     a.FacialHair.Beard,
			Sideburns: a.FacialHair.Sideburns,
		}
	}
	if a.HeadPose != nil {
		s.Attributes.HeadPose = &models.HeadPose{
			Pitch: a.HeadPose.Pitch,
			Roll:  a.HeadPose.Roll,
			Yaw:   a.HeadPose.Yaw,
		}
	}
	return s
}

// Detect uploads a JPEG and returns the faces found, in service order.
func (f *FaceClient) Detect(ctx context.Context, image []byte) ([]models.FaceSample, error) {
	q := url.Values{}
	q.Set("returnFaceId", "true")
	q.Set("returnFaceLandmarks", "false")
	q.Set("returnFaceAttributes", faceAttributes)

	var faces []wireFace
	if err := f.c.postImage(ctx, "/detect", q, image, &faces); err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	out := make([]models.FaceSample, 0, len(faces))
	for _, wf := range faces {
		if wf.FaceID == "" {
			continue
		}
		out = append(out, wf.model())
	}
	return out, nil
}

type findSimilarRequest struct {
	FaceID                     string   `json:"faceId"`
	FaceIDs                    []string `json:"faceIds"`
	MaxNumOfCandidatesReturned int      `json:"maxNumOfCandidatesReturned"`
}

type similarFace struct {
	FaceID     string  `json:"faceId"`
	Confidence float64 `json:"confidence"`
}

// FindSimilar returns ids from candidates the service considers the same
// person as faceID. An empty candidate list is answered locally.
func (f *FaceClient) FindSimilar(ctx context.Context, faceID string, candidates []string, maxResults int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	req := findSimilarRequest{
		FaceID:                     faceID,
		FaceIDs:                    candidates,
		MaxNumOfCandidatesReturned: maxResults,
	}
	var found []similarFace
	if err := f.c.postJSON(ctx, "/findsimilars", req, &found); err != nil {
		return nil, fmt.Errorf("find similar to %s: %w", faceID, err)
	}

	ids := make([]string, 0, len(found))
	for _, s := range found {
		if s.FaceID != "" {
			ids = append(ids, s.FaceID)
		}
	}
	return ids, nil
}
