package cognitive

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/dwell/internal/models"
)

// EmotionClient calls the hosted emotion API.
type EmotionClient struct {
	c client
}

func NewEmotionClient(endpoint, key string, timeout time.Duration) *EmotionClient {
	return &EmotionClient{c: newClient("emotion", endpoint, key, timeout)}
}

type wireEmotion struct {
	FaceRectangle wireRect           `json:"faceRectangle"`
	Scores        map[string]float64 `json:"scores"`
}

// Recognize uploads a JPEG and returns one score set per face the emotion
// service found.
func (e *EmotionClient) Recognize(ctx context.Context, image []byte) ([]models.EmotionSample, error) {
	var results []wireEmotion
	if err := e.c.postImage(ctx, "/recognize", nil, image, &results); err != nil {
		return nil, fmt.Errorf("recognize emotions: %w", err)
	}

	out := make([]models.EmotionSample, 0, len(results))
	for _, r := range results {
		out = append(out, models.EmotionSample{
			Rect:   r.FaceRectangle.model(),
			Scores: r.Scores,
		})
	}
	return out, nil
}
