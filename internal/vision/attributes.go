package vision

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/dwell/internal/models"
)

// AttributePredictor estimates gender and age with the InsightFace
// genderage model.
type AttributePredictor struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    int
}

// NewAttributePredictor loads the genderage model. opts may be nil.
func NewAttributePredictor(modelPath string, opts *ort.SessionOptions) (*AttributePredictor, error) {
	p := &AttributePredictor{size: 96}

	var err error
	p.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(p.size), int64(p.size)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	p.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	p.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"data"}, []string{"fc1"},
		[]ort.Value{p.input}, []ort.Value{p.output},
		opts,
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create attribute session: %w", err)
	}
	return p, nil
}

// Predict fills the gender and age of a face crop.
func (p *AttributePredictor) Predict(face image.Image) (models.FaceAttributes, error) {
	copy(p.input.GetData(), toCHW(face, p.size, p.size, rawNorm))

	if err := p.session.Run(); err != nil {
		return models.FaceAttributes{}, fmt.Errorf("run attributes: %w", err)
	}

	out := p.output.GetData()
	if len(out) < 2 {
		return models.FaceAttributes{}, fmt.Errorf("unexpected attribute output size: %d", len(out))
	}
	return genderAge(out[0], out[1]), nil
}

// genderAge interprets the raw model outputs: a male probability and an age
// in years.
func genderAge(maleScore, age float32) models.FaceAttributes {
	gender := "female"
	if maleScore > 0.5 {
		gender = "male"
	}
	return models.FaceAttributes{
		Gender: gender,
		Age:    float64(clampF(age, 0, 100)),
	}
}

func (p *AttributePredictor) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	if p.input != nil {
		p.input.Destroy()
	}
	if p.output != nil {
		p.output.Destroy()
	}
}
