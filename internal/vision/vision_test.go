package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"reflect"
	"testing"

	"github.com/your-org/dwell/internal/models"
)

func TestMemoryIndex_SimilarFaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)

	vectors := map[string][]float32{
		"q":     {1, 0, 0},
		"same":  {0.98, 0.05, 0},
		"close": {0.8, 0.6, 0},
		"other": {0, 1, 0},
		"away":  {-1, 0, 0},
	}
	for id, v := range vectors {
		if err := idx.PutEmbedding(ctx, id, v); err != nil {
			t.Fatalf("PutEmbedding(%s) error = %v", id, err)
		}
	}

	tests := []struct {
		name       string
		candidates []string
		minScore   float64
		limit      int
		want       []string
	}{
		{"best first", []string{"other", "close", "same"}, 0.5, 10, []string{"same", "close"}},
		{"threshold", []string{"close", "same"}, 0.9, 10, []string{"same"}},
		{"limit", []string{"close", "same"}, 0.5, 1, []string{"same"}},
		{"restricted to candidates", []string{"other", "away"}, 0.5, 10, nil},
		{"self and unknown skipped", []string{"q", "ghost", "same", "same"}, 0.5, 10, []string{"same"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.SimilarFaces(ctx, "q", tt.candidates, tt.minScore, tt.limit)
			if err != nil {
				t.Fatalf("SimilarFaces() error = %v", err)
			}
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SimilarFaces() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := idx.SimilarFaces(ctx, "missing", []string{"q"}, 0, 10); !errors.Is(err, ErrUnknownFace) {
		t.Errorf("unknown query error = %v, want ErrUnknownFace", err)
	}
}

func TestMemoryIndex_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	for _, id := range []string{"a", "b", "c"} {
		if err := idx.PutEmbedding(ctx, id, []float32{1, 1}); err != nil {
			t.Fatal(err)
		}
	}
	if idx.Len() != 2 {
		t.Errorf("Len() = %d, want 2", idx.Len())
	}
	if _, err := idx.SimilarFaces(ctx, "a", []string{"b"}, 0, 1); !errors.Is(err, ErrUnknownFace) {
		t.Errorf("evicted face still queryable: %v", err)
	}
	if err := idx.PutEmbedding(ctx, "d", nil); err == nil {
		t.Error("PutEmbedding(empty) error = nil")
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-2, 0}, -1},
		{[]float32{0, 0}, []float32{1, 0}, 0},
		{[]float32{1, 0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := cosine(tt.a, tt.b); got != tt.want {
			t.Errorf("cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNMS(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.7},
		{BBox: [4]float32{5, 5, 105, 105}, Confidence: 0.9},
		{BBox: [4]float32{300, 300, 350, 350}, Confidence: 0.6},
	}
	got := nms(dets, 0.4)
	if len(got) != 2 {
		t.Fatalf("nms kept %d, want 2", len(got))
	}
	if got[0].Confidence != 0.9 || got[1].Confidence != 0.6 {
		t.Errorf("nms = %+v", got)
	}
}

func TestDetection_Rect(t *testing.T) {
	d := Detection{BBox: [4]float32{10.4, 20.6, 110.5, 120}}
	want := models.Rect{Top: 21, Left: 10, Height: 99, Width: 101}
	if got := d.Rect(); got != want {
		t.Errorf("Rect() = %+v, want %+v", got, want)
	}
}

func TestCropFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))

	tests := []struct {
		name string
		box  [4]float32
		want image.Rectangle
	}{
		{"padded", [4]float32{50, 20, 100, 70}, image.Rect(45, 15, 105, 75)},
		{"clamped at edge", [4]float32{0, 0, 40, 40}, image.Rect(0, 0, 44, 44)},
		{"outside", [4]float32{300, 300, 320, 320}, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop := cropFace(img, tt.box)
			if tt.want.Empty() {
				if crop != nil {
					t.Errorf("cropFace() = %v, want nil", crop.Bounds())
				}
				return
			}
			if crop == nil || crop.Bounds() != tt.want {
				t.Errorf("cropFace() bounds = %v, want %v", crop, tt.want)
			}
		})
	}
}

func TestToCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 128, A: 255})
		}
	}

	out := toCHW(img, 2, 2, rawNorm)
	if len(out) != 12 {
		t.Fatalf("len = %d, want 12", len(out))
	}
	if out[0] != 255 || out[4] != 0 || out[8] != 128 {
		t.Errorf("planes = %v", out)
	}
}

func TestGenderAge(t *testing.T) {
	if got := genderAge(0.8, 34.2); got.Gender != "male" || got.Age < 34.1 || got.Age > 34.3 {
		t.Errorf("genderAge(0.8, 34.2) = %+v", got)
	}
	if got := genderAge(0.1, 140); got.Gender != "female" || got.Age != 100 {
		t.Errorf("genderAge(0.1, 140) = %+v", got)
	}
}

type fakeFinder struct{ dets []Detection }

func (f fakeFinder) Detect(image.Image) ([]Detection, error) { return f.dets, nil }

// fakeEmbedder returns a vector keyed on the crop's left edge so tests can
// control which faces look alike.
type fakeEmbedder map[int][]float32

func (f fakeEmbedder) Extract(face image.Image) ([]float32, error) {
	v, ok := f[face.Bounds().Min.X]
	if !ok {
		return nil, fmt.Errorf("no embedding for crop at x=%d", face.Bounds().Min.X)
	}
	return v, nil
}

type fakeAttrs struct{}

func (fakeAttrs) Predict(image.Image) (models.FaceAttributes, error) {
	return models.FaceAttributes{Gender: "female", Age: 29}, nil
}

func jpegFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLocalProvider_DetectAndFindSimilar(t *testing.T) {
	ctx := context.Background()
	finder := fakeFinder{dets: []Detection{
		{BBox: [4]float32{100, 100, 200, 200}, Confidence: 0.95},
		{BBox: [4]float32{400, 100, 500, 200}, Confidence: 0.9},
		{BBox: [4]float32{0, 0, 0, 0}, Confidence: 0.8},
	}}
	embedder := fakeEmbedder{
		90:  {1, 0},
		390: {0, 1},
	}

	p := newLocalProvider(finder, embedder, fakeAttrs{}, NewMemoryIndex(0), 0.5)
	n := 0
	p.newID = func() string { n++; return fmt.Sprintf("face-%d", n) }

	faces, err := p.Detect(ctx, jpegFrame(t, 640, 480))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("faces = %d, want 2", len(faces))
	}
	if faces[0].ID != "face-1" || faces[0].Rect != (models.Rect{Top: 100, Left: 100, Height: 100, Width: 100}) {
		t.Errorf("faces[0] = %+v", faces[0])
	}
	if faces[1].Attributes.Gender != "female" {
		t.Errorf("attributes not attached: %+v", faces[1].Attributes)
	}

	// A second sighting of the first person.
	p.finder = fakeFinder{dets: []Detection{{BBox: [4]float32{100, 100, 200, 200}, Confidence: 0.9}}}
	again, err := p.Detect(ctx, jpegFrame(t, 640, 480))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	got, err := p.FindSimilar(ctx, again[0].ID, []string{"face-1", "face-2"}, 10)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"face-1"}) {
		t.Errorf("FindSimilar() = %v, want [face-1]", got)
	}

	if _, err := p.FindSimilar(ctx, "never-seen", []string{"face-1"}, 10); !errors.Is(err, ErrUnknownFace) {
		t.Errorf("FindSimilar(unknown) error = %v", err)
	}
}

func TestLocalProvider_RejectsGarbage(t *testing.T) {
	p := newLocalProvider(fakeFinder{}, fakeEmbedder{}, nil, NewMemoryIndex(0), 0.5)
	if _, err := p.Detect(context.Background(), []byte("not an image")); err == nil {
		t.Error("Detect(garbage) error = nil")
	}
}
