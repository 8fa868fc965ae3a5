package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/observability"
)

type faceFinder interface {
	Detect(img image.Image) ([]Detection, error)
}

type faceEmbedder interface {
	Extract(face image.Image) ([]float32, error)
}

type attributeModel interface {
	Predict(face image.Image) (models.FaceAttributes, error)
}

// LocalProvider detects faces and answers similarity queries with on-host
// ONNX models instead of a hosted service. Every detected face gets a fresh
// id and its embedding is stored in the index, so later similarity queries
// can refer to it.
type LocalProvider struct {
	// ONNX sessions share bound tensors and must not run concurrently.
	mu       sync.Mutex
	finder   faceFinder
	embedder faceEmbedder
	attrs    attributeModel // optional
	closers  []func()

	index    EmbeddingIndex
	minScore float64
	newID    func() string
}

// InitRuntime loads the ONNX Runtime shared library. An empty path uses the
// platform default name.
func InitRuntime(libraryPath string) error {
	if libraryPath == "" {
		libraryPath = defaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// DestroyRuntime releases the ONNX Runtime environment.
func DestroyRuntime() {
	_ = ort.DestroyEnvironment()
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// NewLocalProvider loads the detection, embedding and attribute models from
// cfg.ModelsDir. The attribute model is optional.
func NewLocalProvider(cfg config.VisionConfig, index EmbeddingIndex) (*LocalProvider, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")
	attrPath := filepath.Join(cfg.ModelsDir, "genderage.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	p := newLocalProvider(det, emb, nil, index, cfg.SimilarityThreshold)
	p.closers = []func(){det.Close, emb.Close}

	attr, err := NewAttributePredictor(attrPath, nil)
	if err != nil {
		slog.Warn("attribute model unavailable, faces will carry no age or gender", "path", attrPath, "error", err)
	} else {
		p.attrs = attr
		p.closers = append(p.closers, attr.Close)
	}

	slog.Info("local vision provider ready")
	return p, nil
}

func newLocalProvider(finder faceFinder, embedder faceEmbedder, attrs attributeModel, index EmbeddingIndex, minScore float64) *LocalProvider {
	return &LocalProvider{
		finder:   finder,
		embedder: embedder,
		attrs:    attrs,
		index:    index,
		minScore: minScore,
		newID:    func() string { return uuid.NewString() },
	}
}

// Detect finds faces in an encoded image, stores each face's embedding and
// returns the faces in confidence order.
func (p *LocalProvider) Detect(ctx context.Context, data []byte) ([]models.FaceSample, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	type found struct {
		sample    models.FaceSample
		embedding []float32
	}
	var faces []found

	p.mu.Lock()
	start := time.Now()
	dets, err := p.finder.Detect(img)
	observability.StageDuration.WithLabelValues("local_detect").Observe(time.Since(start).Seconds())
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("detect: %w", err)
	}

	for _, d := range dets {
		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		emb, err := p.embedder.Extract(crop)
		observability.StageDuration.WithLabelValues("local_embed").Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Warn("embed face", "error", err)
			continue
		}

		sample := models.FaceSample{ID: p.newID(), Rect: d.Rect()}
		if p.attrs != nil {
			if attrs, err := p.attrs.Predict(crop); err != nil {
				slog.Warn("predict attributes", "face", sample.ID, "error", err)
			} else {
				sample.Attributes = attrs
			}
		}
		faces = append(faces, found{sample, emb})
	}
	p.mu.Unlock()

	out := make([]models.FaceSample, 0, len(faces))
	for _, f := range faces {
		if err := p.index.PutEmbedding(ctx, f.sample.ID, f.embedding); err != nil {
			return nil, fmt.Errorf("store embedding: %w", err)
		}
		out = append(out, f.sample)
	}
	return out, nil
}

// FindSimilar returns the candidates whose embeddings are at least as close
// to faceID's as the configured similarity threshold, best first.
func (p *LocalProvider) FindSimilar(ctx context.Context, faceID string, candidates []string, maxResults int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ids, err := p.index.SimilarFaces(ctx, faceID, candidates, p.minScore, maxResults)
	if err != nil {
		return nil, fmt.Errorf("find similar to %s: %w", faceID, err)
	}
	return ids, nil
}

// Close releases the ONNX sessions.
func (p *LocalProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.closers {
		c()
	}
	p.closers = nil
}
