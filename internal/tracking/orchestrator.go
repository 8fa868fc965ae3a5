// Package tracking runs tracking cycles: one sampled image goes through face
// detection and emotion recognition, visitor resolution and dwell updates, and
// comes out as a CycleReport.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/dwell/internal/association"
	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/observability"
	"github.com/your-org/dwell/internal/visitor"
)

// ErrBusy is returned by Process when a cycle is already in flight.
var ErrBusy = errors.New("tracking: cycle already in progress")

// FaceDetector finds faces in an encoded image.
type FaceDetector interface {
	Detect(ctx context.Context, image []byte) ([]models.FaceSample, error)
}

// EmotionRecognizer scores facial expressions in an encoded image.
type EmotionRecognizer interface {
	Recognize(ctx context.Context, image []byte) ([]models.EmotionSample, error)
}

// ReportSink receives every completed cycle report.
type ReportSink interface {
	PublishReport(ctx context.Context, report models.CycleReport) error
}

// Dependencies are the collaborators shared by every camera session.
// Emotions and Sink may be nil.
type Dependencies struct {
	Detector FaceDetector
	Emotions EmotionRecognizer
	Oracle   visitor.SimilarityOracle
	Sink     ReportSink
}

// Orchestrator runs cycles for one camera. It owns that camera's visitor
// registry.
type Orchestrator struct {
	camera   string
	registry *visitor.Registry
	assoc    *association.Associator
	deps     Dependencies
	busy     atomic.Bool
}

// NewOrchestrator returns an orchestrator with an empty registry.
func NewOrchestrator(camera string, cfg config.TrackingConfig, deps Dependencies) *Orchestrator {
	return &Orchestrator{
		camera:   camera,
		registry: visitor.NewRegistry(deps.Oracle, registryConfig(cfg)),
		assoc:    association.NewAssociator(cfg.PixelTolerance()),
		deps:     deps,
	}
}

func registryConfig(cfg config.TrackingConfig) visitor.Config {
	return visitor.Config{
		ComparisonCap:     cfg.ComparisonCap,
		MaxCandidates:     cfg.MaxCandidates,
		StaleAfter:        cfg.StaleAfter,
		OracleConcurrency: cfg.OracleConcurrency,
	}
}

// Camera returns the camera id this orchestrator serves.
func (o *Orchestrator) Camera() string { return o.camera }

// Registry exposes the session's visitors for read-only inspection.
func (o *Orchestrator) Registry() *visitor.Registry { return o.registry }

// Process runs one full cycle over an encoded frame and publishes the report.
// If another cycle is running the frame is skipped and ErrBusy is returned.
func (o *Orchestrator) Process(ctx context.Context, task models.FrameTask, image []byte) (models.CycleReport, error) {
	if !o.busy.CompareAndSwap(false, true) {
		observability.CyclesSkipped.WithLabelValues(o.camera).Inc()
		return models.CycleReport{}, ErrBusy
	}
	defer o.busy.Store(false)

	started := time.Now()
	now := task.Timestamp
	if now.IsZero() {
		now = started
	}

	faces, emotions := o.observe(ctx, image)
	observability.FacesDetected.WithLabelValues(o.camera).Add(float64(len(faces)))

	report := o.Cycle(ctx, now, faces, emotions)
	report.FrameID = task.FrameID
	report.FrameRef = task.FrameRef
	report.Duration = time.Since(started)

	observability.CyclesProcessed.WithLabelValues(o.camera).Inc()
	observability.ActiveVisitors.WithLabelValues(o.camera).Set(float64(o.registry.CountRunning()))
	observability.StageDuration.WithLabelValues("cycle").Observe(report.Duration.Seconds())

	if o.deps.Sink != nil {
		if err := o.deps.Sink.PublishReport(ctx, report); err != nil {
			slog.Error("publish report", "camera", o.camera, "cycle", report.CycleID, "error", err)
		}
	}

	slog.Debug("cycle complete",
		"camera", o.camera,
		"faces", len(faces),
		"emotions", len(emotions),
		"visitors", o.registry.Len(),
		"duration", report.Duration.String(),
	)
	return report, nil
}

// observe calls the detector and the recognizer in parallel. A failing
// provider contributes an empty result.
func (o *Orchestrator) observe(ctx context.Context, image []byte) ([]models.FaceSample, []models.EmotionSample) {
	var (
		faces    []models.FaceSample
		emotions []models.EmotionSample
		g        errgroup.Group
	)

	g.Go(func() error {
		start := time.Now()
		found, err := o.deps.Detector.Detect(ctx, image)
		observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Warn("face detection unavailable", "camera", o.camera, "error", err)
			observability.ProviderFailures.WithLabelValues(o.camera, "face").Inc()
			return nil
		}
		faces = found
		return nil
	})

	if o.deps.Emotions != nil {
		g.Go(func() error {
			start := time.Now()
			found, err := o.deps.Emotions.Recognize(ctx, image)
			observability.StageDuration.WithLabelValues("emotion").Observe(time.Since(start).Seconds())
			if err != nil {
				slog.Warn("emotion recognition unavailable", "camera", o.camera, "error", err)
				observability.ProviderFailures.WithLabelValues(o.camera, "emotion").Inc()
				return nil
			}
			emotions = found
			return nil
		})
	}

	_ = g.Wait()
	return faces, emotions
}

// Cycle applies one cycle's detections at time now: stale dwell timers are
// reset, faces are resolved to visitors, dwell timers of seen visitors are
// started, and one Person per face is reported in detection order.
func (o *Orchestrator) Cycle(ctx context.Context, now time.Time, faces []models.FaceSample, emotions []models.EmotionSample) models.CycleReport {
	if reset := o.registry.ExpireStale(now); len(reset) > 0 {
		observability.DwellResets.WithLabelValues(o.camera).Add(float64(len(reset)))
		slog.Debug("dwell reset", "camera", o.camera, "visitors", reset)
	}

	faceIDs := make([]string, len(faces))
	for i, f := range faces {
		faceIDs[i] = f.ID
	}

	report := models.CycleReport{
		CycleID:   uuid.New(),
		CameraID:  o.camera,
		Timestamp: now,
		Persons:   make([]models.Person, 0, len(faces)),
	}

	start := time.Now()
	res, err := o.registry.Resolve(ctx, now, faceIDs)
	observability.StageDuration.WithLabelValues("resolve").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("resolve visitors", "camera", o.camera, "faces", len(faceIDs), "error", err)
		observability.ProviderFailures.WithLabelValues(o.camera, "similarity").Inc()
	} else {
		o.registry.StartDwell(now, res.VisitorIDs(faceIDs)...)
		if len(res.Created) > 0 {
			observability.VisitorsCreated.WithLabelValues(o.camera).Add(float64(len(res.Created)))
		}
		if res.Active != 0 {
			active := res.Active
			report.ActiveVisitorID = &active
		}
	}

	for _, face := range faces {
		p := models.Person{
			FaceID:     face.ID,
			Rect:       face.Rect,
			Attributes: face.Attributes,
			Emotion:    o.assoc.DominantEmotion(face, emotions),
		}
		if id, ok := o.registry.OwnerOf(face.ID); ok {
			p.VisitorID = &id
			p.DwellSeconds = o.registry.DwellSeconds(id, now)
		}
		report.Persons = append(report.Persons, p)
	}

	return report
}
