package tracking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/observability"
)

// FrameSource loads an ingested frame by its object key.
type FrameSource interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Sessions keeps one Orchestrator per camera, created on first use.
type Sessions struct {
	cfg    config.TrackingConfig
	deps   Dependencies
	frames FrameSource

	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

func NewSessions(cfg config.TrackingConfig, deps Dependencies, frames FrameSource) *Sessions {
	return &Sessions{
		cfg:      cfg,
		deps:     deps,
		frames:   frames,
		sessions: make(map[string]*Orchestrator),
	}
}

// Get returns the orchestrator for camera, creating it if needed.
func (s *Sessions) Get(camera string) *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.sessions[camera]; ok {
		return o
	}
	o := NewOrchestrator(camera, s.cfg, s.deps)
	s.sessions[camera] = o
	return o
}

// Lookup returns the orchestrator for camera if one exists.
func (s *Sessions) Lookup(camera string) (*Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.sessions[camera]
	return o, ok
}

// Cameras lists cameras with a running session, sorted.
func (s *Sessions) Cameras() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AnchorFaces returns the comparison anchors of every camera's registry,
// sorted and deduplicated.
func (s *Sessions) AnchorFaces() []string {
	s.mu.Lock()
	sessions := make([]*Orchestrator, 0, len(s.sessions))
	for _, o := range s.sessions {
		sessions = append(sessions, o)
	}
	s.mu.Unlock()

	var ids []string
	for _, o := range sessions {
		ids = append(ids, o.registry.AnchorFaces()...)
	}
	sort.Strings(ids)
	return slices.Compact(ids)
}

// HandleFrame loads the frame referenced by task and runs a cycle on the
// camera's session. A frame arriving while that session is busy is dropped
// without error so the queue does not redeliver it.
func (s *Sessions) HandleFrame(ctx context.Context, task models.FrameTask) error {
	if task.CameraID == "" {
		return fmt.Errorf("frame %s: missing camera id", task.FrameID)
	}

	o := s.Get(task.CameraID)
	if o.busy.Load() {
		observability.CyclesSkipped.WithLabelValues(task.CameraID).Inc()
		return nil
	}

	image, err := s.frames.GetObject(ctx, task.FrameRef)
	if err != nil {
		return fmt.Errorf("load frame: %w", err)
	}

	if _, err := o.Process(ctx, task, image); err != nil && !errors.Is(err, ErrBusy) {
		return fmt.Errorf("process frame %s: %w", task.FrameID, err)
	}
	return nil
}
