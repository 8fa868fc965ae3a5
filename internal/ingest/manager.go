package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/observability"
	"github.com/your-org/dwell/internal/storage"
)

// pruneEvery is how many frames a camera uploads between retention passes.
const pruneEvery = 50

type FramePublisher interface {
	PublishFrame(ctx context.Context, task models.FrameTask) error
}

type FrameStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

type extractFunc func(ctx context.Context, streamURL string, fps, width int, callback FrameCallback) error

// Manager runs frame ingestion for the configured cameras. Each camera
// uploads its frames to the object store and publishes a FrameTask per
// frame, reconnecting with backoff when the stream drops.
type Manager struct {
	cfg       config.IngestConfig
	publisher FramePublisher
	store     FrameStore

	extract extractFunc
	resolve func(ctx context.Context, url string) (string, error)
	now     func() time.Time

	mu      sync.Mutex
	cameras map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(cfg config.IngestConfig, publisher FramePublisher, store FrameStore) *Manager {
	return &Manager{
		cfg:       cfg,
		publisher: publisher,
		store:     store,
		extract: func(ctx context.Context, streamURL string, fps, width int, cb FrameCallback) error {
			return (&FFmpegExtractor{}).Extract(ctx, streamURL, fps, width, cb)
		},
		resolve: ResolveYouTubeURL,
		now:     time.Now,
		cameras: make(map[string]context.CancelFunc),
	}
}

// Start begins ingesting cam in the background.
func (m *Manager) Start(ctx context.Context, cam config.CameraConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.cameras[cam.ID]; running {
		return fmt.Errorf("camera %s already running", cam.ID)
	}

	camCtx, cancel := context.WithCancel(ctx)
	m.cameras[cam.ID] = cancel
	observability.ActiveCameras.Inc()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.cameras, cam.ID)
			m.mu.Unlock()
			observability.ActiveCameras.Dec()
			slog.Info("camera ingestion stopped", "camera", cam.ID)
		}()
		m.run(camCtx, cam)
	}()

	slog.Info("camera ingestion started", "camera", cam.ID, "type", cam.Type, "fps", cam.FPS)
	return nil
}

// Stop cancels one camera. Unknown ids are ignored.
func (m *Manager) Stop(cameraID string) {
	m.mu.Lock()
	cancel, ok := m.cameras[cameraID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every camera and waits for them to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, cancel := range m.cameras {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// ActiveCount returns the number of running cameras.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cameras)
}

func (m *Manager) run(ctx context.Context, cam config.CameraConfig) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			slog.Warn("reconnecting camera", "camera", cam.ID, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		streamURL := cam.URL
		if cam.Type == string(models.CameraTypeYouTube) {
			resolved, err := m.resolve(ctx, cam.URL)
			if err != nil {
				slog.Error("resolve youtube url", "camera", cam.ID, "error", err)
				continue
			}
			streamURL = resolved
		}

		frames := 0
		err := m.extract(ctx, streamURL, cam.FPS, m.cfg.FrameWidth, func(frame []byte) error {
			frames++
			if err := m.handleFrame(ctx, cam.ID, frame); err != nil {
				return err
			}
			if m.cfg.FrameRetention > 0 && frames%pruneEvery == 0 {
				if err := m.prune(ctx, cam.ID); err != nil {
					slog.Warn("prune frames", "camera", cam.ID, "error", err)
				}
			}
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if frames > 0 {
			attempt = 0
		}
		if err != nil {
			slog.Error("camera extraction failed", "camera", cam.ID, "frames", frames, "error", err)
		} else {
			slog.Warn("camera stream ended", "camera", cam.ID, "frames", frames)
		}
	}
}

// handleFrame uploads one frame and publishes its task.
func (m *Manager) handleFrame(ctx context.Context, cameraID string, frame []byte) error {
	frameID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("frame id: %w", err)
	}

	key := storage.FrameKey(cameraID, frameID.String())
	if err := m.store.PutObject(ctx, key, frame, "image/jpeg"); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}

	task := models.FrameTask{
		CameraID:  cameraID,
		FrameID:   frameID,
		Timestamp: m.now(),
		FrameRef:  key,
		Width:     m.cfg.FrameWidth,
	}
	if err := m.publisher.PublishFrame(ctx, task); err != nil {
		return fmt.Errorf("publish frame task: %w", err)
	}

	observability.FramesIngested.WithLabelValues(cameraID).Inc()
	return nil
}

// prune deletes a camera's oldest frames beyond the retention count.
func (m *Manager) prune(ctx context.Context, cameraID string) error {
	objects, err := m.store.ListObjects(ctx, storage.FramePrefix(cameraID))
	if err != nil {
		return err
	}
	stale := overflow(objects, m.cfg.FrameRetention)
	if len(stale) == 0 {
		return nil
	}
	if err := m.store.DeleteObjects(ctx, stale); err != nil {
		return err
	}
	slog.Debug("pruned frames", "camera", cameraID, "deleted", len(stale))
	return nil
}

// overflow returns the keys of the oldest objects so that keep remain.
// objects must be in capture order.
func overflow(objects []storage.ObjectInfo, keep int) []string {
	if keep <= 0 || len(objects) <= keep {
		return nil
	}
	n := len(objects) - keep
	keys := make([]string, n)
	for i := range keys {
		keys[i] = objects[i].Key
	}
	return keys
}

// backoff is 2s, 4s, 8s ... capped at one minute.
func backoff(attempt int) time.Duration {
	if attempt > 5 {
		return time.Minute
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
