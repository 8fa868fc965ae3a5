package tracking

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/dwell/internal/models"
)

type memFrames map[string][]byte

func (m memFrames) GetObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return data, nil
}

func TestSessions_OneRegistryPerCamera(t *testing.T) {
	sink := &recordingSink{}
	frames := memFrames{"frames/a/1.jpg": []byte("a1"), "frames/b/1.jpg": []byte("b1")}
	s := NewSessions(testConfig(), Dependencies{
		Detector: &stubDetector{faces: []models.FaceSample{face("F1")}},
		Oracle:   &linkOracle{},
		Sink:     sink,
	}, frames)
	ctx := context.Background()

	for _, task := range []models.FrameTask{
		{CameraID: "b", FrameID: uuid.New(), FrameRef: "frames/b/1.jpg", Timestamp: t0},
		{CameraID: "a", FrameID: uuid.New(), FrameRef: "frames/a/1.jpg", Timestamp: t0},
	} {
		if err := s.HandleFrame(ctx, task); err != nil {
			t.Fatalf("HandleFrame(%s) error = %v", task.CameraID, err)
		}
	}

	if got := s.Cameras(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Cameras() = %v, want [a b]", got)
	}
	for _, cam := range []string{"a", "b"} {
		o, ok := s.Lookup(cam)
		if !ok {
			t.Fatalf("Lookup(%s) missing", cam)
		}
		if o.Registry().Len() != 1 {
			t.Errorf("camera %s visitors = %d, want 1", cam, o.Registry().Len())
		}
	}
	if s.Get("a") != s.Get("a") {
		t.Error("Get() created a second session for the same camera")
	}
	if len(sink.reports) != 2 {
		t.Errorf("published %d reports, want 2", len(sink.reports))
	}
}

func TestSessions_HandleFrameErrors(t *testing.T) {
	s := NewSessions(testConfig(), Dependencies{Detector: &stubDetector{}, Oracle: &linkOracle{}}, memFrames{})
	ctx := context.Background()

	if err := s.HandleFrame(ctx, models.FrameTask{FrameRef: "x"}); err == nil || !strings.Contains(err.Error(), "missing camera id") {
		t.Errorf("HandleFrame(no camera) error = %v", err)
	}
	if err := s.HandleFrame(ctx, models.FrameTask{CameraID: "a", FrameRef: "frames/a/gone.jpg"}); err == nil || !strings.Contains(err.Error(), "load frame") {
		t.Errorf("HandleFrame(missing frame) error = %v", err)
	}
}

func TestSessions_BusyCameraDropsFrame(t *testing.T) {
	det := &blockingDetector{entered: make(chan struct{}), release: make(chan struct{})}
	frames := memFrames{"f1": []byte("1"), "f2": []byte("2")}
	s := NewSessions(testConfig(), Dependencies{Detector: det, Oracle: &linkOracle{}}, frames)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.HandleFrame(ctx, models.FrameTask{CameraID: "a", FrameRef: "f1", Timestamp: t0}) }()
	<-det.entered

	if err := s.HandleFrame(ctx, models.FrameTask{CameraID: "a", FrameRef: "f2", Timestamp: t0}); err != nil {
		t.Errorf("HandleFrame(busy) error = %v, want nil", err)
	}

	close(det.release)
	if err := <-done; err != nil {
		t.Fatalf("first HandleFrame() error = %v", err)
	}
}

func TestSessions_AnchorFaces(t *testing.T) {
	frames := memFrames{"frames/a/1.jpg": []byte("a1"), "frames/b/1.jpg": []byte("b1")}
	det := &stubDetector{faces: []models.FaceSample{face("F2"), face("F1")}}
	s := NewSessions(testConfig(), Dependencies{Detector: det, Oracle: &linkOracle{}}, frames)
	ctx := context.Background()

	if got := s.AnchorFaces(); len(got) != 0 {
		t.Errorf("AnchorFaces() with no sessions = %v", got)
	}

	for _, cam := range []string{"a", "b"} {
		task := models.FrameTask{CameraID: cam, FrameID: uuid.New(), FrameRef: "frames/" + cam + "/1.jpg", Timestamp: t0}
		if err := s.HandleFrame(ctx, task); err != nil {
			t.Fatalf("HandleFrame(%s) error = %v", cam, err)
		}
	}

	if got := s.AnchorFaces(); !reflect.DeepEqual(got, []string{"F1", "F2"}) {
		t.Errorf("AnchorFaces() = %v, want [F1 F2]", got)
	}
}
