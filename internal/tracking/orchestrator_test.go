package tracking

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/visitor"
)

type stubDetector struct {
	faces []models.FaceSample
	err   error
}

func (d *stubDetector) Detect(context.Context, []byte) ([]models.FaceSample, error) {
	return d.faces, d.err
}

type stubRecognizer struct {
	emotions []models.EmotionSample
	err      error
}

func (r *stubRecognizer) Recognize(context.Context, []byte) ([]models.EmotionSample, error) {
	return r.emotions, r.err
}

// linkOracle declares faces similar when they share a label.
type linkOracle struct {
	label map[string]string
	err   error
}

func (o *linkOracle) FindSimilar(_ context.Context, faceID string, candidates []string, maxResults int) ([]string, error) {
	if o.err != nil {
		return nil, o.err
	}
	var out []string
	for _, c := range candidates {
		if o.label[c] != "" && o.label[c] == o.label[faceID] && len(out) < maxResults {
			out = append(out, c)
		}
	}
	return out, nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []models.CycleReport
	err     error
}

func (s *recordingSink) PublishReport(_ context.Context, r models.CycleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

func testConfig() config.TrackingConfig {
	tol := 5
	return config.TrackingConfig{
		Tolerance:         &tol,
		StaleAfter:        3 * time.Second,
		ComparisonCap:     3,
		MaxCandidates:     10,
		OracleConcurrency: 1,
	}
}

var (
	t0      = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	square  = models.Rect{Top: 0, Left: 0, Height: 100, Width: 100}
	attribs = models.FaceAttributes{Age: 31, Gender: "female", Smile: 0.8}
)

func face(id string) models.FaceSample {
	return models.FaceSample{ID: id, Rect: square, Attributes: attribs}
}

func TestCycle_EndToEndScenario(t *testing.T) {
	oracle := &linkOracle{label: map[string]string{"F1": "ann", "F2": "ann", "F3": "ann"}}
	o := NewOrchestrator("lobby", testConfig(), Dependencies{Oracle: oracle})
	ctx := context.Background()

	// Cycle 1: empty registry, visitor 1 is created and starts dwelling.
	r1 := o.Cycle(ctx, t0, []models.FaceSample{face("F1")}, nil)
	if len(r1.Persons) != 1 || r1.Persons[0].VisitorID == nil || *r1.Persons[0].VisitorID != 1 {
		t.Fatalf("cycle 1 persons = %+v, want visitor 1", r1.Persons)
	}
	if r1.Persons[0].DwellSeconds != 0 {
		t.Errorf("cycle 1 dwell = %v, want 0", r1.Persons[0].DwellSeconds)
	}
	if r1.ActiveVisitorID == nil || *r1.ActiveVisitorID != 1 {
		t.Errorf("cycle 1 active = %v, want 1", r1.ActiveVisitorID)
	}

	// Cycle 2: F2 is similar to F1 and joins visitor 1.
	t2 := t0.Add(time.Second)
	r2 := o.Cycle(ctx, t2, []models.FaceSample{face("F2")}, nil)
	p := r2.Persons[0]
	if p.VisitorID == nil || *p.VisitorID != 1 {
		t.Fatalf("cycle 2 visitor = %v, want 1", p.VisitorID)
	}
	if p.DwellSeconds != 1 {
		t.Errorf("cycle 2 dwell = %v, want 1", p.DwellSeconds)
	}
	if n := o.Registry().Len(); n != 1 {
		t.Errorf("visitors after cycle 2 = %d, want 1", n)
	}
	v, _ := o.Registry().Visitor(1, t2)
	if !reflect.DeepEqual(v.FaceIDs, []string{"F1", "F2"}) {
		t.Errorf("visitor 1 sightings = %v, want [F1 F2]", v.FaceIDs)
	}

	// Cycle 3: five seconds later the timer is reset before resolution.
	t3 := t2.Add(5 * time.Second)
	r3 := o.Cycle(ctx, t3, []models.FaceSample{face("F3")}, nil)
	p = r3.Persons[0]
	if p.VisitorID == nil || *p.VisitorID != 1 {
		t.Fatalf("cycle 3 visitor = %v, want 1", p.VisitorID)
	}
	if p.DwellSeconds != 0 {
		t.Errorf("cycle 3 dwell = %v, want 0 after reset", p.DwellSeconds)
	}
	if got := o.Registry().DwellSeconds(1, t3.Add(2*time.Second)); got != 2 {
		t.Errorf("dwell 2s after restart = %v, want 2", got)
	}
}

func TestCycle_StaleVisitorWithoutNewSighting(t *testing.T) {
	o := NewOrchestrator("lobby", testConfig(), Dependencies{Oracle: &linkOracle{}})
	ctx := context.Background()

	o.Cycle(ctx, t0, []models.FaceSample{face("F1")}, nil)
	o.Cycle(ctx, t0.Add(10*time.Second), nil, nil)

	v, ok := o.Registry().Visitor(1, t0.Add(10*time.Second))
	if !ok {
		t.Fatal("visitor 1 missing")
	}
	if v.Running || v.DwellSeconds != 0 {
		t.Errorf("visitor 1 running=%v dwell=%v, want idle with 0", v.Running, v.DwellSeconds)
	}
}

func TestCycle_OracleFailure(t *testing.T) {
	oracle := &linkOracle{label: map[string]string{"F1": "ann"}}
	o := NewOrchestrator("lobby", testConfig(), Dependencies{Oracle: oracle})
	ctx := context.Background()

	o.Cycle(ctx, t0, []models.FaceSample{face("F1")}, nil)

	now := t0.Add(time.Second)
	before := o.Registry().Snapshot(now)

	oracle.err = errors.New("429 too many requests")
	report := o.Cycle(ctx, now, []models.FaceSample{face("F7"), face("F8")}, nil)

	if len(report.Persons) != 2 {
		t.Fatalf("persons = %d, want 2", len(report.Persons))
	}
	for i, p := range report.Persons {
		if p.VisitorID != nil {
			t.Errorf("person %d visitor = %d, want nil", i, *p.VisitorID)
		}
		if p.DwellSeconds != 0 {
			t.Errorf("person %d dwell = %v, want 0", i, p.DwellSeconds)
		}
	}
	if report.ActiveVisitorID != nil {
		t.Errorf("active = %d, want nil", *report.ActiveVisitorID)
	}
	if after := o.Registry().Snapshot(now); !reflect.DeepEqual(before, after) {
		t.Errorf("registry changed:\nbefore %+v\nafter  %+v", before, after)
	}

	// The next cycle retries independently.
	oracle.err = nil
	report = o.Cycle(ctx, now.Add(time.Second), []models.FaceSample{face("F9")}, nil)
	if report.Persons[0].VisitorID == nil || *report.Persons[0].VisitorID != 2 {
		t.Errorf("after recovery visitor = %v, want 2", report.Persons[0].VisitorID)
	}
}

func TestCycle_PersonsKeepDetectionOrderAndEmotion(t *testing.T) {
	o := NewOrchestrator("lobby", testConfig(), Dependencies{Oracle: &linkOracle{}})

	left := models.FaceSample{ID: "a", Rect: models.Rect{Top: 10, Left: 10, Height: 80, Width: 80}}
	right := models.FaceSample{ID: "b", Rect: models.Rect{Top: 12, Left: 300, Height: 78, Width: 81}}
	emotions := []models.EmotionSample{
		{Rect: models.Rect{Top: 14, Left: 297, Height: 80, Width: 80}, Scores: map[string]float64{"happiness": 0.7, "neutral": 0.3}},
		{Rect: models.Rect{Top: 8, Left: 11, Height: 82, Width: 79}, Scores: map[string]float64{"sadness": 0.6, "neutral": 0.4}},
	}

	report := o.Cycle(context.Background(), t0, []models.FaceSample{left, right}, emotions)

	want := []struct {
		face    string
		visitor int
		emotion string
	}{
		{"a", 1, "sadness"},
		{"b", 2, "happiness"},
	}
	for i, w := range want {
		p := report.Persons[i]
		if p.FaceID != w.face || p.VisitorID == nil || *p.VisitorID != w.visitor || p.Emotion != w.emotion {
			t.Errorf("person %d = {%s %v %q}, want {%s %d %q}", i, p.FaceID, p.VisitorID, p.Emotion, w.face, w.visitor, w.emotion)
		}
	}
	if report.CameraID != "lobby" || report.CycleID == uuid.Nil {
		t.Errorf("report header = %s/%s", report.CameraID, report.CycleID)
	}
}

func TestProcess_DegradesOnProviderFailure(t *testing.T) {
	tests := []struct {
		name        string
		detector    *stubDetector
		recognizer  *stubRecognizer
		wantPersons int
	}{
		{
			name:        "detector down",
			detector:    &stubDetector{err: errors.New("connection refused")},
			recognizer:  &stubRecognizer{emotions: []models.EmotionSample{{Rect: square, Scores: map[string]float64{"anger": 1}}}},
			wantPersons: 0,
		},
		{
			name:        "recognizer down",
			detector:    &stubDetector{faces: []models.FaceSample{face("F1")}},
			recognizer:  &stubRecognizer{err: errors.New("quota exceeded")},
			wantPersons: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			o := NewOrchestrator("door", testConfig(), Dependencies{
				Detector: tt.detector,
				Emotions: tt.recognizer,
				Oracle:   &linkOracle{},
				Sink:     sink,
			})

			report, err := o.Process(context.Background(), models.FrameTask{CameraID: "door", Timestamp: t0}, []byte("jpeg"))
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if len(report.Persons) != tt.wantPersons {
				t.Fatalf("persons = %d, want %d", len(report.Persons), tt.wantPersons)
			}
			for _, p := range report.Persons {
				if p.Emotion != "" {
					t.Errorf("emotion = %q, want empty", p.Emotion)
				}
			}
			if len(sink.reports) != 1 {
				t.Errorf("published %d reports, want 1", len(sink.reports))
			}
		})
	}
}

func TestProcess_ReportCarriesFrame(t *testing.T) {
	sink := &recordingSink{err: errors.New("nats: timeout")}
	o := NewOrchestrator("door", testConfig(), Dependencies{
		Detector: &stubDetector{faces: []models.FaceSample{face("F1")}},
		Oracle:   &linkOracle{},
		Sink:     sink,
	})

	task := models.FrameTask{
		CameraID:  "door",
		FrameID:   uuid.New(),
		Timestamp: t0,
		FrameRef:  "frames/door/x.jpg",
	}
	report, err := o.Process(context.Background(), task, []byte("jpeg"))
	if err != nil {
		t.Fatalf("Process() error = %v, publish failures must not fail the cycle", err)
	}
	if report.FrameID != task.FrameID || report.FrameRef != task.FrameRef || !report.Timestamp.Equal(t0) {
		t.Errorf("report = %+v, want frame fields copied from task", report)
	}
}

// blockingDetector parks inside Detect until released.
type blockingDetector struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDetector) Detect(context.Context, []byte) ([]models.FaceSample, error) {
	close(d.entered)
	<-d.release
	return nil, nil
}

func TestProcess_SkipsWhileBusy(t *testing.T) {
	det := &blockingDetector{entered: make(chan struct{}), release: make(chan struct{})}
	o := NewOrchestrator("door", testConfig(), Dependencies{Detector: det, Oracle: &linkOracle{}})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := o.Process(ctx, models.FrameTask{Timestamp: t0}, nil)
		done <- err
	}()
	<-det.entered

	if _, err := o.Process(ctx, models.FrameTask{Timestamp: t0.Add(time.Second)}, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Process() error = %v, want ErrBusy", err)
	}

	close(det.release)
	if err := <-done; err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	o.deps.Detector = &stubDetector{}
	if _, err := o.Process(ctx, models.FrameTask{Timestamp: t0.Add(2 * time.Second)}, nil); err != nil {
		t.Errorf("Process() after release error = %v", err)
	}
}

func TestRegistryConfig(t *testing.T) {
	got := registryConfig(testConfig())
	want := visitor.Config{ComparisonCap: 3, MaxCandidates: 10, StaleAfter: 3 * time.Second, OracleConcurrency: 1}
	if got != want {
		t.Errorf("registryConfig() = %+v, want %+v", got, want)
	}
}
