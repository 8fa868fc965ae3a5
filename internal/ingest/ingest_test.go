package ingest

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/storage"
)

func jpeg(body ...byte) []byte {
	return append(append([]byte{0xFF, 0xD8}, body...), 0xFF, 0xD9)
}

func TestReadJPEGFrames(t *testing.T) {
	tests := []struct {
		name    string
		stream  []byte
		want    [][]byte
		wantErr bool
	}{
		{
			name:   "two frames with garbage between",
			stream: bytes.Join([][]byte{{0x00, 0x11}, jpeg(1, 2, 3), {0x42}, jpeg(4)}, nil),
			want:   [][]byte{jpeg(1, 2, 3), jpeg(4)},
		},
		{
			name:   "fill bytes before end marker",
			stream: append([]byte{0xFF, 0xD8, 7, 0xFF, 0xFF}, 0xD9),
			want:   [][]byte{{0xFF, 0xD8, 7, 0xFF, 0xFF, 0xD9}},
		},
		{
			name:   "truncated trailing frame",
			stream: append(jpeg(9), 0xFF, 0xD8, 1, 2),
			want:   [][]byte{jpeg(9)},
		},
		{
			name:    "no frames",
			stream:  []byte{1, 2, 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][]byte
			err := readJPEGFrames(context.Background(), bytes.NewReader(tt.stream), 0, func(frame []byte) error {
				got = append(got, frame)
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("readJPEGFrames() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("frames = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestReadJPEGFrames_CallbackErrorsDoNotStop(t *testing.T) {
	stream := append(jpeg(1), jpeg(2)...)
	calls := 0
	err := readJPEGFrames(context.Background(), bytes.NewReader(stream), 0, func([]byte) error {
		calls++
		return errors.New("upload failed")
	})
	if err != nil {
		t.Fatalf("readJPEGFrames() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("callback calls = %d, want 2", calls)
	}
}

func TestFFmpegArgs(t *testing.T) {
	rtsp := strings.Join(ffmpegArgs("rtsp://cam/1", 2, 640), " ")
	if !strings.Contains(rtsp, "-rtsp_transport tcp") || !strings.Contains(rtsp, "fps=2,scale=640:-2") {
		t.Errorf("rtsp args = %s", rtsp)
	}
	if !strings.HasSuffix(rtsp, "pipe:1") {
		t.Errorf("args must end with the output pipe: %s", rtsp)
	}

	httpArgs := strings.Join(ffmpegArgs("https://cam/stream.m3u8", 1, 320), " ")
	if !strings.Contains(httpArgs, "-reconnect 1") || strings.Contains(httpArgs, "rtsp_transport") {
		t.Errorf("http args = %s", httpArgs)
	}
}

func TestFirstURL(t *testing.T) {
	got, err := firstURL("\n  https://video.example/v  \nhttps://video.example/a\n")
	if err != nil || got != "https://video.example/v" {
		t.Errorf("firstURL() = %q, %v", got, err)
	}
	if _, err := firstURL("  \n"); err == nil {
		t.Error("firstURL(empty) error = nil")
	}
}

func TestOverflow(t *testing.T) {
	objects := []storage.ObjectInfo{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}}

	tests := []struct {
		keep int
		want []string
	}{
		{keep: 0, want: nil},
		{keep: 4, want: nil},
		{keep: 10, want: nil},
		{keep: 3, want: []string{"a"}},
		{keep: 1, want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := overflow(objects, tt.keep); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("overflow(keep=%d) = %v, want %v", tt.keep, got, tt.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, time.Minute, time.Minute}
	for i, w := range want {
		if got := backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if backoff(200) != time.Minute {
		t.Error("backoff must stay capped for large attempts")
	}
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStore) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memStore) DeleteObjects(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	s.deleted = append(s.deleted, keys...)
	return nil
}

type chanPublisher struct {
	tasks chan models.FrameTask
	err   error
}

func (p *chanPublisher) PublishFrame(_ context.Context, task models.FrameTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks <- task
	return nil
}

func TestManager_HandleFrame(t *testing.T) {
	store := newMemStore()
	pub := &chanPublisher{tasks: make(chan models.FrameTask, 1)}
	m := NewManager(config.IngestConfig{FrameWidth: 640}, pub, store)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	if err := m.handleFrame(context.Background(), "lobby", jpeg(1)); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	task := <-pub.tasks
	if task.CameraID != "lobby" || task.Width != 640 || !task.Timestamp.Equal(at) {
		t.Errorf("task = %+v", task)
	}
	if task.FrameRef != storage.FrameKey("lobby", task.FrameID.String()) {
		t.Errorf("frame ref = %q", task.FrameRef)
	}
	if _, ok := store.objects[task.FrameRef]; !ok {
		t.Errorf("frame %s not uploaded", task.FrameRef)
	}

	pub.err = errors.New("nats down")
	if err := m.handleFrame(context.Background(), "lobby", jpeg(2)); err == nil {
		t.Error("handleFrame() with failing publisher error = nil")
	}
}

func TestManager_RunsCameraAndPrunes(t *testing.T) {
	store := newMemStore()
	pub := &chanPublisher{tasks: make(chan models.FrameTask, 2*pruneEvery)}
	m := NewManager(config.IngestConfig{FrameWidth: 320, FrameRetention: 10}, pub, store)

	var gotURL string
	m.resolve = func(_ context.Context, url string) (string, error) { return url + "/resolved", nil }
	m.extract = func(ctx context.Context, streamURL string, fps, width int, cb FrameCallback) error {
		gotURL = streamURL
		for i := 0; i < pruneEvery; i++ {
			if err := cb(jpeg(byte(i))); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return ctx.Err()
	}

	cam := config.CameraConfig{ID: "yt", URL: "https://youtube.example/watch", Type: "youtube", FPS: 1}
	if err := m.Start(context.Background(), cam); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background(), cam); err == nil {
		t.Error("second Start() of the same camera error = nil")
	}

	for i := 0; i < pruneEvery; i++ {
		select {
		case <-pub.tasks:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d frames published", i)
		}
	}

	// The prune pass runs right after the last publish.
	deadline := time.Now().Add(5 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.objects)
		store.mu.Unlock()
		if n == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("objects after prune = %d, want 10", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
	m.StopAll()
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after StopAll = %d", m.ActiveCount())
	}
	if gotURL != cam.URL+"/resolved" {
		t.Errorf("extract url = %q, want resolved url", gotURL)
	}
	if len(store.deleted) != pruneEvery-10 {
		t.Errorf("deleted = %d, want %d", len(store.deleted), pruneEvery-10)
	}
}
