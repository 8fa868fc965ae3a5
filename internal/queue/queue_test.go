package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/dwell/internal/models"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		camera, want string
	}{
		{"lobby", "frames.lobby"},
		{"floor.2", "frames.floor_2"},
		{"a*b>c", "frames.a_b_c"},
		{"front door", "frames.front_door"},
		{"", "frames._"},
	}
	for _, tt := range tests {
		if got := Subject(FramesSubjectBase, tt.camera); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.camera, got, tt.want)
		}
	}
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	var got models.FrameTask
	var handler FrameHandler = func(_ context.Context, task models.FrameTask) error {
		got = task
		return nil
	}

	payload := []byte(`{"camera_id":"lobby","frame_id":"` + id.String() + `","frame_ref":"frames/lobby/x.jpg","width":640}`)
	if err := handleMessage(ctx, payload, handler); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
	if got.CameraID != "lobby" || got.FrameID != id || got.Width != 640 {
		t.Errorf("decoded task = %+v", got)
	}

	if err := handleMessage(ctx, []byte("{not json"), handler); !errors.Is(err, ErrMalformed) {
		t.Errorf("malformed payload error = %v, want ErrMalformed", err)
	}

	boom := errors.New("boom")
	failing := func(context.Context, models.CycleReport) error { return boom }
	if err := handleMessage(ctx, []byte(`{"camera_id":"lobby"}`), failing); !errors.Is(err, boom) || errors.Is(err, ErrMalformed) {
		t.Errorf("handler error = %v, want boom", err)
	}
}
