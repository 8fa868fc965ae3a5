package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/dwell/internal/models"
)

// ErrMalformed marks a message whose payload cannot be decoded. Such
// messages are terminated instead of redelivered.
var ErrMalformed = errors.New("queue: malformed message")

type (
	FrameHandler  func(ctx context.Context, task models.FrameTask) error
	ReportHandler func(ctx context.Context, report models.CycleReport) error
)

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeFrames starts consuming frame tasks from the FRAMES stream.
// workerCount goroutines process messages concurrently.
func (c *Consumer) ConsumeFrames(ctx context.Context, consumerName string, handler FrameHandler, workerCount int) error {
	if workerCount <= 0 {
		workerCount = 1
	}

	cons, err := c.consumer(ctx, FramesStreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		FilterSubject: FramesSubjectBase + ".>",
	})
	if err != nil {
		return err
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)
	go fetchLoop(ctx, cons, workerCount, msgCh)

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				settle(msg, handleMessage(ctx, msg.Data(), handler), "worker", workerID)
			}
		}(i)
	}

	slog.Info("frame consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeReports starts consuming cycle reports. Reports are handled in
// delivery order on a single goroutine.
func (c *Consumer) ConsumeReports(ctx context.Context, consumerName string, handler ReportHandler) error {
	cons, err := c.consumer(ctx, ReportsStreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: ReportsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return err
	}

	msgCh := make(chan jetstream.Msg, 20)
	go fetchLoop(ctx, cons, 10, msgCh)
	go func() {
		for msg := range msgCh {
			settle(msg, handleMessage(ctx, msg.Data(), handler))
		}
	}()

	slog.Info("report consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) consumer(ctx context.Context, streamName string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", streamName, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Name, err)
	}
	return cons, nil
}

// fetchLoop pulls batches into msgCh until ctx is done, then closes it.
func fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, msgCh chan<- jetstream.Msg) {
	defer close(msgCh)
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch messages", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for msg := range batch.Messages() {
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleMessage decodes a JSON payload and passes it to fn.
func handleMessage[T any](ctx context.Context, data []byte, fn func(context.Context, T) error) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fn(ctx, v)
}

func settle(msg jetstream.Msg, err error, logArgs ...any) {
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ErrMalformed):
		slog.Error("drop malformed message", append(logArgs, "subject", msg.Subject(), "error", err)...)
		_ = msg.Term()
	default:
		slog.Error("process message", append(logArgs, "subject", msg.Subject(), "error", err)...)
		_ = msg.Nak()
	}
}

func (c *Consumer) Close() {
	c.nc.Close()
}
