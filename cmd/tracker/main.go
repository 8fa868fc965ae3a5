package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/observability"
	"github.com/your-org/dwell/internal/queue"
	"github.com/your-org/dwell/internal/storage"
	"github.com/your-org/dwell/internal/tracking"
)

// faceSampleRetention bounds how long local face embeddings are kept.
const faceSampleRetention = 24 * time.Hour

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting dwell tracker",
		"face_provider", cfg.Providers.Face.Kind,
		"emotion_provider", cfg.Providers.Emotion.Kind,
		"workers", cfg.Tracking.WorkerCount,
		"tolerance", cfg.Tracking.PixelTolerance(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prov, err := buildProviders(ctx, cfg)
	if err != nil {
		slog.Error("init providers", "error", err)
		os.Exit(1)
	}
	defer prov.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	deps := prov.deps
	deps.Sink = producer
	sessions := tracking.NewSessions(cfg.Tracking, deps, minioStore)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeFrames(ctx, "dwell-tracker", sessions.HandleFrame, cfg.Tracking.WorkerCount); err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("tracker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := producer.QueueDepth(ctx); err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	if prov.db != nil {
		go pruneFaceSamples(ctx, prov.db, sessions)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down tracker...", "cameras", sessions.Cameras())
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("tracker stopped")
}

// pruneFaceSamples expires old embeddings. Samples still anchoring a visitor
// are kept so long-present visitors stay matchable.
func pruneFaceSamples(ctx context.Context, db *storage.PostgresStore, sessions *tracking.Sessions) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PruneFaceSamples(ctx, time.Now().Add(-faceSampleRetention), sessions.AnchorFaces())
			if err != nil {
				slog.Warn("prune face samples", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned face samples", "deleted", n)
			}
		}
	}
}
