package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dwell",
		Name:      "frames_ingested_total",
		Help:      "Total number of frames uploaded and queued by the ingestor",
	}, []string{"camera"})

	CyclesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dwell",
		Name:      "cycles_processed_total",
		Help:      "Total number of completed tracking cycles",
	}, []string{"camera"})

	CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dwell",
		Name:      "cycles_skipped_total",
		Help:      "Frames dropped because a cycle was already in flight",
	}, []string{"camera"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dwell",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"camera"})

	VisitorsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dwell",
		Name:      "visitors_created_total",
		Help:      "Total number of visitors registered",
	}, []string{"camera"})

	DwellResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dwell",
		Name:      "dwell_resets_total",
		Help:      "Dwell timers reset because the visitor went stale",
	}, []string{"camera"})

	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dwell",
		Name:      "provider_failures_total",
		Help:      "Failed calls to recognition providers",
	}, []string{"camera", "provider"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dwell",
		Name:      "stage_duration_seconds",
		Help:      "Duration of tracking cycle stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	ActiveVisitors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dwell",
		Name:      "active_visitors",
		Help:      "Visitors with a running dwell timer",
	}, []string{"camera"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dwell",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dwell",
		Name:      "active_cameras",
		Help:      "Number of cameras currently being ingested",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dwell",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dwell",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
