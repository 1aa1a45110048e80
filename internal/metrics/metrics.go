package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Ingestion counters
	FramesIngested atomic.Uint64
	FramesRejected atomic.Uint64

	// Pipeline counters
	DetectQueueDrops    atomic.Uint64
	BroadcastQueueDrops atomic.Uint64
	DetectionsRun       atomic.Uint64
	DetectErrors        atomic.Uint64
	AnnotateErrors      atomic.Uint64

	// Incident counters
	IncidentsTriggered atomic.Uint64
	ClipsEncoded       atomic.Uint64
	EncodeFailures     atomic.Uint64
	TranscodeFallbacks atomic.Uint64

	// Latency tracking
	IngestLatencyMs atomic.Uint64 // Average frame age at ingestion in ms
	DetectLatencyMs atomic.Uint64 // Average detector round trip in ms

	// Live delivery
	ActiveStreamClients atomic.Uint64
	TotalStreamClients  atomic.Uint64

	// Buffer usage
	BufferUsagePercent atomic.Uint64 // Percentage (0-100)

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Ingestion metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_frames_ingested_total",
			Help: "Total frames accepted by the upload endpoint",
		},
		func() float64 { return float64(m.FramesIngested.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_frames_rejected_total",
			Help: "Total frames rejected at validation",
		},
		func() float64 { return float64(m.FramesRejected.Load()) },
	))

	// Pipeline metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_detect_queue_drops_total",
			Help: "Total frames dropped at the detection queue",
		},
		func() float64 { return float64(m.DetectQueueDrops.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_broadcast_queue_drops_total",
			Help: "Total frames evicted from the broadcast queue",
		},
		func() float64 { return float64(m.BroadcastQueueDrops.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_detections_run_total",
			Help: "Total frames analyzed by the detector",
		},
		func() float64 { return float64(m.DetectionsRun.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_detect_errors_total",
			Help: "Total detector invocation errors",
		},
		func() float64 { return float64(m.DetectErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_annotate_errors_total",
			Help: "Total frame annotation errors",
		},
		func() float64 { return float64(m.AnnotateErrors.Load()) },
	))

	// Incident metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_incidents_triggered_total",
			Help: "Total qualifying detections that triggered clip extraction",
		},
		func() float64 { return float64(m.IncidentsTriggered.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_clips_encoded_total",
			Help: "Total incident clips encoded successfully",
		},
		func() float64 { return float64(m.ClipsEncoded.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_encode_failures_total",
			Help: "Total clip encode failures",
		},
		func() float64 { return float64(m.EncodeFailures.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_transcode_fallbacks_total",
			Help: "Total clips served from the primary encode after a transcode failure",
		},
		func() float64 { return float64(m.TranscodeFallbacks.Load()) },
	))

	// Latency metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_ingest_latency_ms",
			Help: "Average frame age at ingestion in milliseconds",
		},
		func() float64 { return float64(m.IngestLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_detect_latency_ms",
			Help: "Average detector round trip in milliseconds",
		},
		func() float64 { return float64(m.DetectLatencyMs.Load()) },
	))

	// Client metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_active_stream_clients",
			Help: "Number of connected live-stream clients",
		},
		func() float64 { return float64(m.ActiveStreamClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_total_stream_clients",
			Help: "Total live-stream clients connected since start",
		},
		func() float64 { return float64(m.TotalStreamClients.Load()) },
	))

	// Buffer metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safefall_buffer_usage_percent",
			Help: "Frame window buffer usage percentage",
		},
		func() float64 { return float64(m.BufferUsagePercent.Load()) },
	))
}

// UpdateIngestLatency updates the average frame age at ingestion
func (m *Metrics) UpdateIngestLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.IngestLatencyMs.Store(uint64(latency))
}

// UpdateDetectLatency updates the average detector round trip
func (m *Metrics) UpdateDetectLatency(duration time.Duration) {
	m.DetectLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateBufferUsage updates the buffer usage percentage
func (m *Metrics) UpdateBufferUsage(used, capacity int) {
	if capacity > 0 {
		m.BufferUsagePercent.Store(uint64(used * 100 / capacity))
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
