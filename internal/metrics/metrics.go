package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker metrics
var (
	// GenerationsTotal counts generation attempts by terminal outcome.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Name:      "generations_total",
			Help:      "Total number of generation attempts",
		},
		[]string{"status"},
	)

	// StepDuration tracks the time spent in each pipeline step.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vividverse",
			Name:      "pipeline_step_duration_seconds",
			Help:      "Time spent in each generation pipeline step",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"step"},
	)

	// ActiveAttempts tracks the number of in-flight generation attempts.
	ActiveAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vividverse",
			Name:      "active_attempts",
			Help:      "Number of in-flight generation attempts",
		},
	)

	// CaptionFallbacks counts transcriptions that degraded to empty captions.
	CaptionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Name:      "caption_fallbacks_total",
			Help:      "Transcription failures degraded to empty captions",
		},
	)

	// ProbeFallbacks counts audio probes that fell back to the default duration.
	ProbeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Name:      "probe_fallbacks_total",
			Help:      "Audio duration probes that fell back to the default",
		},
	)

	// RenderPolls counts render status poll requests by outcome.
	RenderPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Name:      "render_polls_total",
			Help:      "Total render status polls",
		},
		[]string{"outcome"},
	)

	// RenderDuration tracks wall-clock time from submit to terminal render state.
	RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vividverse",
			Name:      "render_duration_seconds",
			Help:      "Time from render submission to terminal state",
			Buckets:   []float64{10, 30, 60, 120, 300, 600},
		},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vividverse",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AuthFailures counts authentication failures by type.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	// GenerationsSubmitted counts generation requests accepted by the API.
	GenerationsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Subsystem: "api",
			Name:      "generations_submitted_total",
			Help:      "Total number of generation requests queued",
		},
	)

	// VideosDeleted counts record deletions.
	VideosDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vividverse",
			Subsystem: "api",
			Name:      "videos_deleted_total",
			Help:      "Total number of video records deleted",
		},
	)
)

// RecordSuccess records a completed generation attempt.
func RecordSuccess() {
	GenerationsTotal.WithLabelValues("completed").Inc()
}

// RecordFailure records a failed generation attempt.
func RecordFailure() {
	GenerationsTotal.WithLabelValues("failed").Inc()
}
