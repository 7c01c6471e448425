// Package metrics exposes Prometheus instrumentation for the rewrite
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prosepress_gateway_call_duration_seconds",
			Help:    "Gateway call duration in seconds by operation",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"operation", "status"}, // operation: "rewrite"/"summary"/"smooth"
	)

	validationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosepress_validation_rejections_total",
			Help: "Rewrites rejected by output validation",
		},
		[]string{"reason"}, // "invalid" or "error"
	)

	windowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosepress_windows_processed_total",
			Help: "Windows processed by outcome",
		},
		[]string{"outcome"}, // "rewritten" or "fallback"
	)

	chaptersProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prosepress_chapters_processed_total",
			Help: "Chapters fully processed",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prosepress_active_workers",
			Help: "Number of chapter workers currently running",
		},
	)
)

// Collector provides convenience methods for recording pipeline metrics.
type Collector struct{}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordGatewayCall records one gateway call's duration and outcome.
func (c *Collector) RecordGatewayCall(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	gatewayCallDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordValidationRejection counts a rewrite attempt discarded by validation.
func (c *Collector) RecordValidationRejection(reason string) {
	validationRejections.WithLabelValues(reason).Inc()
}

// RecordWindow counts a completed window by outcome.
func (c *Collector) RecordWindow(fallback bool) {
	outcome := "rewritten"
	if fallback {
		outcome = "fallback"
	}
	windowsProcessed.WithLabelValues(outcome).Inc()
}

// RecordChapter counts a fully processed chapter.
func (c *Collector) RecordChapter() {
	chaptersProcessed.Inc()
}

// WorkerStarted increments the active worker gauge.
func (c *Collector) WorkerStarted() {
	activeWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func (c *Collector) WorkerStopped() {
	activeWorkers.Dec()
}
