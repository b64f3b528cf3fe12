// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics, the audit logger, and the external
// metrics sink for the serving service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring model serving
// and drift detection. Metrics include:
//   - Prediction counters and latency histograms (by role and status)
//   - Drift buffer fill, batch drops, and analysis outcomes
//   - Model reload and admin operation counters
//   - Auth failure and rate limit counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint on the dedicated metrics
// port. Use with Prometheus + Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "bellwether"

// Subsystem for serving metrics
const servingSubsystem = "serving"

// ServingMetrics holds all Prometheus metrics for the serving service.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring prediction
// traffic, drift monitoring health, and administrative activity. Initialize
// once at startup via InitMetrics(), or with NewServingMetrics against a
// private registry in tests.
//
// # Fields
//
//   - PredictionsTotal: Counter of predictions by role and status
//   - PredictionLatencySeconds: Histogram of scoring latency by role
//   - RangeFlagsTotal: Counter of out-of-range field observations
//   - DriftBufferFill: Gauge of vectors currently buffered
//   - DriftBatchDropsTotal: Counter of full batches dropped unanalyzed
//   - DriftAnalysesTotal: Counter of analyses by trigger and outcome
//   - ModelReloadsTotal: Counter of slot reloads by role and status
//   - AuthFailuresTotal: Counter of rejected requests by reason
//   - RateLimitedTotal: Counter of throttled admin calls by route
//   - FeedbackTotal: Counter of ground-truth submissions by status
//   - PredictionLogWritesTotal: Counter of prediction log writes by status
//   - DriftFeedClients: Gauge of connected verdict-feed websockets
//
// # Thread Safety
//
// All operations are thread-safe.
type ServingMetrics struct {
	// PredictionsTotal counts predictions by serving slot and outcome.
	// Labels: role (champion, challenger), status (success, error)
	PredictionsTotal *prometheus.CounterVec

	// PredictionLatencySeconds measures request scoring latency.
	// Labels: role (champion, challenger)
	PredictionLatencySeconds *prometheus.HistogramVec

	// RangeFlagsTotal counts observations outside the plausible training
	// range. Labels: field (MedInc, HouseAge, ...)
	RangeFlagsTotal *prometheus.CounterVec

	// DriftBufferFill tracks how many vectors sit in the rolling buffer.
	DriftBufferFill prometheus.Gauge

	// DriftBatchDropsTotal counts full batches dropped because analysis
	// could not keep up.
	DriftBatchDropsTotal prometheus.Counter

	// DriftAnalysesTotal counts drift analyses by trigger and outcome.
	// Labels: trigger (threshold, interval, forced),
	// outcome (stable, drift_detected, skipped, error)
	DriftAnalysesTotal *prometheus.CounterVec

	// ModelReloadsTotal counts slot reload attempts.
	// Labels: role (champion, challenger), status (success, error)
	ModelReloadsTotal *prometheus.CounterVec

	// AuthFailuresTotal counts rejected requests.
	// Labels: reason (missing_key, invalid_key, insufficient_scope)
	AuthFailuresTotal *prometheus.CounterVec

	// RateLimitedTotal counts throttled admin requests. Labels: route
	RateLimitedTotal *prometheus.CounterVec

	// FeedbackTotal counts ground-truth submissions.
	// Labels: status (recorded, orphaned)
	FeedbackTotal *prometheus.CounterVec

	// PredictionLogWritesTotal counts async prediction log writes.
	// Labels: status (ok, dropped, error)
	PredictionLogWritesTotal *prometheus.CounterVec

	// DriftFeedClients tracks connected websocket verdict subscribers.
	DriftFeedClients prometheus.Gauge
}

// DefaultMetrics is the singleton instance of ServingMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *ServingMetrics

// NewServingMetrics creates and registers all serving metrics against the
// given registerer. Tests pass prometheus.NewRegistry() to stay isolated
// from the default registry.
func NewServingMetrics(reg prometheus.Registerer) *ServingMetrics {
	factory := promauto.With(reg)

	return &ServingMetrics{
		PredictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "predictions_total",
				Help:      "Total predictions served by slot role and status",
			},
			[]string{"role", "status"},
		),

		PredictionLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "prediction_latency_seconds",
				Help:      "Scoring latency per prediction in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1.0},
			},
			[]string{"role"},
		),

		RangeFlagsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "range_flags_total",
				Help:      "Observations outside the plausible training range by field",
			},
			[]string{"field"},
		),

		DriftBufferFill: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "drift_buffer_fill",
				Help:      "Vectors currently held in the drift rolling buffer",
			},
		),

		DriftBatchDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "drift_batch_drops_total",
				Help:      "Full drift batches dropped because analysis lagged",
			},
		),

		DriftAnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "drift_analyses_total",
				Help:      "Drift analyses by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		ModelReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "model_reloads_total",
				Help:      "Model slot reload attempts by role and status",
			},
			[]string{"role", "status"},
		),

		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "auth_failures_total",
				Help:      "Rejected requests by auth failure reason",
			},
			[]string{"reason"},
		),

		RateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "rate_limited_total",
				Help:      "Admin requests rejected by rate limiting",
			},
			[]string{"route"},
		),

		FeedbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "feedback_total",
				Help:      "Ground truth submissions by status",
			},
			[]string{"status"},
		),

		PredictionLogWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "prediction_log_writes_total",
				Help:      "Asynchronous prediction log writes by status",
			},
			[]string{"status"},
		),

		DriftFeedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: servingSubsystem,
				Name:      "drift_feed_clients",
				Help:      "Connected drift verdict websocket subscribers",
			},
		),
	}
}

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics with the default registry.
// Should be called once at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *ServingMetrics {
	DefaultMetrics = NewServingMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// AuthFailureReason categorizes rejected requests for metrics.
type AuthFailureReason string

const (
	// AuthReasonMissingKey indicates no API key header was sent.
	AuthReasonMissingKey AuthFailureReason = "missing_key"

	// AuthReasonInvalidKey indicates the key matched no known credential.
	AuthReasonInvalidKey AuthFailureReason = "invalid_key"

	// AuthReasonInsufficientScope indicates a standard key hit a
	// privileged endpoint.
	AuthReasonInsufficientScope AuthFailureReason = "insufficient_scope"
)

// LogWriteStatus categorizes prediction log write outcomes.
type LogWriteStatus string

const (
	// LogWriteOK indicates the record was persisted.
	LogWriteOK LogWriteStatus = "ok"

	// LogWriteDropped indicates the write queue was full.
	LogWriteDropped LogWriteStatus = "dropped"

	// LogWriteError indicates the store rejected the write.
	LogWriteError LogWriteStatus = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordPrediction records one served prediction.
//
// # Inputs
//
//   - role: The slot that scored the request.
//   - success: Whether scoring succeeded.
//   - seconds: Scoring latency.
func (m *ServingMetrics) RecordPrediction(role string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.PredictionsTotal.WithLabelValues(role, status).Inc()
	m.PredictionLatencySeconds.WithLabelValues(role).Observe(seconds)
}

// RecordRangeFlags counts fields that fell outside the plausible range.
//
// # Inputs
//
//   - fields: Schema field names, as returned by FlaggedFields.
func (m *ServingMetrics) RecordRangeFlags(fields []string) {
	for _, f := range fields {
		m.RangeFlagsTotal.WithLabelValues(f).Inc()
	}
}

// SetDriftBufferFill updates the buffer fill gauge.
func (m *ServingMetrics) SetDriftBufferFill(n int) {
	m.DriftBufferFill.Set(float64(n))
}

// RecordBatchDrop counts one dropped analysis batch.
func (m *ServingMetrics) RecordBatchDrop() {
	m.DriftBatchDropsTotal.Inc()
}

// RecordAnalysis records one drift analysis attempt.
//
// # Inputs
//
//   - trigger: What initiated the analysis (threshold, interval, forced).
//   - outcome: The verdict status or "skipped"/"error".
func (m *ServingMetrics) RecordAnalysis(trigger, outcome string) {
	m.DriftAnalysesTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordReload records a model slot reload attempt.
func (m *ServingMetrics) RecordReload(role string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ModelReloadsTotal.WithLabelValues(role, status).Inc()
}

// RecordAuthFailure records one rejected request.
func (m *ServingMetrics) RecordAuthFailure(reason AuthFailureReason) {
	m.AuthFailuresTotal.WithLabelValues(string(reason)).Inc()
}

// RecordRateLimited records one throttled admin request.
func (m *ServingMetrics) RecordRateLimited(route string) {
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// RecordFeedback records a ground-truth submission. Orphaned means the
// request id matched no logged prediction.
func (m *ServingMetrics) RecordFeedback(matched bool) {
	status := "recorded"
	if !matched {
		status = "orphaned"
	}
	m.FeedbackTotal.WithLabelValues(status).Inc()
}

// RecordLogWrite records one asynchronous prediction log write outcome.
func (m *ServingMetrics) RecordLogWrite(status LogWriteStatus) {
	m.PredictionLogWritesTotal.WithLabelValues(string(status)).Inc()
}

// FeedClientConnected increments the websocket subscriber gauge.
func (m *ServingMetrics) FeedClientConnected() {
	m.DriftFeedClients.Inc()
}

// FeedClientDisconnected decrements the websocket subscriber gauge.
func (m *ServingMetrics) FeedClientDisconnected() {
	m.DriftFeedClients.Dec()
}
