// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// PredictionPoint is one served prediction flattened for the sink.
type PredictionPoint struct {
	RequestID  string
	Role       string
	Version    string
	Price      float64
	Latency    time.Duration
	RangeFlags int
	At         time.Time
}

// VerdictPoint is one drift analysis outcome flattened for the sink.
type VerdictPoint struct {
	Status        string
	Trigger       string
	Detected      bool
	DriftedFields int
	Samples       int
	At            time.Time
}

// MetricsSink ships serving events to an external time-series store.
//
// # Description
//
// The sink is strictly fire-and-forget: a slow or dead store must never
// slow down or fail a prediction. Implementations buffer internally and
// drop on overflow.
type MetricsSink interface {
	Prediction(p PredictionPoint)
	Verdict(v VerdictPoint)
	Close()
}

// =============================================================================
// InfluxDB Sink
// =============================================================================

// InfluxSink writes points through the InfluxDB v2 non-blocking write API.
// WritePoint enqueues into the client's internal buffer and returns
// immediately; batching, retries, and drops are the client's business.
// Write failures surface on the Errors channel and are logged, nothing more.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *slog.Logger
}

// NewInfluxSink connects the sink. The connection is lazy; a store that is
// down at boot only produces warnings once points start flowing.
func NewInfluxSink(url, token, org, bucket string, log *slog.Logger) *InfluxSink {
	if log == nil {
		log = slog.Default()
	}
	client := influxdb2.NewClient(url, token)
	s := &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
		log:      log,
	}
	go s.drainErrors()
	return s
}

// drainErrors logs asynchronous write failures. The channel closes when the
// write API shuts down, ending this goroutine.
func (s *InfluxSink) drainErrors() {
	for err := range s.writeAPI.Errors() {
		s.log.Warn("metrics sink write failed", "error", err)
	}
}

// Prediction implements MetricsSink.
func (s *InfluxSink) Prediction(p PredictionPoint) {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	point := influxdb2.NewPoint(
		"predictions",
		map[string]string{
			"role":          p.Role,
			"model_version": p.Version,
		},
		map[string]interface{}{
			"request_id":  p.RequestID,
			"price":       p.Price,
			"latency_ms":  float64(p.Latency.Microseconds()) / 1000.0,
			"range_flags": p.RangeFlags,
		},
		at,
	)
	s.writeAPI.WritePoint(point)
}

// Verdict implements MetricsSink.
func (s *InfluxSink) Verdict(v VerdictPoint) {
	at := v.At
	if at.IsZero() {
		at = time.Now()
	}
	point := influxdb2.NewPoint(
		"drift_verdicts",
		map[string]string{
			"status":  v.Status,
			"trigger": v.Trigger,
		},
		map[string]interface{}{
			"detected":       v.Detected,
			"drifted_fields": v.DriftedFields,
			"samples":        v.Samples,
		},
		at,
	)
	s.writeAPI.WritePoint(point)
}

// Close flushes buffered points and releases the client.
func (s *InfluxSink) Close() {
	s.writeAPI.Flush()
	if s.client != nil {
		s.client.Close()
	}
}

var _ MetricsSink = (*InfluxSink)(nil)

// =============================================================================
// Nop Sink
// =============================================================================

// NopSink discards every point. Used when no sink is configured and in
// tests.
type NopSink struct{}

// Prediction implements MetricsSink.
func (NopSink) Prediction(_ PredictionPoint) {}

// Verdict implements MetricsSink.
func (NopSink) Verdict(_ VerdictPoint) {}

// Close implements MetricsSink.
func (NopSink) Close() {}

var _ MetricsSink = NopSink{}
