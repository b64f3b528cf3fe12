// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ============================================================================
// Mock Write API
// ============================================================================

// mockWriteAPI records points instead of shipping them to InfluxDB.
type mockWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	flushed bool
	errCh   chan error
}

func newMockWriteAPI() *mockWriteAPI {
	return &mockWriteAPI{errCh: make(chan error)}
}

func (m *mockWriteAPI) WriteRecord(_ string) {}

func (m *mockWriteAPI) WritePoint(point *write.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, point)
}

func (m *mockWriteAPI) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
}

func (m *mockWriteAPI) Errors() <-chan error { return m.errCh }

func (m *mockWriteAPI) SetWriteFailedCallback(_ api.WriteFailedCallback) {}

var _ api.WriteAPI = (*mockWriteAPI)(nil)

func (m *mockWriteAPI) written() []*write.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*write.Point, len(m.points))
	copy(out, m.points)
	return out
}

// ============================================================================
// Test Helpers
// ============================================================================

func newTestSink(t *testing.T) (*InfluxSink, *mockWriteAPI) {
	t.Helper()
	mock := newMockWriteAPI()
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return &InfluxSink{writeAPI: mock, log: log}, mock
}

func tagValue(t *testing.T, p *write.Point, key string) string {
	t.Helper()
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	t.Errorf("Point %q missing tag %q", p.Name(), key)
	return ""
}

func fieldValue(t *testing.T, p *write.Point, key string) interface{} {
	t.Helper()
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	t.Errorf("Point %q missing field %q", p.Name(), key)
	return nil
}

// ============================================================================
// Prediction Point Tests
// ============================================================================

func TestInfluxSink_PredictionWritesPoint(t *testing.T) {
	sink, mock := newTestSink(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sink.Prediction(PredictionPoint{
		RequestID:  "req-42",
		Role:       "champion",
		Version:    "1.2.0",
		Price:      4.526,
		Latency:    2500 * time.Microsecond,
		RangeFlags: 2,
		At:         at,
	})

	points := mock.written()
	if len(points) != 1 {
		t.Fatalf("Expected 1 point written, got %d", len(points))
	}

	p := points[0]
	if p.Name() != "predictions" {
		t.Errorf("Point name = %q, want %q", p.Name(), "predictions")
	}
	if got := tagValue(t, p, "role"); got != "champion" {
		t.Errorf("Tag role = %q, want %q", got, "champion")
	}
	if got := tagValue(t, p, "model_version"); got != "1.2.0" {
		t.Errorf("Tag model_version = %q, want %q", got, "1.2.0")
	}
	if got := fieldValue(t, p, "request_id"); got != "req-42" {
		t.Errorf("Field request_id = %v, want req-42", got)
	}
	if got := fieldValue(t, p, "price"); got != 4.526 {
		t.Errorf("Field price = %v, want 4.526", got)
	}
	if got := fieldValue(t, p, "latency_ms"); got != 2.5 {
		t.Errorf("Field latency_ms = %v, want 2.5", got)
	}
	if got := fieldValue(t, p, "range_flags"); got != int64(2) {
		t.Errorf("Field range_flags = %v, want 2", got)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Point time = %v, want %v", p.Time(), at)
	}
}

func TestInfluxSink_PredictionZeroTimeDefaults(t *testing.T) {
	sink, mock := newTestSink(t)
	before := time.Now()

	sink.Prediction(PredictionPoint{RequestID: "req-1", Role: "champion"})

	points := mock.written()
	if len(points) != 1 {
		t.Fatalf("Expected 1 point written, got %d", len(points))
	}
	if points[0].Time().Before(before) {
		t.Errorf("Expected point time to default to now, got %v", points[0].Time())
	}
}

// ============================================================================
// Verdict Point Tests
// ============================================================================

func TestInfluxSink_VerdictWritesPoint(t *testing.T) {
	sink, mock := newTestSink(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sink.Verdict(VerdictPoint{
		Status:        "drift_detected",
		Trigger:       "threshold",
		Detected:      true,
		DriftedFields: 3,
		Samples:       100,
		At:            at,
	})

	points := mock.written()
	if len(points) != 1 {
		t.Fatalf("Expected 1 point written, got %d", len(points))
	}

	p := points[0]
	if p.Name() != "drift_verdicts" {
		t.Errorf("Point name = %q, want %q", p.Name(), "drift_verdicts")
	}
	if got := tagValue(t, p, "status"); got != "drift_detected" {
		t.Errorf("Tag status = %q, want %q", got, "drift_detected")
	}
	if got := tagValue(t, p, "trigger"); got != "threshold" {
		t.Errorf("Tag trigger = %q, want %q", got, "threshold")
	}
	if got := fieldValue(t, p, "detected"); got != true {
		t.Errorf("Field detected = %v, want true", got)
	}
	if got := fieldValue(t, p, "drifted_fields"); got != int64(3) {
		t.Errorf("Field drifted_fields = %v, want 3", got)
	}
	if got := fieldValue(t, p, "samples"); got != int64(100) {
		t.Errorf("Field samples = %v, want 100", got)
	}
}

func TestInfluxSink_VerdictZeroTimeDefaults(t *testing.T) {
	sink, mock := newTestSink(t)
	before := time.Now()

	sink.Verdict(VerdictPoint{Status: "stable", Trigger: "threshold"})

	points := mock.written()
	if len(points) != 1 {
		t.Fatalf("Expected 1 point written, got %d", len(points))
	}
	if points[0].Time().Before(before) {
		t.Errorf("Expected point time to default to now, got %v", points[0].Time())
	}
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestInfluxSink_CloseFlushes(t *testing.T) {
	sink, mock := newTestSink(t)

	sink.Close()

	mock.mu.Lock()
	flushed := mock.flushed
	mock.mu.Unlock()
	if !flushed {
		t.Error("Expected Close to flush the write API")
	}
}

func TestInfluxSink_DrainErrorsLogsFailures(t *testing.T) {
	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, nil))
	mock := newMockWriteAPI()
	sink := &InfluxSink{writeAPI: mock, log: log}

	done := make(chan struct{})
	go func() {
		sink.drainErrors()
		close(done)
	}()

	mock.errCh <- errors.New("bucket not found")
	close(mock.errCh)
	<-done

	logged := buf.String()
	if !strings.Contains(logged, "metrics sink write failed") {
		t.Errorf("Expected write failure to be logged, got: %q", logged)
	}
	if !strings.Contains(logged, "bucket not found") {
		t.Errorf("Expected error detail in log, got: %q", logged)
	}
}

func TestInfluxSink_ConcurrentWrites(t *testing.T) {
	sink, mock := newTestSink(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Prediction(PredictionPoint{RequestID: "req", Role: "champion"})
		}()
	}
	wg.Wait()

	if got := len(mock.written()); got != 50 {
		t.Errorf("Expected 50 points written, got %d", got)
	}
}

// ============================================================================
// Nop Sink Tests
// ============================================================================

func TestNopSink_AllOperationsAreSafe(t *testing.T) {
	var sink MetricsSink = NopSink{}

	sink.Prediction(PredictionPoint{RequestID: "req-1"})
	sink.Verdict(VerdictPoint{Status: "stable"})
	sink.Close()
}
