// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Full-wire serving test: a filesystem registry on disk, the real route
// table with key auth, and live traffic driven far enough from the
// reference to trip the drift monitor.

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Bellwether/pkg/extensions"
	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/drift"
	"github.com/AleutianAI/Bellwether/services/serving/middleware"
	"github.com/AleutianAI/Bellwether/services/serving/model"
	"github.com/AleutianAI/Bellwether/services/serving/observability"
	"github.com/AleutianAI/Bellwether/services/serving/routes"
	"github.com/AleutianAI/Bellwether/services/serving/routing"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
	"github.com/AleutianAI/Bellwether/services/serving/storage/predlog"
)

const (
	standardKey   = "it-standard-key"
	privilegedKey = "it-admin-key"

	bufferCapacity = 20
)

func init() {
	gin.SetMode(gin.TestMode)
}

// featureMeans matches the synthetic training distribution the registry
// models and the reference snapshot are built from.
var featureMeans = map[string]float64{
	"MedInc": 3.87, "HouseAge": 28.6, "AveRooms": 5.43, "AveBedrms": 1.10,
	"Population": 1425.5, "AveOccup": 3.07, "Latitude": 35.63, "Longitude": -119.57,
}

var featureScales = map[string]float64{
	"MedInc": 1.90, "HouseAge": 12.6, "AveRooms": 2.47, "AveBedrms": 0.47,
	"Population": 1132.5, "AveOccup": 3.0, "Latitude": 2.14, "Longitude": 2.00,
}

func writeYAML(t *testing.T, path string, v any) {
	t.Helper()
	data, err := yaml.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// seedRegistry lays out a two-version filesystem registry the way the
// seed script does.
func seedRegistry(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	coeffs := map[string]float64{
		"MedInc": 0.83, "HouseAge": 0.12, "AveRooms": -0.26, "AveBedrms": 0.31,
		"Population": -0.01, "AveOccup": -0.04, "Latitude": -0.90, "Longitude": -0.87,
	}
	for version, intercept := range map[string]float64{"1.0.0": 2.07, "1.1.0": 2.31} {
		dir := filepath.Join(root, version)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		writeYAML(t, filepath.Join(dir, "manifest.yaml"), map[string]string{
			"model_name": "california-housing-linear",
			"version":    version,
			"artifact":   "model.yaml",
		})
		writeYAML(t, filepath.Join(dir, "model.yaml"), model.Artifact{
			ModelName:    "california-housing-linear",
			Version:      version,
			Intercept:    intercept,
			Coefficients: coeffs,
			Means:        featureMeans,
			Scales:       featureScales,
		})
	}

	writeYAML(t, filepath.Join(root, "aliases.yaml"), map[string]map[string]string{
		"aliases": {
			"housing-stable": "1.0.0",
			"housing-next":   "1.1.0",
		},
	})
	return root
}

func buildReference(t *testing.T) *drift.Reference {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	samples := make([]datatypes.FeatureVector, 400)
	for i := range samples {
		var values [datatypes.FeatureCount]float64
		for j, name := range datatypes.FeatureNames {
			values[j] = featureMeans[name] + rng.NormFloat64()*featureScales[name]*0.25
		}
		samples[i] = datatypes.NewFeatureVector(values)
	}
	ref, err := drift.BuildReference(samples, time.Now().UTC())
	require.NoError(t, err)
	return ref
}

type stack struct {
	srv  *httptest.Server
	ctrl *serving.Controller
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := model.NewFSRegistry(seedRegistry(t))
	require.NoError(t, err)

	manager := model.NewManager(registry, log)
	ctx := context.Background()
	_, err = manager.LoadInitial(ctx, datatypes.RoleChampion, "housing-stable")
	require.NoError(t, err)

	router, err := routing.NewRouter(manager, 0, false, log)
	require.NoError(t, err)

	ref := buildReference(t)
	buffer := drift.NewRollingBuffer(bufferCapacity)
	analyzer, err := drift.NewAnalyzer(ref, drift.AnalyzerConfig{
		Comparator:           "ks",
		FieldThreshold:       0.15,
		SevereFieldThreshold: 0.5,
		DatasetThreshold:     0.3,
		MinBatch:             10,
	}, log)
	require.NoError(t, err)

	monitor := drift.NewMonitor(buffer, analyzer, drift.MonitorConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		HistorySize:       16,
	}, log)
	monitor.Start(ctx)
	t.Cleanup(monitor.Stop)
	t.Cleanup(buffer.Close)

	store, err := predlog.Open(predlog.Config{InMemory: true, Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	metrics := observability.NewServingMetrics(prometheus.NewRegistry())
	ctrl, err := serving.NewController(serving.Options{
		Manager:       manager,
		Router:        router,
		Buffer:        buffer,
		Monitor:       monitor,
		PredictionLog: store,
		Reference:     ref,
		Sink:          observability.NopSink{},
		Metrics:       metrics,
		Audit:         observability.NewAudit(log),
		Logger:        log,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	provider, err := extensions.NewStaticKeyProvider(standardKey, privilegedKey)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(middleware.RequestID())
	routes.SetupRoutes(engine, ctrl, routes.Options{
		Provider:   provider,
		Audit:      observability.NewAudit(log),
		Metrics:    metrics,
		AdminRPS:   100,
		AdminBurst: 100,
	})

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, ctrl: ctrl}
}

func (s *stack) call(t *testing.T, method, path, key string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(middleware.HeaderAPIKey, key)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

// payload samples one observation; shift moves every field away from the
// reference distribution in units of its scale.
func payload(rng *rand.Rand, shift float64) map[string]float64 {
	p := make(map[string]float64, datatypes.FeatureCount)
	for _, name := range datatypes.FeatureNames {
		p[name] = featureMeans[name] + (rng.NormFloat64()*0.25+shift)*featureScales[name]
	}
	return p
}

func TestPredictAndDriftDetection(t *testing.T) {
	s := newStack(t)
	rng := rand.New(rand.NewSource(23))

	// Normal traffic fills one full buffer; the threshold analysis on it
	// should come back stable.
	for i := 0; i < bufferCapacity; i++ {
		code, body := s.call(t, http.MethodPost, "/v1/predict", standardKey, payload(rng, 0))
		require.Equal(t, http.StatusOK, code, "body: %v", body)
		assert.Equal(t, "champion", body["served_by"])
		assert.Equal(t, "1.0.0", body["model_version"])
		assert.NotEmpty(t, body["request_id"])
	}
	verdict := waitForStatus(t, s, "stable")
	assert.Equal(t, "threshold", verdict["trigger"])

	// Shifted traffic fills the next buffer and must trip detection.
	for i := 0; i < bufferCapacity; i++ {
		code, _ := s.call(t, http.MethodPost, "/v1/predict", standardKey, payload(rng, 4))
		require.Equal(t, http.StatusOK, code)
	}
	verdict = waitForStatus(t, s, "drift_detected")
	assert.Equal(t, true, verdict["drift_detected"])
	assert.NotEmpty(t, verdict["drifted_columns"])

	code, history := s.call(t, http.MethodGet, "/v1/monitoring/drift-history?limit=10", standardKey, nil)
	require.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, int(history["count"].(float64)), 2)
}

func waitForStatus(t *testing.T, s *stack, want string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		code, verdict := s.call(t, http.MethodGet, "/v1/monitoring/drift-status", standardKey, nil)
		require.Equal(t, http.StatusOK, code)
		if verdict["status"] == want {
			return verdict
		}
		select {
		case <-deadline:
			t.Fatalf("drift status never became %q, last: %v", want, verdict)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestChallengerLifecycleOverHTTP(t *testing.T) {
	s := newStack(t)
	rng := rand.New(rand.NewSource(31))

	// Introduce the challenger and route all traffic to it.
	code, body := s.call(t, http.MethodPost, "/v1/model/reload", privilegedKey,
		map[string]string{"role": "challenger", "alias": "housing-next"})
	require.Equal(t, http.StatusOK, code, "body: %v", body)
	assert.Equal(t, "1.1.0", body["current_version"])

	code, _ = s.call(t, http.MethodPost, "/v1/ab/configure", privilegedKey,
		map[string]any{"traffic_split": 1.0, "enabled": true})
	require.Equal(t, http.StatusOK, code)

	code, body = s.call(t, http.MethodPost, "/v1/predict", standardKey, payload(rng, 0))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "challenger", body["served_by"])
	assert.Equal(t, "1.1.0", body["model_version"])

	code, body = s.call(t, http.MethodGet, "/v1/ab/status", standardKey, nil)
	require.Equal(t, http.StatusOK, code)
	router := body["router"].(map[string]any)
	assert.Equal(t, true, router["active"])
	assert.Equal(t, 1.0, router["split"])

	// Unloading drops routing back to the champion even though the split
	// still says 1.0.
	code, _ = s.call(t, http.MethodPost, "/v1/model/unload", privilegedKey,
		map[string]string{"role": "challenger"})
	require.Equal(t, http.StatusOK, code)

	code, body = s.call(t, http.MethodPost, "/v1/predict", standardKey, payload(rng, 0))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "champion", body["served_by"])

	// The champion itself can never be unloaded.
	code, body = s.call(t, http.MethodPost, "/v1/model/unload", privilegedKey,
		map[string]string{"role": "champion"})
	require.Equal(t, http.StatusConflict, code, "body: %v", body)
}

func TestFeedbackRoundTripOverHTTP(t *testing.T) {
	s := newStack(t)
	rng := rand.New(rand.NewSource(41))

	code, body := s.call(t, http.MethodPost, "/v1/predict", standardKey, payload(rng, 0))
	require.Equal(t, http.StatusOK, code)
	requestID := body["request_id"].(string)
	price := body["predicted_price"].(float64)

	// The prediction log flushes asynchronously; feedback only matches a
	// record once it has landed.
	require.Eventually(t, func() bool {
		code, _ := s.call(t, http.MethodGet, "/v1/predictions/"+requestID, standardKey, nil)
		return code == http.StatusOK
	}, 2*time.Second, 25*time.Millisecond)

	code, body = s.call(t, http.MethodPost, "/v1/feedback", standardKey, map[string]any{
		"request_id": requestID,
		"true_price": price * 1.1,
	})
	require.Equal(t, http.StatusOK, code, "body: %v", body)
	assert.Equal(t, "recorded", body["status"])

	code, body = s.call(t, http.MethodGet, "/v1/predictions/"+requestID, standardKey, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, requestID, body["request_id"])
	assert.NotNil(t, body["feedback"])

	// Feedback for an id that never existed is accepted but flagged.
	code, body = s.call(t, http.MethodPost, "/v1/feedback", standardKey, map[string]any{
		"request_id": "7e6f3f1c-4a68-4b10-9d8e-1f2a3b4c5d6e",
		"true_price": 2.5,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "orphaned", body["status"])
}

func TestAuthScopesOverHTTP(t *testing.T) {
	s := newStack(t)
	rng := rand.New(rand.NewSource(53))

	code, _ := s.call(t, http.MethodPost, "/v1/predict", "", payload(rng, 0))
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.call(t, http.MethodPost, "/v1/predict", "wrong-key", payload(rng, 0))
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.call(t, http.MethodPost, "/v1/model/reload", standardKey,
		map[string]string{"role": "champion"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestReferenceStatsOverHTTP(t *testing.T) {
	s := newStack(t)

	code, body := s.call(t, http.MethodGet, "/v1/data/reference-stats", standardKey, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(400), body["sample_count"])
	fields := body["fields"].([]any)
	require.Len(t, fields, datatypes.FeatureCount)
	first := fields[0].(map[string]any)
	assert.Equal(t, "MedInc", first["name"])
}
