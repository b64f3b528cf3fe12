// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Bellwether/pkg/ux"
	"github.com/AleutianAI/Bellwether/services/serving/drift"
	"github.com/AleutianAI/Bellwether/services/serving/middleware"
)

// runCLI executes the root command against srv, capturing machine-mode
// output. Global flag state is restored afterwards.
func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, string, error) {
	t.Helper()

	prevServer, prevKey, prevTimeout := serverURL, apiKey, requestTimeout
	t.Cleanup(func() {
		serverURL, apiKey, requestTimeout = prevServer, prevKey, prevTimeout
	})
	if srv != nil {
		serverURL = srv.URL
	}
	apiKey = "test-key"
	requestTimeout = 2 * time.Second

	var stdout, stderr bytes.Buffer
	ux.SetOutput(&stdout, &stderr)
	ux.SetMachineOutput(true)
	t.Cleanup(func() {
		ux.SetOutput(os.Stdout, os.Stderr)
		ux.SetMachineOutput(false)
	})

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func jsonHandler(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get(middleware.HeaderAPIKey))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func TestStatusCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","model_version":"1.2.0"}`)
	})
	mux.HandleFunc("/v1/monitoring/drift-status", jsonHandler(t, `{
		"status":"drift_detected","drift_detected":true,
		"drifted_columns":["MedInc","Latitude"],"samples_analyzed":120,
		"timestamp":"2025-06-01T10:00:00Z","epoch":3,"trigger":"threshold",
		"comparator":"ks","field_scores":{"MedInc":0.41,"Latitude":0.22}}`))
	mux.HandleFunc("/v1/ab/status", jsonHandler(t, `{
		"router":{"split":0.25,"enabled":true,"active":true,"challenger_loaded":true},
		"champion":{"alias":"housing-stable","version":"1.2.0","source":"fs"},
		"challenger":{"alias":"housing-next","version":"2.0.0","source":"fs"}}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdout, _, err := runCLI(t, srv, "status")
	require.NoError(t, err)

	assert.Contains(t, stdout, "champion_version=1.2.0")
	assert.Contains(t, stdout, "severity=low")
	assert.Contains(t, stdout, "drifted_columns=Latitude, MedInc")
	assert.Contains(t, stdout, "split=0.25")
	assert.Contains(t, stdout, "housing-next@2.0.0")
}

func TestStatusServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, _, err := runCLI(t, srv, "status")
	assert.Error(t, err)
}

func TestAnalyzeSkipped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/monitoring/drift/analyze", jsonHandler(t, `{
		"skipped":true,"reason":"not enough observations",
		"verdict":{"status":"no_analysis"}}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, stderr, err := runCLI(t, srv, "analyze")
	require.NoError(t, err)
	assert.Contains(t, stderr, "WARN: analysis skipped: not enough observations")
}

func TestAnalyzeSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/monitoring/drift/analyze", jsonHandler(t, `{
		"skipped":false,
		"verdict":{"status":"stable","samples_analyzed":50,"epoch":1,
		"trigger":"forced","comparator":"ks","timestamp":"2025-06-01T10:00:00Z"}}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdout, _, err := runCLI(t, srv, "analyze")
	require.NoError(t, err)
	assert.Contains(t, stdout, "OK: analysis complete")
	assert.Contains(t, stdout, "severity=none")
}

func TestHistoryEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/monitoring/drift-history", jsonHandler(t, `{"verdicts":[],"count":0}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdout, _, err := runCLI(t, srv, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no analysis runs recorded yet")
}

func TestModelReloadReportsVersions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/model/reload", jsonHandler(t, `{
		"status":"reloaded","role":"challenger","alias":"housing-next",
		"previous_version":"1.9.0","current_version":"2.0.0"}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdout, _, err := runCLI(t, srv, "model", "reload",
		"--role", "challenger", "--alias", "housing-next")
	require.NoError(t, err)
	assert.Contains(t, stdout, "OK: challenger reloaded: housing-next@2.0.0")
}

func TestModelReloadServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/model/reload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"resolve alias \"nope\": not found"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, _, err := runCLI(t, srv, "model", "reload", "--role", "champion", "--alias", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "not found")
}

func TestModelUnload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/model/unload", jsonHandler(t, `{
		"status":"unloaded","role":"challenger",
		"unloaded":{"alias":"housing-next","version":"2.0.0"}}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdout, _, err := runCLI(t, srv, "model", "unload")
	require.NoError(t, err)
	assert.Contains(t, stdout, "OK: challenger unloaded: housing-next@2.0.0")
}

func TestABConfigureRejectsBadSplit(t *testing.T) {
	_, _, err := runCLI(t, nil, "ab", "configure", "--split", "1.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 1")
}

func TestABConfigure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ab/configure", jsonHandler(t, `{
		"status":"configured",
		"router":{"split":0.10,"enabled":true,"active":true}}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stdout, _, err := runCLI(t, srv, "ab", "configure", "--split", "0.10", "--enable")
	require.NoError(t, err)
	assert.Contains(t, stdout, "split=0.10 enabled=true active=true")
}

func TestSeverityBand(t *testing.T) {
	assert.Equal(t, "none", severityBand(0))
	assert.Equal(t, "low", severityBand(2))
	assert.Equal(t, "medium", severityBand(4))
	assert.Equal(t, "high", severityBand(8))
}

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("MedInc,HouseAge,AveRooms,AveBedrms,Population,AveOccup,Latitude,Longitude,MedHouseVal\n")
	for i := 0; i < rows; i++ {
		f := float64(i)
		fmt.Fprintf(&b, "%.2f,%.1f,%.2f,%.2f,%.0f,%.2f,%.2f,%.2f,%.2f\n",
			3.0+0.1*f, 15+f, 5.2+0.01*f, 1.05, 900+10*f, 2.8, 34.1+0.01*f, -118.2-0.01*f, 2.1)
	}
	path := filepath.Join(t.TempDir(), "training.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestReferenceBuildRoundTrip(t *testing.T) {
	csvPath := writeCSV(t, 40)
	outPath := filepath.Join(t.TempDir(), "reference.yaml")

	stdout, _, err := runCLI(t, nil, "reference", "build", "--csv", csvPath, "--out", outPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "OK: reference built from 40 rows")

	ref, err := drift.LoadReference(outPath)
	require.NoError(t, err)
	assert.Equal(t, 40, ref.Snapshot().SampleCount)
}

func TestReferenceBuildRejectsBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("foo,bar,baz,qux,quux,corge,grault,garply\n1,2,3,4,5,6,7,8\n"), 0o644))

	_, _, err := runCLI(t, nil, "reference", "build", "--csv", path, "--out",
		filepath.Join(t.TempDir(), "out.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header column 1")
}

func TestReadTrainingCSVShortRow(t *testing.T) {
	_, err := readTrainingCSV(strings.NewReader("1,2,3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 columns")
}
