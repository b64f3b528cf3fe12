// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Bellwether/pkg/extensions"
	"github.com/AleutianAI/Bellwether/services/serving/observability"
)

// =============================================================================
// Test Setup
// =============================================================================

// mockKeyProvider is a configurable mock for testing.
type mockKeyProvider struct {
	cred    *extensions.Credential
	err     error
	lastKey string
}

func (m *mockKeyProvider) Verify(_ context.Context, key string) (*extensions.Credential, error) {
	m.lastKey = key
	if m.err != nil {
		return nil, m.err
	}
	return m.cred, nil
}

func newTestObservers(t *testing.T) (*observability.Audit, *observability.ServingMetrics) {
	t.Helper()
	audit := observability.NewAudit(slog.New(slog.NewTextHandler(io.Discard, nil)))
	metrics := observability.NewServingMetrics(prometheus.NewRegistry())
	return audit, metrics
}

func standardCred() *extensions.Credential {
	return &extensions.Credential{
		Subject: "svc-tests",
		Scopes:  []extensions.Scope{extensions.ScopeStandard},
	}
}

// =============================================================================
// Authenticate Tests
// =============================================================================

func TestAuthenticate_Success(t *testing.T) {
	audit, metrics := newTestObservers(t)
	provider := &mockKeyProvider{cred: standardCred()}

	router := gin.New()
	router.Use(Authenticate(provider, audit, metrics))
	router.GET("/test", func(c *gin.Context) {
		cred := GetCredential(c)
		require.NotNil(t, cred)
		c.JSON(http.StatusOK, gin.H{"subject": cred.Subject})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(HeaderAPIKey, "valid-key")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "valid-key", provider.lastKey)
	assert.Contains(t, w.Body.String(), "svc-tests")
}

func TestAuthenticate_Unauthorized(t *testing.T) {
	audit, metrics := newTestObservers(t)
	provider := &mockKeyProvider{
		err: fmt.Errorf("key not recognized: %w", extensions.ErrUnauthorized),
	}

	router := gin.New()
	router.Use(Authenticate(provider, audit, metrics))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(HeaderAPIKey, "wrong-key")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")

	failures := testutil.ToFloat64(metrics.AuthFailuresTotal.WithLabelValues("invalid_key"))
	assert.Equal(t, float64(1), failures)
}

func TestAuthenticate_MissingKeyReason(t *testing.T) {
	audit, metrics := newTestObservers(t)
	provider := &mockKeyProvider{err: extensions.ErrUnauthorized}

	router := gin.New()
	router.Use(Authenticate(provider, audit, metrics))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	failures := testutil.ToFloat64(metrics.AuthFailuresTotal.WithLabelValues("missing_key"))
	assert.Equal(t, float64(1), failures)
}

func TestAuthenticate_ProviderError(t *testing.T) {
	audit, metrics := newTestObservers(t)
	provider := &mockKeyProvider{err: errors.New("credential service timeout")}

	router := gin.New()
	router.Use(Authenticate(provider, audit, metrics))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(HeaderAPIKey, "some-key")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication failed")
}

func TestAuthenticate_RejectionIsAudited(t *testing.T) {
	buf := &bytes.Buffer{}
	audit := observability.NewAudit(slog.New(slog.NewJSONHandler(buf, nil)))
	metrics := observability.NewServingMetrics(prometheus.NewRegistry())
	provider := &mockKeyProvider{err: extensions.ErrUnauthorized}

	router := gin.New()
	router.Use(Authenticate(provider, audit, metrics))
	router.POST("/v1/predict", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/predict", nil)
	req.Header.Set(HeaderAPIKey, "stolen-key")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, buf.String(), "auth_failure")
	assert.Contains(t, buf.String(), "/v1/predict")
	assert.Contains(t, buf.String(), "invalid_key")
}

func TestAuthenticate_NopProvider(t *testing.T) {
	audit, metrics := newTestObservers(t)

	router := gin.New()
	router.Use(Authenticate(&extensions.NopKeyProvider{}, audit, metrics))
	router.GET("/test", func(c *gin.Context) {
		cred := GetCredential(c)
		require.NotNil(t, cred)
		assert.Equal(t, "local-operator", cred.Subject)
		assert.True(t, cred.HasScope(extensions.ScopeStandard))
		assert.True(t, cred.HasScope(extensions.ScopePrivileged))
		c.JSON(http.StatusOK, gin.H{"subject": cred.Subject})
	})

	w := httptest.NewRecorder()
	// No X-API-Key header: the Nop provider doesn't need it.
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// RequireScope Tests
// =============================================================================

func TestRequireScope_Allowed(t *testing.T) {
	audit, metrics := newTestObservers(t)
	provider := &mockKeyProvider{cred: &extensions.Credential{
		Subject: "ops",
		Scopes:  []extensions.Scope{extensions.ScopeStandard, extensions.ScopePrivileged},
	}}

	router := gin.New()
	router.Use(Authenticate(provider, audit, metrics))
	router.POST("/admin", RequireScope(extensions.ScopePrivileged, audit, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set(HeaderAPIKey, "ops-key")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireScope_Forbidden(t *testing.T) {
	audit, metrics := newTestObservers(t)
	provider := &mockKeyProvider{cred: standardCred()}

	router := gin.New()
	router.Use(Authenticate(provider, audit, metrics))
	router.POST("/admin", RequireScope(extensions.ScopePrivileged, audit, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set(HeaderAPIKey, "standard-key")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "forbidden")

	failures := testutil.ToFloat64(metrics.AuthFailuresTotal.WithLabelValues("insufficient_scope"))
	assert.Equal(t, float64(1), failures)
}

func TestRequireScope_NoCredential(t *testing.T) {
	audit, metrics := newTestObservers(t)

	// Authenticate missing from the chain.
	router := gin.New()
	router.POST("/admin", RequireScope(extensions.ScopePrivileged, audit, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestSetAndGetCredential(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	expected := standardCred()
	SetCredential(c, expected)

	got := GetCredential(c)
	require.NotNil(t, got)
	assert.Equal(t, "svc-tests", got.Subject)
}

func TestGetCredential_Empty(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Nil(t, GetCredential(c))
}
