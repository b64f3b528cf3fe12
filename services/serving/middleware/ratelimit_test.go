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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// RateLimit Tests
// =============================================================================

func TestRateLimit_AllowsWithinBudget(t *testing.T) {
	audit, metrics := newTestObservers(t)

	router := gin.New()
	router.POST("/admin/reload", RateLimit(100, 5, audit, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/reload", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimit_ThrottlesBeyondBurst(t *testing.T) {
	audit, metrics := newTestObservers(t)

	// One request per hour, burst of one: the second request must fail.
	router := gin.New()
	router.POST("/admin/reload", RateLimit(1.0/3600.0, 1, audit, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/reload", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/reload", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limited")

	throttled := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("/admin/reload"))
	assert.Equal(t, float64(1), throttled)
}

func TestRateLimit_SharedAcrossAttachedRoutes(t *testing.T) {
	audit, metrics := newTestObservers(t)
	limit := RateLimit(1.0/3600.0, 1, audit, metrics)

	router := gin.New()
	router.POST("/admin/reload", limit, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/admin/unload", limit, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/reload", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Both routes draw from one bucket.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/unload", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimit_DisabledWhenNonPositive(t *testing.T) {
	audit, metrics := newTestObservers(t)

	router := gin.New()
	router.POST("/admin/reload", RateLimit(0, 1, audit, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/reload", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimit_BurstFloor(t *testing.T) {
	audit, metrics := newTestObservers(t)

	// Burst below one is raised to one so the first request always passes.
	router := gin.New()
	router.POST("/admin/reload", RateLimit(1.0/3600.0, 0, audit, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/reload", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
