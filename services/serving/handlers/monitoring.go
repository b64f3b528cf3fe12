// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Bellwether/services/serving/drift"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
)

// defaultHistoryLimit bounds drift-history responses when the caller does
// not ask for a specific count.
const defaultHistoryLimit = 20

// HandleDriftStatus serves GET /v1/monitoring/drift-status: the retained
// verdict plus the live buffer condition. Read-only and lock-free.
func HandleDriftStatus(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.DriftStatus())
	}
}

// HandleDriftHistory serves GET /v1/monitoring/drift-history. The optional
// limit query parameter caps the number of verdicts, newest first.
func HandleDriftHistory(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		verdicts := ctrl.DriftHistory(limit)
		c.JSON(http.StatusOK, gin.H{
			"verdicts": verdicts,
			"count":    len(verdicts),
		})
	}
}

// HandleAnalyzeNow serves POST /v1/monitoring/drift/analyze: an operator
// forcing a drain-and-analyze pass without waiting for the buffer to fill.
//
// A skipped pass (too few observations, a pass already running, monitoring
// disabled) is a normal outcome, reported 200 with skipped=true and the
// retained verdict; only unexpected analyzer failures are 500.
func HandleAnalyzeNow(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := ctrl.AnalyzeNow(c.Request.Context(), callerFrom(c))
		if err != nil && !errors.Is(err, drift.ErrAnalysisSkipped) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandleReferenceStats serves GET /v1/data/reference-stats: the frozen
// training distribution the drift comparisons run against.
func HandleReferenceStats(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.ReferenceStats())
	}
}
