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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
)

// HandlePredict serves POST /v1/predict.
//
// The body is one feature payload; the response carries the price, the
// serving model's identity, and any plausibility flags. Validation errors
// come back 400 before any model is touched.
func HandlePredict(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload datatypes.FeaturePayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		resp, err := ctrl.Predict(c.Request.Context(), payload, callerFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandlePredictBatch serves POST /v1/predict/batch.
//
// Elements fail independently: the response always reports per-index
// results, and only an invalid envelope (bad JSON, zero or too many
// elements) rejects the whole request.
func HandlePredictBatch(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BatchPredictionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		resp, err := ctrl.PredictBatch(c.Request.Context(), req, callerFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
