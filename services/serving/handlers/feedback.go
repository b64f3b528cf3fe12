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

// HandleFeedback serves POST /v1/feedback: ground truth for a past
// prediction. Feedback observations also feed the drift buffer, so a
// deployment whose traffic arrives mostly through feedback loops still
// gets monitored.
func HandleFeedback(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		resp, err := ctrl.Feedback(c.Request.Context(), req, callerFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleGetPrediction serves GET /v1/predictions/:request_id: the logged
// prediction for one request id, including any attached feedback.
func HandleGetPrediction(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Param("request_id")
		rec, err := ctrl.Prediction(c.Request.Context(), requestID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
