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

// HandleABStatus serves GET /v1/ab/status: the router's condition plus the
// metadata of both slots.
func HandleABStatus(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.ABStatus())
	}
}

// HandleABConfigure serves POST /v1/ab/configure.
//
// Fields are partial: a body setting only enabled keeps the configured
// split, and vice versa. This is the only path, along with challenger
// load/unload, that moves the router between Disabled and Active; drift
// verdicts never do.
func HandleABConfigure(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SplitConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		state, err := ctrl.ConfigureSplit(req, callerFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "configured",
			"router": state,
		})
	}
}
