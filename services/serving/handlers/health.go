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

// HealthCheck serves GET /health. A process that lost its champion slot
// (which cannot happen short of a bug, since unloading it is refused)
// reports unhealthy so an orchestrator restarts it.
func HealthCheck(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, ok := ctrl.ModelMetadata(datatypes.RoleChampion)
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"model_version": meta.Version,
		})
	}
}
