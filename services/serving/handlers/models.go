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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/model"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
)

// HandleModelMetadata serves GET /v1/model/metadata: the identity of the
// loaded slots. The challenger entry is absent when no challenger is
// loaded.
func HandleModelMetadata(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{}
		if meta, ok := ctrl.ModelMetadata(datatypes.RoleChampion); ok {
			resp["champion"] = meta
		}
		if meta, ok := ctrl.ModelMetadata(datatypes.RoleChallenger); ok {
			resp["challenger"] = meta
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleFeatureImportance serves GET /v1/model/feature-importance. The
// optional role query parameter selects the slot; default champion.
func HandleFeatureImportance(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.DefaultQuery("role", datatypes.RoleChampion)
		if role != datatypes.RoleChampion && role != datatypes.RoleChallenger {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be champion or challenger"})
			return
		}

		importance, meta, err := ctrl.FeatureImportance(role)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"role":               role,
			"model_version":      meta.Version,
			"feature_importance": importance,
		})
	}
}

// HandleModelReload serves POST /v1/model/reload.
//
// An empty body reloads the champion from its current alias. A registry
// that cannot supply the requested alias is reported 502 and the previous
// slot keeps serving; in-flight requests are never affected either way.
func HandleModelReload(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReloadRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
				return
			}
		}

		resp, err := ctrl.ReloadModel(c.Request.Context(), req, callerFrom(c))
		if err != nil {
			if errors.Is(err, model.ErrUnavailable) {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleModelUnload serves POST /v1/model/unload. Only the challenger can
// be unloaded; asking for the champion is refused with 409.
func HandleModelUnload(ctrl *serving.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UnloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			writeError(c, err)
			return
		}
		if req.Role != datatypes.RoleChallenger {
			c.JSON(http.StatusConflict, gin.H{"error": model.ErrChampionRequired.Error()})
			return
		}

		meta, err := ctrl.UnloadChallenger(callerFrom(c))
		if err != nil {
			// Both "champion requested" and "nothing loaded" are conflicts
			// with the current slot state, not availability problems.
			if errors.Is(err, model.ErrChampionRequired) || errors.Is(err, model.ErrUnavailable) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "unloaded",
			"role":     datatypes.RoleChallenger,
			"unloaded": meta,
		})
	}
}
