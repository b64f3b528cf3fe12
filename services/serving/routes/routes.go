// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the serving API route table.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Bellwether/pkg/extensions"
	"github.com/AleutianAI/Bellwether/services/serving/handlers"
	"github.com/AleutianAI/Bellwether/services/serving/middleware"
	"github.com/AleutianAI/Bellwether/services/serving/observability"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
)

// Options carries the collaborators the route table needs beyond the
// controller itself.
type Options struct {
	Provider extensions.KeyProvider
	Audit    *observability.Audit
	Metrics  *observability.ServingMetrics

	// AdminRPS and AdminBurst bound the privileged mutating endpoints.
	AdminRPS   float64
	AdminBurst int
}

// SetupRoutes attaches the serving API to the router.
//
// Everything under /v1 requires an authenticated credential; mutating
// administrative endpoints additionally require the privileged scope and
// pass through a shared rate limiter. /health stays open for orchestrator
// probes; /metrics is served by the separate metrics listener, not here.
func SetupRoutes(router *gin.Engine, ctrl *serving.Controller, opts Options) {
	router.GET("/health", handlers.HealthCheck(ctrl))

	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(opts.Provider, opts.Audit, opts.Metrics))
	{
		v1.POST("/predict", handlers.HandlePredict(ctrl))
		v1.POST("/predict/batch", handlers.HandlePredictBatch(ctrl))
		v1.POST("/feedback", handlers.HandleFeedback(ctrl))
		v1.GET("/predictions/:request_id", handlers.HandleGetPrediction(ctrl))
		v1.GET("/data/reference-stats", handlers.HandleReferenceStats(ctrl))

		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/drift-status", handlers.HandleDriftStatus(ctrl))
			monitoring.GET("/drift-history", handlers.HandleDriftHistory(ctrl))
			monitoring.GET("/drift/feed", handlers.HandleDriftFeed(ctrl, opts.Metrics))
		}

		v1.GET("/ab/status", handlers.HandleABStatus(ctrl))
		v1.GET("/model/metadata", handlers.HandleModelMetadata(ctrl))
		v1.GET("/model/feature-importance", handlers.HandleFeatureImportance(ctrl))

		// Administrative surface: privileged scope plus a rate limit, since
		// each of these changes what every subsequent request runs against.
		admin := v1.Group("")
		admin.Use(
			middleware.RequireScope(extensions.ScopePrivileged, opts.Audit, opts.Metrics),
			middleware.RateLimit(opts.AdminRPS, opts.AdminBurst, opts.Audit, opts.Metrics),
		)
		{
			admin.POST("/model/reload", handlers.HandleModelReload(ctrl))
			admin.POST("/model/unload", handlers.HandleModelUnload(ctrl))
			admin.POST("/ab/configure", handlers.HandleABConfigure(ctrl))
			admin.POST("/monitoring/drift/analyze", handlers.HandleAnalyzeNow(ctrl))
		}
	}
}
