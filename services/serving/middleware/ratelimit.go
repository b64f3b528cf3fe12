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

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Bellwether/services/serving/observability"
)

// RateLimit creates a middleware that throttles administrative routes.
//
// # Description
//
// One token-bucket limiter is shared across all routes the middleware is
// attached to, so a burst of reload calls and a burst of split changes
// draw from the same budget. Model reloads and forced analyses are
// expensive; this keeps a misbehaving operator script from starving the
// serving path. Throttled requests get 429 and are counted and audited.
//
// A non-positive rps disables throttling.
//
// # Inputs
//
//   - rps: Sustained requests per second across attached routes.
//   - burst: Instantaneous burst allowance. Values below 1 are raised to 1.
//   - audit: Audit trail for throttled requests. Must not be nil.
//   - metrics: Serving metrics. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. rate.Limiter serializes its own state.
func RateLimit(rps float64, burst int, audit *observability.Audit, metrics *observability.ServingMetrics) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			metrics.RecordRateLimited(c.FullPath())
			audit.RateLimited(c.FullPath(), c.ClientIP())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limited",
			})
			return
		}

		c.Next()
	}
}
