// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the serving service.
//
// This package contains middleware for request identity, API-key
// authentication with scope enforcement, and administrative rate
// limiting. It integrates with the extensions package so enterprise
// credential backends can replace the built-in key provider.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ── assign or echo X-Request-ID
//	   │
//	   ▼
//	Authenticate ── verify X-API-Key via KeyProvider
//	   │
//	   ▼
//	RequireScope ── admin routes only
//	   │
//	   ▼
//	RateLimit ── admin routes only
//	   │
//	   ▼
//	Handler
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID is the header carrying the request id, inbound and
// outbound.
const HeaderRequestID = "X-Request-ID"

// requestIDKey is the context key for the request id.
// Using a typed key prevents collisions with other context values.
const requestIDKey = "bellwether_request_id"

// GetRequestID retrieves the request id assigned by RequestID.
// Returns empty string if the middleware did not run.
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get(requestIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RequestID creates a middleware that gives every request a stable id.
//
// # Description
//
// A client-supplied X-Request-ID header is honored so callers can
// correlate their own logs and retrieve predictions later; otherwise a
// UUID is generated. The id is stored in the context for handlers, echoed
// on the response, and keys the deterministic champion/challenger
// assignment.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)

		c.Next()
	}
}
