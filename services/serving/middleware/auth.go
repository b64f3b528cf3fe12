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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Bellwether/pkg/extensions"
	"github.com/AleutianAI/Bellwether/services/serving/observability"
)

// =============================================================================
// Context Keys
// =============================================================================

// HeaderAPIKey is the header carrying the API key.
const HeaderAPIKey = "X-API-Key"

// credentialKey is the context key for storing the verified credential.
// Using a typed key prevents collisions with other context values.
const credentialKey = "bellwether_credential"

// =============================================================================
// Context Helpers
// =============================================================================

// SetCredential stores the verified credential in the Gin context.
//
// Called by Authenticate after successful key verification. The stored
// credential can be retrieved by handlers via GetCredential.
func SetCredential(c *gin.Context, cred *extensions.Credential) {
	c.Set(credentialKey, cred)
}

// GetCredential retrieves the verified credential from the Gin context.
//
// # Description
//
// Called by handlers and scope checks to access the caller's identity.
// Returns nil if no credential is present (request not authenticated).
//
// # Examples
//
//	cred := middleware.GetCredential(c)
//	if cred == nil {
//	    c.JSON(401, gin.H{"error": "unauthorized"})
//	    return
//	}
//	audit.ModelReload(cred.Subject, ...)
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func GetCredential(c *gin.Context) *extensions.Credential {
	if v, exists := c.Get(credentialKey); exists {
		if cred, ok := v.(*extensions.Credential); ok {
			return cred
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// Authenticate creates a middleware that verifies the X-API-Key header.
//
// # Description
//
// Reads the API key from the X-API-Key header, verifies it with the
// configured KeyProvider, and stores the resulting credential in the
// context for downstream handlers and scope checks. Rejections are
// counted and written to the audit trail with the client address.
//
// With NopKeyProvider (the local default) every request, including one
// with no key at all, authenticates as local-operator with both scopes.
//
// # Inputs
//
//   - provider: KeyProvider to verify keys. Must not be nil.
//   - audit: Audit trail for rejections. Must not be nil.
//   - metrics: Serving metrics. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Authenticate(provider extensions.KeyProvider, audit *observability.Audit, metrics *observability.ServingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)

		cred, err := provider.Verify(c.Request.Context(), key)
		if err != nil {
			reason := observability.AuthReasonInvalidKey
			if key == "" {
				reason = observability.AuthReasonMissingKey
			}
			metrics.RecordAuthFailure(reason)
			audit.AuthFailure(c.FullPath(), c.ClientIP(), reason)

			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetCredential(c, cred)
		c.Next()
	}
}

// RequireScope creates a middleware that enforces a privilege level.
//
// # Description
//
// Must run after Authenticate. Requests whose credential lacks the scope
// are rejected with 403; requests with no credential at all (Authenticate
// missing from the chain) are rejected with 401. Rejections are counted
// and audited.
//
// # Inputs
//
//   - scope: Required privilege level.
//   - audit: Audit trail for rejections. Must not be nil.
//   - metrics: Serving metrics. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequireScope(scope extensions.Scope, audit *observability.Audit, metrics *observability.ServingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := GetCredential(c)
		if cred == nil {
			metrics.RecordAuthFailure(observability.AuthReasonMissingKey)
			audit.AuthFailure(c.FullPath(), c.ClientIP(), observability.AuthReasonMissingKey)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		if !cred.HasScope(scope) {
			metrics.RecordAuthFailure(observability.AuthReasonInsufficientScope)
			audit.AuthFailure(c.FullPath(), c.ClientIP(), observability.AuthReasonInsufficientScope)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden",
			})
			return
		}

		c.Next()
	}
}
