// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin handlers for the serving API. Each
// handler is a thin adapter: bind the request, call the controller, map
// the error taxonomy onto HTTP status codes.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/middleware"
	"github.com/AleutianAI/Bellwether/services/serving/model"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
	"github.com/AleutianAI/Bellwether/services/serving/storage/predlog"
)

// callerFrom assembles the controller's view of the requester from the
// middleware-populated context.
func callerFrom(c *gin.Context) serving.Caller {
	caller := serving.Caller{
		RequestID: middleware.GetRequestID(c),
		ClientIP:  c.ClientIP(),
	}
	if cred := middleware.GetCredential(c); cred != nil {
		caller.Subject = cred.Subject
	}
	return caller
}

// writeError maps the serving error taxonomy onto HTTP status codes.
//
// Input problems are the caller's fault (400), a missing model means the
// service cannot serve right now (503), anything else is an internal
// failure. Handlers with endpoint-specific semantics (reload, forced
// analysis, prediction lookup) map their own cases before falling back
// here.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, datatypes.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrScoringFailure):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.Is(err, predlog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
