// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"log/slog"
)

// Audit emits the structured security and operations trail.
//
// # Description
//
// Every event that an operator might need to reconstruct later goes through
// here: rejected credentials, served predictions, model promotions, and
// traffic-split changes. Events are ordinary structured log records tagged
// with component=audit, so the trail can be split from application logs by
// any collector.
//
// # Thread Safety
//
// Safe for concurrent use; slog handlers serialize writes.
type Audit struct {
	log *slog.Logger
}

// NewAudit wraps a logger for audit emission. A nil logger falls back to
// the process default.
func NewAudit(log *slog.Logger) *Audit {
	if log == nil {
		log = slog.Default()
	}
	return &Audit{log: log.With("component", "audit")}
}

// AuthFailure records a rejected request.
func (a *Audit) AuthFailure(path, clientIP string, reason AuthFailureReason) {
	a.log.Warn("request rejected",
		"event", "auth_failure",
		"path", path,
		"client_ip", clientIP,
		"reason", string(reason),
	)
}

// RateLimited records an admin request dropped by throttling.
func (a *Audit) RateLimited(path, clientIP string) {
	a.log.Warn("request throttled",
		"event", "rate_limited",
		"path", path,
		"client_ip", clientIP,
	)
}

// Prediction records one served prediction.
func (a *Audit) Prediction(requestID, role, version, clientIP string, price float64) {
	a.log.Info("prediction served",
		"event", "prediction",
		"request_id", requestID,
		"role", role,
		"model_version", version,
		"client_ip", clientIP,
		"price", price,
	)
}

// ModelReload records a slot swap performed by an operator.
func (a *Audit) ModelReload(subject, role, alias, previousVersion, currentVersion, clientIP string) {
	a.log.Info("model reloaded",
		"event", "model_reload",
		"subject", subject,
		"role", role,
		"alias", alias,
		"previous_version", previousVersion,
		"current_version", currentVersion,
		"client_ip", clientIP,
	)
}

// ModelUnload records a challenger removal.
func (a *Audit) ModelUnload(subject, version, clientIP string) {
	a.log.Info("challenger unloaded",
		"event", "model_unload",
		"subject", subject,
		"version", version,
		"client_ip", clientIP,
	)
}

// RouterChange records a traffic-split reconfiguration.
func (a *Audit) RouterChange(subject string, split float64, enabled bool, clientIP string) {
	a.log.Info("traffic split reconfigured",
		"event", "router_change",
		"subject", subject,
		"split", split,
		"enabled", enabled,
		"client_ip", clientIP,
	)
}

// ForcedAnalysis records an operator-triggered drift analysis.
func (a *Audit) ForcedAnalysis(subject, outcome, clientIP string) {
	a.log.Info("forced drift analysis",
		"event", "forced_analysis",
		"subject", subject,
		"outcome", outcome,
		"client_ip", clientIP,
	)
}
