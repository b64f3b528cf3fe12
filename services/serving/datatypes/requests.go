// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the serving service.
//
// This file contains request and response envelope types for the prediction,
// feedback, and model administration endpoints. Feature vector types live in
// features.go.
package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Role Constants
// =============================================================================

const (
	// RoleChampion is the default serving slot. It is loaded at startup and
	// is never left empty while the process serves traffic.
	RoleChampion = "champion"

	// RoleChallenger is the optional shadow slot used for split testing.
	RoleChallenger = "challenger"
)

// =============================================================================
// Prediction Types
// =============================================================================

// PredictionResponse is the reply to a single prediction request.
//
// # Description
//
// Carries the predicted value together with the identity of the model slot
// that actually produced it, so that downstream feedback and offline
// evaluation can attribute the prediction even when a traffic split is
// active.
//
// # Fields
//
//   - RequestID: Correlation ID echoed from the X-Request-ID header or
//     generated server-side. Feedback submissions reference it.
//   - PredictedPrice: Model output, in hundreds of thousands of USD.
//   - ModelVersion: Version string of the artifact that scored the request.
//   - ServedBy: Slot role that produced the prediction ("champion" or
//     "challenger").
//   - RangeFlags: Optional. One message per input field outside its
//     plausible training range. Informational only.
//   - ProcessingTimeMs: Server-side handling time in milliseconds.
type PredictionResponse struct {
	RequestID        string   `json:"request_id"`
	PredictedPrice   float64  `json:"predicted_price"`
	ModelVersion     string   `json:"model_version"`
	ServedBy         string   `json:"served_by"`
	RangeFlags       []string `json:"range_flags,omitempty"`
	ProcessingTimeMs float64  `json:"processing_time_ms"`
}

// BatchPredictionRequest carries up to MaxBatchPredictions observations.
//
// # Validation
//
//   - Predictions: required, 1 to 100 elements. Elements are validated
//     individually at prediction time, so a malformed element surfaces as
//     a per-index error instead of failing the envelope.
type BatchPredictionRequest struct {
	Predictions []FeaturePayload `json:"predictions" validate:"required,min=1,max=100"`
}

// Validate checks the envelope only. Errors wrap ErrInvalidInput.
func (r *BatchPredictionRequest) Validate() error {
	if err := servingValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// BatchPredictionItem is the per-index result of a batch prediction.
//
// A failed element reports Error and leaves PredictedPrice nil; one bad
// element never fails the surrounding batch.
type BatchPredictionItem struct {
	Index          int      `json:"index"`
	PredictedPrice *float64 `json:"predicted_price,omitempty"`
	RangeFlags     []string `json:"range_flags,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// BatchPredictionResponse summarizes a batch prediction.
//
// The routing decision is made once per batch, so a single ModelVersion and
// ServedBy apply to every successful element.
type BatchPredictionResponse struct {
	Results          []BatchPredictionItem `json:"results"`
	Total            int                   `json:"total"`
	Succeeded        int                   `json:"succeeded"`
	Failed           int                   `json:"failed"`
	ModelVersion     string                `json:"model_version"`
	ServedBy         string                `json:"served_by"`
	ProcessingTimeMs float64               `json:"processing_time_ms"`
}

// =============================================================================
// Feedback Types
// =============================================================================

// FeedbackRequest reports the observed ground truth for a past prediction.
//
// # Description
//
// Ground truth arrives long after the prediction, so the request references
// the original RequestID. When the caller also supplies the features, the
// observation joins the drift buffer exactly like a live prediction; without
// features the feedback is logged for offline evaluation only.
//
// # Validation
//
//   - RequestID: required, UUID v4
//   - TruePrice: required, finite
//   - Features: optional, validated with the FeaturePayload rules when set
//   - Comments: optional, at most MaxCommentBytes bytes
type FeedbackRequest struct {
	RequestID  string          `json:"request_id" validate:"required,uuid4"`
	TruePrice  *float64        `json:"true_price" validate:"required,finite"`
	Features   *FeaturePayload `json:"features,omitempty"`
	Prediction *float64        `json:"prediction,omitempty" validate:"omitempty,finite"`
	Comments   string          `json:"comments,omitempty" validate:"max=4096"`
}

// Validate validates the feedback envelope. Embedded features, when
// present, are validated by the nested struct rules. Errors wrap
// ErrInvalidInput.
func (r *FeedbackRequest) Validate() error {
	if err := servingValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// FeedbackResponse acknowledges a feedback submission.
//
// Status is "recorded" when the request id matched a logged prediction and
// "orphaned" when it did not. AnalysisTriggered reports whether this
// submission filled the rolling buffer; the analysis itself runs in the
// background and lands on the drift-status endpoint.
type FeedbackResponse struct {
	Status            string `json:"status"`
	BufferSize        int    `json:"buffer_size"`
	BufferThreshold   int    `json:"buffer_threshold"`
	AnalysisTriggered bool   `json:"analysis_triggered"`
}

// =============================================================================
// Model Administration Types
// =============================================================================

// ReloadRequest asks the serving controller to load a model artifact into a
// slot.
//
// # Description
//
// An empty body reloads the champion from its configured alias, preserving
// the behavior of the original single-model reload endpoint. Role selects
// the slot; Alias overrides the alias the slot was configured with, which is
// how a challenger is first introduced.
//
// # Validation
//
//   - Role: required after EnsureDefaults, "champion" or "challenger"
//   - Alias: optional, registry alias naming rules
type ReloadRequest struct {
	Role  string `json:"role" validate:"required,oneof=champion challenger"`
	Alias string `json:"alias,omitempty" validate:"omitempty,modelalias"`
}

// Validate validates the reload request fields. Errors wrap
// ErrInvalidInput.
func (r *ReloadRequest) Validate() error {
	if err := servingValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// EnsureDefaults fills the role for bodyless reload calls.
func (r *ReloadRequest) EnsureDefaults() {
	if r.Role == "" {
		r.Role = RoleChampion
	}
}

// ReloadResponse reports the outcome of a slot reload.
type ReloadResponse struct {
	Status          string    `json:"status"`
	Role            string    `json:"role"`
	Alias           string    `json:"alias"`
	PreviousVersion string    `json:"previous_version,omitempty"`
	CurrentVersion  string    `json:"current_version"`
	Source          string    `json:"source"`
	LoadedAt        time.Time `json:"loaded_at"`
}

// UnloadRequest retires a model slot.
//
// Only the challenger can be unloaded; the controller refuses to leave the
// champion slot empty while the process serves traffic.
type UnloadRequest struct {
	Role string `json:"role" validate:"required,oneof=champion challenger"`
}

// Validate validates the unload request fields. Errors wrap
// ErrInvalidInput.
func (r *UnloadRequest) Validate() error {
	if err := servingValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// =============================================================================
// Traffic Split Types
// =============================================================================

// SplitConfigRequest adjusts the champion/challenger traffic split.
//
// # Description
//
// TrafficSplit is the probability that a request routes to the challenger;
// the champion receives the remainder. Enabled toggles split routing without
// losing the configured ratio. Pointer fields distinguish "leave unchanged"
// from an explicit zero.
//
// # Validation
//
//   - TrafficSplit: optional, 0.0 to 1.0 inclusive
type SplitConfigRequest struct {
	TrafficSplit *float64 `json:"traffic_split,omitempty" validate:"omitempty,gte=0,lte=1"`
	Enabled      *bool    `json:"enabled,omitempty"`
}

// Validate validates the split configuration fields. Errors wrap
// ErrInvalidInput.
func (r *SplitConfigRequest) Validate() error {
	if err := servingValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// NewRequestID returns a UUID v4 correlation ID for requests that arrived
// without one. Used by middleware and tests.
func NewRequestID() string {
	return uuid.New().String()
}
