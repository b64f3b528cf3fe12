// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the serving
// service.
//
// This file contains the feature vector types used by the prediction
// endpoints and the drift pipeline. For request/response envelope types,
// see requests.go.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/Bellwether/pkg/validation"
)

// ErrInvalidInput marks a request that failed shape validation: missing
// fields, non-finite values, malformed envelopes. The HTTP boundary maps
// it to 400. Implausible-but-finite values are not invalid input; they are
// served and flagged.
var ErrInvalidInput = errors.New("invalid input")

// =============================================================================
// Feature Schema Constants
// =============================================================================

const (
	// FeatureCount is the number of fields in a feature vector. The schema
	// is fixed at startup; vectors with missing or extra fields are rejected.
	FeatureCount = 8

	// MaxBatchPredictions is the maximum number of vectors accepted by a
	// single batch prediction request.
	MaxBatchPredictions = 100

	// MaxCommentBytes bounds free-text feedback comments.
	MaxCommentBytes = 4 * 1024
)

// FeatureNames lists the schema fields in canonical order. Every per-field
// structure in the drift pipeline (reference stats, verdicts, importance
// scores) is indexed in this order.
var FeatureNames = [FeatureCount]string{
	"MedInc",
	"HouseAge",
	"AveRooms",
	"AveBedrms",
	"Population",
	"AveOccup",
	"Latitude",
	"Longitude",
}

// featureBounds holds the plausible range for one field, drawn from the
// training distribution. Values outside the range are served normally but
// flagged in the response and counted by observability.
type featureBounds struct {
	Lo float64
	Hi float64
}

// plausibleBounds is indexed in FeatureNames order.
var plausibleBounds = [FeatureCount]featureBounds{
	{0.5, 15.0},      // MedInc: median income, tens of thousands USD
	{1, 52},          // HouseAge: years
	{1, 15},          // AveRooms: rooms per household
	{0.3, 5},         // AveBedrms: bedrooms per household
	{3, 35000},       // Population: block population
	{0.5, 10},        // AveOccup: household occupancy
	{32.5, 42.0},     // Latitude: California bounds
	{-124.5, -114.0}, // Longitude: California bounds
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// servingValidate is the validator instance for serving datatypes.
// Initialized in init() with custom validators.
var servingValidate *validator.Validate

func init() {
	servingValidate = validator.New()

	// Non-finite floats survive JSON binding only through programmatic
	// construction, but the scorer contract rejects them either way.
	_ = servingValidate.RegisterValidation("finite", validateFinite)

	// Model aliases share the registry naming rules.
	_ = servingValidate.RegisterValidation("modelalias", validateModelAlias)
}

// validateFinite reports whether a float field is neither NaN nor infinite.
//
// Nil pointers pass; the required tag owns presence checking.
func validateFinite(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return true
		}
		field = field.Elem()
	}
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		v := field.Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return false
	}
}

// validateModelAlias delegates to the shared alias rules so request bodies
// and registry lookups reject the same strings.
func validateModelAlias(fl validator.FieldLevel) bool {
	return validation.ValidateAlias(fl.Field().String()) == nil
}

// =============================================================================
// Wire Feature Payload
// =============================================================================

// FeaturePayload is the wire representation of one observation.
//
// # Description
//
// FeaturePayload uses pointer fields so that a missing key and an explicit
// zero are distinguishable after JSON binding. Presence and finiteness are
// hard requirements; values outside the plausible training ranges are
// accepted and surfaced through RangeFlags rather than rejected, because a
// shifted input distribution is exactly the signal the drift pipeline is
// there to observe.
//
// # Fields
//
// Field names match the training schema and are case-sensitive on the wire:
//
//   - MedInc: Median income in the block, in tens of thousands of USD.
//   - HouseAge: Median house age in the block, in years.
//   - AveRooms: Average rooms per household.
//   - AveBedrms: Average bedrooms per household.
//   - Population: Block population.
//   - AveOccup: Average household occupancy.
//   - Latitude: Latitude coordinate.
//   - Longitude: Longitude coordinate.
//
// # Validation
//
// Uses go-playground/validator:
//   - every field: required (key present, non-null)
//   - every field: finite (rejects NaN and +/-Inf)
//
// Range checking is deliberately not part of Validate; see RangeFlags.
//
// # Examples
//
//	payload := FeaturePayload{}
//	if err := c.ShouldBindJSON(&payload); err != nil { ... }
//	if err := payload.Validate(); err != nil { ... }
//	vec, _ := payload.Vector()
type FeaturePayload struct {
	MedInc     *float64 `json:"MedInc" validate:"required,finite"`
	HouseAge   *float64 `json:"HouseAge" validate:"required,finite"`
	AveRooms   *float64 `json:"AveRooms" validate:"required,finite"`
	AveBedrms  *float64 `json:"AveBedrms" validate:"required,finite"`
	Population *float64 `json:"Population" validate:"required,finite"`
	AveOccup   *float64 `json:"AveOccup" validate:"required,finite"`
	Latitude   *float64 `json:"Latitude" validate:"required,finite"`
	Longitude  *float64 `json:"Longitude" validate:"required,finite"`
}

// Validate validates presence and finiteness of all schema fields.
//
// # Outputs
//
//   - error: Non-nil if any field is missing, null, NaN, or infinite.
//     Always wraps ErrInvalidInput.
func (p *FeaturePayload) Validate() error {
	if err := servingValidate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// Vector converts the payload into an immutable FeatureVector.
//
// # Description
//
// Returns an error if any field is nil, so callers that skipped Validate
// still cannot smuggle a partial observation into the scoring path or the
// drift buffer.
func (p *FeaturePayload) Vector() (FeatureVector, error) {
	fields := [FeatureCount]*float64{
		p.MedInc, p.HouseAge, p.AveRooms, p.AveBedrms,
		p.Population, p.AveOccup, p.Latitude, p.Longitude,
	}
	var v FeatureVector
	for i, f := range fields {
		if f == nil {
			return FeatureVector{}, fmt.Errorf("%w: feature %s: missing value", ErrInvalidInput, FeatureNames[i])
		}
		v.values[i] = *f
	}
	return v, nil
}

// =============================================================================
// Immutable Feature Vector
// =============================================================================

// FeatureVector is a validated, immutable observation.
//
// # Description
//
// FeatureVector is a value type: it is copied into the rolling buffer and
// the prediction log, so later mutation of request state cannot corrupt a
// batch that is already queued for analysis. Construct one through
// FeaturePayload.Vector or NewFeatureVector.
//
// # Thread Safety
//
// Safe for concurrent use; the type has no mutable state.
type FeatureVector struct {
	values [FeatureCount]float64
}

// NewFeatureVector builds a vector from values in FeatureNames order.
func NewFeatureVector(values [FeatureCount]float64) FeatureVector {
	return FeatureVector{values: values}
}

// Values returns the fields in FeatureNames order.
func (v FeatureVector) Values() [FeatureCount]float64 {
	return v.values
}

// Value returns the field at index i in FeatureNames order.
func (v FeatureVector) Value(i int) float64 {
	return v.values[i]
}

// IsFinite reports whether every field is a finite float.
func (v FeatureVector) IsFinite() bool {
	for _, f := range v.values {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// RangeFlags returns one message per field whose value falls outside the
// plausible training range. An empty slice means the vector looks like the
// training distribution. Flags never block serving.
func (v FeatureVector) RangeFlags() []string {
	var flags []string
	for i, f := range v.values {
		b := plausibleBounds[i]
		if f < b.Lo || f > b.Hi {
			flags = append(flags,
				fmt.Sprintf("%s=%g outside plausible range [%g, %g]", FeatureNames[i], f, b.Lo, b.Hi))
		}
	}
	return flags
}

// FlaggedFields returns the names of fields outside the plausible range,
// in schema order. Metric labels use this form; RangeFlags carries the
// human-readable variant.
func (v FeatureVector) FlaggedFields() []string {
	var fields []string
	for i, f := range v.values {
		b := plausibleBounds[i]
		if f < b.Lo || f > b.Hi {
			fields = append(fields, FeatureNames[i])
		}
	}
	return fields
}

// Payload converts the vector back to its wire representation. Used by the
// prediction log and the drift feed, which replay stored observations.
func (v FeatureVector) Payload() FeaturePayload {
	vals := v.values
	return FeaturePayload{
		MedInc:     &vals[0],
		HouseAge:   &vals[1],
		AveRooms:   &vals[2],
		AveBedrms:  &vals[3],
		Population: &vals[4],
		AveOccup:   &vals[5],
		Latitude:   &vals[6],
		Longitude:  &vals[7],
	}
}

// MarshalJSON emits the named-field wire form rather than the internal array.
func (v FeatureVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Payload())
}

// UnmarshalJSON accepts the named-field wire form and enforces presence of
// every schema field.
func (v *FeatureVector) UnmarshalJSON(data []byte) error {
	var p FeaturePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	vec, err := p.Vector()
	if err != nil {
		return err
	}
	*v = vec
	return nil
}
