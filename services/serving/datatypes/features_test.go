// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

// fp returns a pointer to v for building payloads in tests.
func fp(v float64) *float64 {
	return &v
}

// validPayload returns a payload drawn from the middle of the training
// distribution.
func validPayload() FeaturePayload {
	return FeaturePayload{
		MedInc:     fp(8.3252),
		HouseAge:   fp(41.0),
		AveRooms:   fp(6.9841),
		AveBedrms:  fp(1.0238),
		Population: fp(322.0),
		AveOccup:   fp(2.5556),
		Latitude:   fp(37.88),
		Longitude:  fp(-122.23),
	}
}

// =============================================================================
// FeaturePayload Validation Tests
// =============================================================================

func TestFeaturePayload_Validate_Success(t *testing.T) {
	p := validPayload()
	if err := p.Validate(); err != nil {
		t.Errorf("expected valid payload, got error: %v", err)
	}
}

func TestFeaturePayload_Validate_MissingField(t *testing.T) {
	p := validPayload()
	p.Population = nil

	err := p.Validate()
	if err == nil {
		t.Fatal("expected error for missing Population, got nil")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("validation error should wrap ErrInvalidInput, got: %v", err)
	}
}

func TestFeaturePayload_Validate_NaN(t *testing.T) {
	p := validPayload()
	p.MedInc = fp(math.NaN())

	if err := p.Validate(); err == nil {
		t.Error("expected error for NaN MedInc, got nil")
	}
}

func TestFeaturePayload_Validate_Infinity(t *testing.T) {
	p := validPayload()
	p.AveOccup = fp(math.Inf(1))

	if err := p.Validate(); err == nil {
		t.Error("expected error for infinite AveOccup, got nil")
	}
}

func TestFeaturePayload_Validate_OutOfRangeStillValid(t *testing.T) {
	// Range violations are flagged, never rejected.
	p := validPayload()
	p.MedInc = fp(99.0)
	p.HouseAge = fp(500.0)

	if err := p.Validate(); err != nil {
		t.Errorf("out-of-range values must pass validation, got error: %v", err)
	}
}

func TestFeaturePayload_Vector_OrdersValues(t *testing.T) {
	p := validPayload()
	vec, err := p.Vector()
	if err != nil {
		t.Fatalf("Vector() returned error: %v", err)
	}

	vals := vec.Values()
	if vals[0] != 8.3252 {
		t.Errorf("expected MedInc at index 0, got %v", vals[0])
	}
	if vals[7] != -122.23 {
		t.Errorf("expected Longitude at index 7, got %v", vals[7])
	}
}

func TestFeaturePayload_Vector_MissingField(t *testing.T) {
	p := validPayload()
	p.Latitude = nil

	if _, err := p.Vector(); err == nil {
		t.Error("expected error for nil Latitude, got nil")
	}
}

// =============================================================================
// FeatureVector Tests
// =============================================================================

func TestFeatureVector_RangeFlags_InRange(t *testing.T) {
	p := validPayload()
	vec, err := p.Vector()
	if err != nil {
		t.Fatalf("Vector() returned error: %v", err)
	}

	if flags := vec.RangeFlags(); len(flags) != 0 {
		t.Errorf("expected no flags for in-range vector, got %v", flags)
	}
}

func TestFeatureVector_RangeFlags_OutOfRange(t *testing.T) {
	p := validPayload()
	p.MedInc = fp(99.0)
	vec, err := p.Vector()
	if err != nil {
		t.Fatalf("Vector() returned error: %v", err)
	}

	flags := vec.RangeFlags()
	if len(flags) != 1 {
		t.Fatalf("expected exactly 1 flag, got %d: %v", len(flags), flags)
	}
	if !strings.Contains(flags[0], "MedInc") {
		t.Errorf("flag should name the offending field, got %q", flags[0])
	}
}

func TestFeatureVector_RangeFlags_MultipleFields(t *testing.T) {
	p := validPayload()
	p.HouseAge = fp(0.1)
	p.Longitude = fp(10.0)
	vec, err := p.Vector()
	if err != nil {
		t.Fatalf("Vector() returned error: %v", err)
	}

	if flags := vec.RangeFlags(); len(flags) != 2 {
		t.Errorf("expected 2 flags, got %d: %v", len(flags), flags)
	}
}

func TestFeatureVector_IsFinite(t *testing.T) {
	p := validPayload()
	vec, _ := p.Vector()
	if !vec.IsFinite() {
		t.Error("expected finite vector")
	}

	bad := NewFeatureVector([FeatureCount]float64{1, 2, math.NaN(), 4, 5, 6, 7, 8})
	if bad.IsFinite() {
		t.Error("expected NaN vector to be non-finite")
	}
}

func TestFeatureVector_JSON_RoundTrip(t *testing.T) {
	p := validPayload()
	vec, _ := p.Vector()

	data, err := json.Marshal(vec)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if !strings.Contains(string(data), `"MedInc"`) {
		t.Errorf("wire form should use named fields, got %s", data)
	}

	var back FeatureVector
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if back.Values() != vec.Values() {
		t.Errorf("round trip mismatch: %v != %v", back.Values(), vec.Values())
	}
}

func TestFeatureVector_UnmarshalJSON_MissingField(t *testing.T) {
	var vec FeatureVector
	err := json.Unmarshal([]byte(`{"MedInc": 8.3, "HouseAge": 41}`), &vec)
	if err == nil {
		t.Error("expected error for partial wire payload, got nil")
	}
}

func TestFeatureVector_Payload_RoundTrip(t *testing.T) {
	p := validPayload()
	vec, _ := p.Vector()

	rt := vec.Payload()
	back, err := rt.Vector()
	if err != nil {
		t.Fatalf("Payload round trip returned error: %v", err)
	}
	if back.Values() != vec.Values() {
		t.Errorf("round trip mismatch: %v != %v", back.Values(), vec.Values())
	}
}
