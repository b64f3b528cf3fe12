// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drift

import (
	"sync/atomic"
	"time"
)

// Verdict status values. A stored verdict is always one of these;
// insufficient-data skips are reported to the trigger caller and never
// stored.
const (
	// StatusNoAnalysis is the startup verdict before the first completed
	// analysis pass.
	StatusNoAnalysis = "no_analysis"

	// StatusStable means the last pass found the drifted-field fraction at
	// or below the dataset threshold.
	StatusStable = "stable"

	// StatusDrift means the last pass crossed the dataset threshold.
	StatusDrift = "drift_detected"

	// StatusDisabled means drift monitoring is configured off.
	StatusDisabled = "disabled"
)

// Analysis trigger labels, carried on verdicts and metrics.
const (
	// TriggerThreshold marks a pass scheduled by the buffer reaching
	// capacity.
	TriggerThreshold = "threshold"

	// TriggerForced marks an operator-initiated pass.
	TriggerForced = "forced"
)

// Verdict is the immutable outcome of one analysis pass.
//
// # Description
//
// Verdicts are replaced wholesale: the analyzer builds a complete new value
// and publishes it through a VerdictStore, so a reader can never observe a
// half-updated verdict. The JSON field names match the drift-status wire
// format.
//
// # Fields
//
//   - Status: One of the Status constants above.
//   - Detected: True when the drifted-field fraction crossed the dataset
//     threshold.
//   - DriftedFields: Names of fields whose distance crossed the field
//     threshold, in schema order. Empty when stable.
//   - SamplesAnalyzed: Batch size of the pass that produced this verdict.
//   - Timestamp: When the pass completed.
//   - Epoch: Buffer drain generation the batch came from.
//   - Trigger: TriggerThreshold or TriggerForced.
//   - Comparator: Name of the comparator that scored the pass.
//   - FieldScores: Distance per field, for dashboards and the verdict feed.
type Verdict struct {
	Status          string             `json:"status"`
	Detected        bool               `json:"drift_detected"`
	DriftedFields   []string           `json:"drifted_columns"`
	SamplesAnalyzed int                `json:"samples_analyzed"`
	Timestamp       time.Time          `json:"timestamp"`
	Epoch           uint64             `json:"epoch,omitempty"`
	Trigger         string             `json:"trigger,omitempty"`
	Comparator      string             `json:"comparator,omitempty"`
	FieldScores     map[string]float64 `json:"field_scores,omitempty"`
}

// NewInitialVerdict returns the verdict stored before any analysis has run.
func NewInitialVerdict(enabled bool) *Verdict {
	status := StatusNoAnalysis
	if !enabled {
		status = StatusDisabled
	}
	return &Verdict{
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// VerdictStore publishes the current verdict with copy-on-write semantics.
//
// # Thread Safety
//
// Load and Store are lock-free atomics; any number of readers may snapshot
// the verdict while an analysis pass replaces it.
type VerdictStore struct {
	current atomic.Pointer[Verdict]
}

// NewVerdictStore creates a store seeded with the given verdict.
func NewVerdictStore(initial *Verdict) *VerdictStore {
	s := &VerdictStore{}
	s.current.Store(initial)
	return s
}

// Load returns the current verdict. Never nil.
func (s *VerdictStore) Load() *Verdict {
	return s.current.Load()
}

// Store replaces the current verdict wholesale.
func (s *VerdictStore) Store(v *Verdict) {
	s.current.Store(v)
}
