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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

// QuantileGridSize is the number of points in a field's stored quantile
// grid: percentiles 0 through 100 inclusive. The grid doubles as a
// compressed, sorted sample of the reference distribution for the
// Kolmogorov-Smirnov comparator.
const QuantileGridSize = 101

// FieldStats holds the frozen reference statistics for one feature field.
//
// # Description
//
// FieldStats is computed offline from the training data and loaded once at
// startup. Comparators measure the distance between a live batch and these
// statistics; nothing at runtime mutates them.
//
// # Fields
//
//   - Name: Schema field name, matching datatypes.FeatureNames.
//   - Mean, StdDev: First two moments of the training column.
//   - Min, Max: Observed training extremes.
//   - Quantiles: QuantileGridSize ascending values, Quantiles[i] being the
//     i-th percentile. Percentile 0 is the minimum, percentile 100 the
//     maximum.
type FieldStats struct {
	Name      string    `yaml:"name" json:"name"`
	Mean      float64   `yaml:"mean" json:"mean"`
	StdDev    float64   `yaml:"std_dev" json:"std_dev"`
	Min       float64   `yaml:"min" json:"min"`
	Max       float64   `yaml:"max" json:"max"`
	Quantiles []float64 `yaml:"quantiles" json:"quantiles"`
}

// Reference is the frozen training distribution.
//
// # Description
//
// Reference wraps one FieldStats per schema field, in datatypes.FeatureNames
// order. It is immutable after construction: the analyzer and the
// reference-stats endpoint share one instance without locking. Replacing the
// reference means restarting the process or an explicit admin reload that
// swaps the whole analyzer.
//
// # Thread Safety
//
// Safe for concurrent use; all state is written before publication.
type Reference struct {
	fields      [datatypes.FeatureCount]FieldStats
	sampleCount int
	generatedAt time.Time
}

// referenceFile is the YAML wire form of a reference snapshot.
type referenceFile struct {
	GeneratedAt time.Time    `yaml:"generated_at"`
	SampleCount int          `yaml:"sample_count"`
	Fields      []FieldStats `yaml:"fields"`
}

// Field returns the stats for the field at index i in FeatureNames order.
func (r *Reference) Field(i int) FieldStats {
	return r.fields[i]
}

// SampleCount returns the number of training rows the snapshot was built
// from.
func (r *Reference) SampleCount() int {
	return r.sampleCount
}

// GeneratedAt returns when the snapshot was computed.
func (r *Reference) GeneratedAt() time.Time {
	return r.generatedAt
}

// Snapshot returns the wire representation served by the reference-stats
// endpoint.
func (r *Reference) Snapshot() ReferenceSnapshot {
	fields := make([]FieldStats, 0, datatypes.FeatureCount)
	for i := range r.fields {
		fields = append(fields, r.fields[i])
	}
	return ReferenceSnapshot{
		GeneratedAt: r.generatedAt,
		SampleCount: r.sampleCount,
		Fields:      fields,
	}
}

// ReferenceSnapshot is the JSON form of a Reference.
type ReferenceSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	SampleCount int          `json:"sample_count"`
	Fields      []FieldStats `json:"fields"`
}

// =============================================================================
// Loading and Building
// =============================================================================

// LoadReference reads a reference snapshot from a YAML file.
//
// # Description
//
// The file is the artifact produced by BuildReference (usually via the
// reference-build CLI command). Fields may appear in any order in the file;
// they are reindexed into schema order. Every schema field must be present
// with a full quantile grid, so a truncated or hand-edited snapshot fails
// fast at startup instead of producing silent garbage verdicts.
//
// # Inputs
//
//   - path: Snapshot file location.
//
// # Outputs
//
//   - *Reference: Frozen reference distribution.
//   - error: Non-nil on read, parse, or consistency failure.
func LoadReference(path string) (*Reference, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read reference snapshot: %w", err)
	}

	var file referenceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse reference snapshot: %w", err)
	}
	if file.SampleCount <= 0 {
		return nil, fmt.Errorf("reference snapshot: sample_count must be positive, got %d", file.SampleCount)
	}

	byName := make(map[string]FieldStats, len(file.Fields))
	for _, fs := range file.Fields {
		byName[fs.Name] = fs
	}

	ref := &Reference{
		sampleCount: file.SampleCount,
		generatedAt: file.GeneratedAt,
	}
	for i, name := range datatypes.FeatureNames {
		fs, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("reference snapshot: missing field %s", name)
		}
		if err := checkFieldStats(fs); err != nil {
			return nil, fmt.Errorf("reference snapshot: field %s: %w", name, err)
		}
		ref.fields[i] = fs
	}
	return ref, nil
}

// checkFieldStats rejects snapshots that cannot have come from
// BuildReference.
func checkFieldStats(fs FieldStats) error {
	if fs.StdDev < 0 {
		return fmt.Errorf("negative std_dev %g", fs.StdDev)
	}
	if fs.Min > fs.Max {
		return fmt.Errorf("min %g above max %g", fs.Min, fs.Max)
	}
	if len(fs.Quantiles) != QuantileGridSize {
		return fmt.Errorf("quantile grid has %d points, want %d", len(fs.Quantiles), QuantileGridSize)
	}
	for i := 1; i < len(fs.Quantiles); i++ {
		if fs.Quantiles[i] < fs.Quantiles[i-1] {
			return fmt.Errorf("quantile grid not non-decreasing at index %d", i)
		}
	}
	return nil
}

// BuildReference computes a reference snapshot from raw training vectors.
//
// # Description
//
// Used by the reference-build CLI command and by tests that need a
// distribution to compare against. Requires at least two samples so the
// standard deviation is defined.
func BuildReference(samples []datatypes.FeatureVector, generatedAt time.Time) (*Reference, error) {
	n := len(samples)
	if n < 2 {
		return nil, fmt.Errorf("build reference: need at least 2 samples, got %d", n)
	}

	ref := &Reference{
		sampleCount: n,
		generatedAt: generatedAt.UTC(),
	}
	col := make([]float64, n)
	for i, name := range datatypes.FeatureNames {
		for j, v := range samples {
			col[j] = v.Value(i)
		}
		sort.Float64s(col)

		mean, std := stat.MeanStdDev(col, nil)
		quantiles := make([]float64, QuantileGridSize)
		for q := 0; q < QuantileGridSize; q++ {
			quantiles[q] = stat.Quantile(float64(q)/float64(QuantileGridSize-1), stat.Empirical, col, nil)
		}

		ref.fields[i] = FieldStats{
			Name:      name,
			Mean:      mean,
			StdDev:    std,
			Min:       col[0],
			Max:       col[n-1],
			Quantiles: quantiles,
		}
	}
	return ref, nil
}

// WriteFile saves the reference as a YAML snapshot readable by
// LoadReference.
func (r *Reference) WriteFile(path string) error {
	file := referenceFile{
		GeneratedAt: r.generatedAt,
		SampleCount: r.sampleCount,
		Fields:      make([]FieldStats, 0, datatypes.FeatureCount),
	}
	for i := range r.fields {
		file.Fields = append(file.Fields, r.fields[i])
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshal reference snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write reference snapshot: %w", err)
	}
	return nil
}
