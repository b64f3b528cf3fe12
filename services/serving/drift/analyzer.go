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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

// Analyzer defaults, used when the configuration leaves a knob unset.
const (
	DefaultMinBatch             = 10
	DefaultFieldThreshold       = 0.15
	DefaultSevereFieldThreshold = 0.5
	DefaultDatasetThreshold     = 0.3
	DefaultComparator           = "ks"
)

// psiBins is the number of reference decile bins used by the PSI
// comparator; psiEpsilon floors empty-bin proportions so the log term stays
// finite.
const (
	psiBins    = 10
	psiEpsilon = 1e-4
)

// Skip sentinels. Both wrap ErrAnalysisSkipped so the HTTP boundary can map
// the whole family with one errors.Is check. A skipped pass retains the
// previous verdict unchanged and is never escalated.
var (
	ErrAnalysisSkipped    = errors.New("analysis skipped")
	ErrInsufficientData   = fmt.Errorf("%w: batch below minimum size", ErrAnalysisSkipped)
	ErrAnalysisInProgress = fmt.Errorf("%w: a pass is already running", ErrAnalysisSkipped)
)

// =============================================================================
// Comparators
// =============================================================================

// Comparator measures the distance between a live sample of one field and
// that field's reference statistics. Implementations are stateless and safe
// for concurrent use.
type Comparator interface {
	// Name identifies the comparator in config, verdicts, and metrics.
	Name() string

	// Distance returns a non-negative divergence score. Larger means the
	// sample looks less like the reference. The sample is non-empty.
	Distance(ref FieldStats, sample []float64) float64
}

// NewComparator returns the comparator registered under name.
func NewComparator(name string) (Comparator, error) {
	switch name {
	case "ks":
		return ksComparator{}, nil
	case "psi":
		return psiComparator{}, nil
	default:
		return nil, fmt.Errorf("unknown comparator %q (have ks, psi)", name)
	}
}

// ksComparator scores a field with the two-sample Kolmogorov-Smirnov
// statistic, using the reference quantile grid as a compressed sorted
// sample of the training distribution. The statistic lies in [0, 1].
type ksComparator struct{}

func (ksComparator) Name() string { return "ks" }

func (ksComparator) Distance(ref FieldStats, sample []float64) float64 {
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	return stat.KolmogorovSmirnov(sorted, nil, ref.Quantiles, nil)
}

// psiComparator scores a field with the population stability index over the
// reference decile bins. Values below the first decile edge join the first
// bin and values above the last join the final bin, so shifted mass is
// always counted somewhere.
type psiComparator struct{}

func (psiComparator) Name() string { return "psi" }

func (psiComparator) Distance(ref FieldStats, sample []float64) float64 {
	// Interior decile edges: percentiles 10, 20, ... 90.
	interior := make([]float64, 0, psiBins-1)
	for k := 1; k < psiBins; k++ {
		interior = append(interior, ref.Quantiles[k*(QuantileGridSize-1)/psiBins])
	}

	counts := make([]float64, psiBins)
	for _, v := range sample {
		counts[sort.SearchFloat64s(interior, v)]++
	}

	n := float64(len(sample))
	expected := 1.0 / float64(psiBins)
	psi := 0.0
	for _, c := range counts {
		actual := math.Max(c/n, psiEpsilon)
		psi += (actual - expected) * math.Log(actual/expected)
	}
	return psi
}

// =============================================================================
// Analyzer
// =============================================================================

// AnalyzerConfig selects the comparator and the decision thresholds.
//
// The dataset verdict is two-level: a field is drifted when its distance
// exceeds FieldThreshold, and the dataset is drifted when the drifted-field
// fraction exceeds DatasetThreshold. One noisy field therefore never flags
// the dataset. The exception is a severe field: a distance above
// SevereFieldThreshold means the field's live distribution has essentially
// separated from the reference, and that is reported as dataset drift no
// matter how the other fields look.
type AnalyzerConfig struct {
	// Comparator is "ks" or "psi".
	Comparator string

	// FieldThreshold marks a single field drifted when its distance
	// exceeds it. Must lie in (0, 1].
	FieldThreshold float64

	// SevereFieldThreshold escalates a single field to a dataset verdict.
	// Must be at least FieldThreshold.
	SevereFieldThreshold float64

	// DatasetThreshold marks the dataset drifted when the drifted-field
	// fraction exceeds it. Must lie in (0, 1].
	DatasetThreshold float64

	// MinBatch is the smallest batch worth analyzing; smaller batches are
	// skipped and the previous verdict retained.
	MinBatch int
}

// EnsureDefaults fills unset knobs.
func (c *AnalyzerConfig) EnsureDefaults() {
	if c.Comparator == "" {
		c.Comparator = DefaultComparator
	}
	if c.FieldThreshold == 0 {
		c.FieldThreshold = DefaultFieldThreshold
	}
	if c.SevereFieldThreshold == 0 {
		c.SevereFieldThreshold = DefaultSevereFieldThreshold
	}
	if c.DatasetThreshold == 0 {
		c.DatasetThreshold = DefaultDatasetThreshold
	}
	if c.MinBatch == 0 {
		c.MinBatch = DefaultMinBatch
	}
}

// Analyzer compares drained batches against the frozen reference and
// produces verdicts.
//
// # Description
//
// Analyze is pure computation: it takes a batch, scores every schema field
// with the configured comparator, and applies the two-level threshold
// decision. Serialization of passes (at most one at a time) belongs to the
// Monitor; the Analyzer itself is safe for concurrent use because it only
// reads frozen state.
type Analyzer struct {
	ref              *Reference
	cmp              Comparator
	fieldThreshold   float64
	severeThreshold  float64
	datasetThreshold float64
	minBatch         int
	log              *slog.Logger
}

// NewAnalyzer builds an analyzer against a frozen reference.
func NewAnalyzer(ref *Reference, cfg AnalyzerConfig, log *slog.Logger) (*Analyzer, error) {
	if ref == nil {
		return nil, errors.New("analyzer: reference distribution is required")
	}
	cfg.EnsureDefaults()
	if cfg.FieldThreshold <= 0 || cfg.FieldThreshold > 1 {
		return nil, fmt.Errorf("analyzer: field threshold %g outside (0, 1]", cfg.FieldThreshold)
	}
	if cfg.SevereFieldThreshold < cfg.FieldThreshold {
		return nil, fmt.Errorf("analyzer: severe field threshold %g below field threshold %g",
			cfg.SevereFieldThreshold, cfg.FieldThreshold)
	}
	if cfg.DatasetThreshold <= 0 || cfg.DatasetThreshold > 1 {
		return nil, fmt.Errorf("analyzer: dataset threshold %g outside (0, 1]", cfg.DatasetThreshold)
	}
	if cfg.MinBatch < 1 {
		return nil, fmt.Errorf("analyzer: min batch %d below 1", cfg.MinBatch)
	}

	cmp, err := NewComparator(cfg.Comparator)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{
		ref:              ref,
		cmp:              cmp,
		fieldThreshold:   cfg.FieldThreshold,
		severeThreshold:  cfg.SevereFieldThreshold,
		datasetThreshold: cfg.DatasetThreshold,
		minBatch:         cfg.MinBatch,
		log:              log,
	}, nil
}

// MinBatch returns the smallest batch the analyzer will score.
func (a *Analyzer) MinBatch() int {
	return a.minBatch
}

// ComparatorName returns the active comparator's name.
func (a *Analyzer) ComparatorName() string {
	return a.cmp.Name()
}

// Reference returns the frozen distribution the analyzer compares against.
func (a *Analyzer) Reference() *Reference {
	return a.ref
}

// Analyze scores one batch and returns a complete verdict.
//
// # Outputs
//
//   - *Verdict: The pass outcome; nil when skipped.
//   - error: ErrInsufficientData when the batch is below MinBatch. The
//     caller retains its previous verdict in that case.
func (a *Analyzer) Analyze(batch Batch, trigger string) (*Verdict, error) {
	n := len(batch.Vectors)
	if n < a.minBatch {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, n, a.minBatch)
	}

	start := time.Now()
	var drifted []string
	severe := 0
	scores := make(map[string]float64, datatypes.FeatureCount)
	col := make([]float64, n)
	for i, name := range datatypes.FeatureNames {
		for j, v := range batch.Vectors {
			col[j] = v.Value(i)
		}
		d := a.cmp.Distance(a.ref.fields[i], col)
		scores[name] = d
		if d > a.fieldThreshold {
			drifted = append(drifted, name)
		}
		if d > a.severeThreshold {
			severe++
		}
	}

	fraction := float64(len(drifted)) / float64(datatypes.FeatureCount)
	detected := fraction > a.datasetThreshold || severe > 0

	status := StatusStable
	if detected {
		status = StatusDrift
	}
	verdict := &Verdict{
		Status:          status,
		Detected:        detected,
		DriftedFields:   drifted,
		SamplesAnalyzed: n,
		Timestamp:       time.Now().UTC(),
		Epoch:           batch.Epoch,
		Trigger:         trigger,
		Comparator:      a.cmp.Name(),
		FieldScores:     scores,
	}

	if detected {
		a.log.Warn("drift detected",
			"drifted_fields", drifted,
			"drifted_fraction", fraction,
			"samples", n,
			"epoch", batch.Epoch,
			"trigger", trigger,
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		a.log.Info("analysis pass stable",
			"samples", n,
			"epoch", batch.Epoch,
			"trigger", trigger,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return verdict, nil
}
