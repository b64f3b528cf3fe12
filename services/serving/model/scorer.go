// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model holds the scoring side of the serving service: the opaque
// Scorer, refcounted slots, the artifact registry, and the hot-reload
// Manager.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

// Package sentinels. Handlers map these to HTTP statuses with errors.Is.
var (
	// ErrUnavailable means no scorer could be produced for a role or
	// alias: nothing is loaded, or the registry cannot satisfy the
	// request. A reload that hits this leaves the previous slot serving.
	ErrUnavailable = errors.New("model unavailable")

	// ErrScoringFailure means a loaded scorer failed on one input. Local
	// to a single request, never fatal to the slot.
	ErrScoringFailure = errors.New("scoring failure")

	// ErrChampionRequired refuses operations that would leave the
	// champion slot empty while the process serves traffic.
	ErrChampionRequired = errors.New("champion slot cannot be unloaded")
)

// Scorer is the opaque scoring function a slot wraps.
//
// # Description
//
// Everything above this package treats a model as a black box: a validated
// feature vector goes in, a price comes out. Implementations must be safe
// for concurrent use; one scorer serves many requests in parallel.
type Scorer interface {
	// Score predicts the target for one observation.
	Score(ctx context.Context, v datatypes.FeatureVector) (float64, error)

	// FeatureImportance returns a per-field importance score for
	// dashboards. Keys are schema field names.
	FeatureImportance() map[string]float64
}

// =============================================================================
// Linear Scorer Artifact
// =============================================================================

// Artifact is the YAML form of a trained standardized linear model.
//
// The training pipeline exports coefficients against standardized features,
// so the artifact carries the per-field means and scales alongside the
// weights.
type Artifact struct {
	ModelName    string             `yaml:"model_name"`
	Version      string             `yaml:"version"`
	TrainedAt    string             `yaml:"trained_at,omitempty"`
	Intercept    float64            `yaml:"intercept"`
	Coefficients map[string]float64 `yaml:"coefficients"`
	Means        map[string]float64 `yaml:"feature_means"`
	Scales       map[string]float64 `yaml:"feature_scales"`
}

// LinearScorer scores with a standardized linear regression.
//
// # Description
//
// The prediction is intercept + sum over fields of
// coefficient * (value - mean) / scale. State is written once at load time;
// the scorer is immutable afterwards and safe for concurrent use.
type LinearScorer struct {
	name      string
	version   string
	intercept float64
	coefs     [datatypes.FeatureCount]float64
	means     [datatypes.FeatureCount]float64
	scales    [datatypes.FeatureCount]float64
}

// NewLinearScorer builds a scorer from an artifact, verifying that every
// schema field has a coefficient, a mean, and a positive scale.
func NewLinearScorer(art Artifact) (*LinearScorer, error) {
	s := &LinearScorer{
		name:      art.ModelName,
		version:   art.Version,
		intercept: art.Intercept,
	}
	for i, name := range datatypes.FeatureNames {
		coef, ok := art.Coefficients[name]
		if !ok {
			return nil, fmt.Errorf("artifact %s: missing coefficient for %s", art.Version, name)
		}
		mean, ok := art.Means[name]
		if !ok {
			return nil, fmt.Errorf("artifact %s: missing feature mean for %s", art.Version, name)
		}
		scale, ok := art.Scales[name]
		if !ok {
			return nil, fmt.Errorf("artifact %s: missing feature scale for %s", art.Version, name)
		}
		if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
			return nil, fmt.Errorf("artifact %s: feature scale for %s must be a positive finite value, got %g",
				art.Version, name, scale)
		}
		s.coefs[i] = coef
		s.means[i] = mean
		s.scales[i] = scale
	}
	return s, nil
}

// LoadArtifact reads a scorer artifact from a YAML file.
func LoadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Artifact{}, fmt.Errorf("read model artifact: %w", err)
	}
	var art Artifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return Artifact{}, fmt.Errorf("parse model artifact: %w", err)
	}
	return art, nil
}

// Score implements Scorer.
func (s *LinearScorer) Score(ctx context.Context, v datatypes.FeatureVector) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScoringFailure, err)
	}

	price := s.intercept
	vals := v.Values()
	for i := range vals {
		price += s.coefs[i] * (vals[i] - s.means[i]) / s.scales[i]
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: non-finite prediction", ErrScoringFailure)
	}
	return price, nil
}

// FeatureImportance implements Scorer. For a standardized linear model the
// absolute coefficient is the field's influence on the prediction.
func (s *LinearScorer) FeatureImportance() map[string]float64 {
	out := make(map[string]float64, datatypes.FeatureCount)
	for i, name := range datatypes.FeatureNames {
		out[name] = math.Abs(s.coefs[i])
	}
	return out
}

// Name returns the trained model's name.
func (s *LinearScorer) Name() string { return s.name }

// Version returns the artifact version.
func (s *LinearScorer) Version() string { return s.version }

var _ Scorer = (*LinearScorer)(nil)
