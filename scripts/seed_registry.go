// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// seed_registry populates a local filesystem model registry with two
// versions of a standardized linear housing model and a matching drift
// reference snapshot, so a serving instance can start without any real
// training pipeline.
//
// Usage:
//
//	go run scripts/seed_registry.go [registry-dir]
//
// Layout written (default dir ./dev-registry):
//
//	aliases.yaml                      housing-stable: 1.0.0, housing-next: 1.1.0
//	1.0.0/manifest.yaml + model.yaml
//	1.1.0/manifest.yaml + model.yaml  slightly shifted coefficients
//	reference.yaml                    snapshot over synthetic training rows
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/drift"
	"github.com/AleutianAI/Bellwether/services/serving/model"
)

func main() {
	root := "dev-registry"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	if err := seed(root); err != nil {
		log.Fatalf("seeding registry: %v", err)
	}
	fmt.Printf("registry seeded at %s\n", root)
	fmt.Println("serve with:")
	fmt.Printf("  BELLWETHER_REGISTRY_ROOT=%s BELLWETHER_REFERENCE_PATH=%s go run ./services/serving\n",
		root, filepath.Join(root, "reference.yaml"))
}

func seed(root string) error {
	coeffs := map[string]float64{
		"MedInc":     0.83,
		"HouseAge":   0.12,
		"AveRooms":   -0.26,
		"AveBedrms":  0.31,
		"Population": -0.01,
		"AveOccup":   -0.04,
		"Latitude":   -0.90,
		"Longitude":  -0.87,
	}
	means := map[string]float64{
		"MedInc":     3.87,
		"HouseAge":   28.6,
		"AveRooms":   5.43,
		"AveBedrms":  1.10,
		"Population": 1425.5,
		"AveOccup":   3.07,
		"Latitude":   35.63,
		"Longitude":  -119.57,
	}
	scales := map[string]float64{
		"MedInc":     1.90,
		"HouseAge":   12.6,
		"AveRooms":   2.47,
		"AveBedrms":  0.47,
		"Population": 1132.5,
		"AveOccup":   10.39,
		"Latitude":   2.14,
		"Longitude":  2.00,
	}

	if err := writeVersion(root, "1.0.0", model.Artifact{
		ModelName:    "california-housing-linear",
		Version:      "1.0.0",
		TrainedAt:    "2025-04-01T00:00:00Z",
		Intercept:    2.07,
		Coefficients: coeffs,
		Means:        means,
		Scales:       scales,
	}); err != nil {
		return err
	}

	// The challenger shifts income and location weight, enough that its
	// predictions differ visibly from the champion's.
	next := make(map[string]float64, len(coeffs))
	for k, v := range coeffs {
		next[k] = v
	}
	next["MedInc"] = 0.91
	next["Latitude"] = -0.82
	next["Longitude"] = -0.80
	if err := writeVersion(root, "1.1.0", model.Artifact{
		ModelName:    "california-housing-linear",
		Version:      "1.1.0",
		TrainedAt:    "2025-05-15T00:00:00Z",
		Intercept:    2.03,
		Coefficients: next,
		Means:        means,
		Scales:       scales,
	}); err != nil {
		return err
	}

	// "champion" matches the default config so a seeded registry serves
	// without any alias override; the named aliases are for reload demos.
	aliases := map[string]map[string]string{
		"aliases": {
			"champion":       "1.0.0",
			"challenger":     "1.1.0",
			"housing-stable": "1.0.0",
			"housing-next":   "1.1.0",
		},
	}
	if err := writeYAML(filepath.Join(root, "aliases.yaml"), aliases); err != nil {
		return err
	}

	return writeReference(root, means, scales)
}

func writeVersion(root, version string, art model.Artifact) error {
	dir := filepath.Join(root, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	manifest := map[string]string{
		"model_name": art.ModelName,
		"version":    version,
		"artifact":   "model.yaml",
	}
	if err := writeYAML(filepath.Join(dir, "manifest.yaml"), manifest); err != nil {
		return err
	}
	return writeYAML(filepath.Join(dir, "model.yaml"), art)
}

// writeReference synthesizes training rows around the published means so
// the drift reference matches what the model considers normal.
func writeReference(root string, means, scales map[string]float64) error {
	rng := rand.New(rand.NewSource(7))
	samples := make([]datatypes.FeatureVector, 500)
	for i := range samples {
		var values [datatypes.FeatureCount]float64
		for j, name := range datatypes.FeatureNames {
			values[j] = means[name] + rng.NormFloat64()*scales[name]*0.5
		}
		samples[i] = datatypes.NewFeatureVector(values)
	}

	ref, err := drift.BuildReference(samples, time.Now().UTC())
	if err != nil {
		return err
	}
	return ref.WriteFile(filepath.Join(root, "reference.yaml"))
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
