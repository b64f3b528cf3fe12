// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Bellwether/pkg/ux"
	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/drift"
)

var (
	referenceCSV string
	referenceOut string

	referenceCmd = &cobra.Command{
		Use:   "reference",
		Short: "Build and inspect drift reference snapshots",
	}

	referenceBuildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build a reference snapshot from a training-data CSV",
		Long: `Build computes per-field statistics (mean, spread, quantile grid) from
a CSV of training rows and writes them as the YAML snapshot the serving
service loads at startup.

The CSV needs the eight feature columns in training order:
` + strings.Join(datatypes.FeatureNames[:], ", ") + `.
A header row is detected and checked; extra trailing columns (such as
the target) are ignored.`,
		Args: cobra.NoArgs,
		RunE: runReferenceBuild,
	}

	referenceShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the reference snapshot the running service compares against",
		Args:  cobra.NoArgs,
		RunE:  runReferenceShow,
	}
)

func init() {
	referenceBuildCmd.Flags().StringVar(&referenceCSV, "csv", "",
		"Training data CSV to read")
	referenceBuildCmd.Flags().StringVar(&referenceOut, "out", "reference.yaml",
		"Snapshot file to write")
	_ = referenceBuildCmd.MarkFlagRequired("csv")

	referenceCmd.AddCommand(referenceBuildCmd)
	referenceCmd.AddCommand(referenceShowCmd)
}

// readTrainingCSV parses feature vectors from a CSV stream. A first row
// whose cells do not parse as floats is treated as a header and must
// name the features in order.
func readTrainingCSV(r io.Reader) ([]datatypes.FeatureVector, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var samples []datatypes.FeatureVector
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		line++
		if len(record) < datatypes.FeatureCount {
			return nil, fmt.Errorf("row %d: expected at least %d columns, got %d",
				line, datatypes.FeatureCount, len(record))
		}

		var values [datatypes.FeatureCount]float64
		parsed := true
		for i := 0; i < datatypes.FeatureCount; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				parsed = false
				break
			}
			values[i] = v
		}
		if !parsed {
			if line != 1 {
				return nil, fmt.Errorf("row %d: non-numeric value", line)
			}
			// Header row: verify column order instead of guessing it.
			for i, name := range datatypes.FeatureNames {
				if !strings.EqualFold(strings.TrimSpace(record[i]), name) {
					return nil, fmt.Errorf("header column %d is %q, want %q",
						i+1, record[i], name)
				}
			}
			continue
		}
		samples = append(samples, datatypes.NewFeatureVector(values))
	}
	return samples, nil
}

func runReferenceBuild(cmd *cobra.Command, args []string) error {
	f, err := os.Open(referenceCSV)
	if err != nil {
		return fmt.Errorf("opening %s: %w", referenceCSV, err)
	}
	defer f.Close()

	samples, err := readTrainingCSV(f)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("%s holds no data rows", referenceCSV)
	}

	ref, err := drift.BuildReference(samples, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("building reference: %w", err)
	}
	if err := ref.WriteFile(referenceOut); err != nil {
		return fmt.Errorf("writing %s: %w", referenceOut, err)
	}

	ux.Success(fmt.Sprintf("reference built from %d rows: %s", len(samples), referenceOut))
	return nil
}

func runReferenceShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var snap struct {
		GeneratedAt time.Time `json:"generated_at"`
		SampleCount int       `json:"sample_count"`
		Fields      []struct {
			Name   string  `json:"name"`
			Mean   float64 `json:"mean"`
			StdDev float64 `json:"std_dev"`
			Min    float64 `json:"min"`
			Max    float64 `json:"max"`
		} `json:"fields"`
	}
	if err := client.get(ctx, "/v1/data/reference-stats", &snap); err != nil {
		return err
	}

	ux.Title(fmt.Sprintf("Reference (%d samples, generated %s)",
		snap.SampleCount, snap.GeneratedAt.Format(time.RFC3339)))
	for _, f := range snap.Fields {
		ux.KeyValue(f.Name, fmt.Sprintf("mean=%.3f std=%.3f range=[%.3f, %.3f]",
			f.Mean, f.StdDev, f.Min, f.Max))
	}
	return nil
}
