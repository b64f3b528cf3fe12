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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Bellwether/pkg/ux"
	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

// verdictView mirrors the drift verdict the API returns. Only fields
// the CLI renders are listed.
type verdictView struct {
	Status          string             `json:"status"`
	DriftDetected   bool               `json:"drift_detected"`
	DriftedColumns  []string           `json:"drifted_columns"`
	SamplesAnalyzed int                `json:"samples_analyzed"`
	Timestamp       time.Time          `json:"timestamp"`
	Epoch           uint64             `json:"epoch"`
	Trigger         string             `json:"trigger"`
	Comparator      string             `json:"comparator"`
	FieldScores     map[string]float64 `json:"field_scores"`
}

type abStatusView struct {
	Router struct {
		Split            float64 `json:"split"`
		Enabled          bool    `json:"enabled"`
		Active           bool    `json:"active"`
		ChallengerLoaded bool    `json:"challenger_loaded"`
	} `json:"router"`
	Champion   *modelMetaView `json:"champion"`
	Challenger *modelMetaView `json:"challenger"`
}

type modelMetaView struct {
	Name     string    `json:"model_name"`
	Alias    string    `json:"alias"`
	Version  string    `json:"version"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service health, drift verdict, and A/B routing state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent drift verdicts, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze",
		Short: "Force a drift analysis pass on the current buffer (privileged)",
		Args:  cobra.NoArgs,
		RunE:  runAnalyze,
	}
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10,
		"Maximum number of verdicts to show")
}

// severityBand grades a verdict by the fraction of drifted fields.
// The API reports the raw verdict only; this banding is presentation.
func severityBand(drifted int) string {
	frac := float64(drifted) / float64(datatypes.FeatureCount)
	switch {
	case drifted == 0:
		return "none"
	case frac < 1.0/3.0:
		return "low"
	case frac < 2.0/3.0:
		return "medium"
	default:
		return "high"
	}
}

func renderVerdict(v verdictView) {
	icon := ux.StatusIcon(v.Status)
	ux.KeyValue("status", fmt.Sprintf("%s %s", icon.Render(), v.Status))
	if v.Status == "no_analysis" || v.Status == "disabled" {
		return
	}
	ux.KeyValue("severity", severityBand(len(v.DriftedColumns)))
	ux.KeyValue("samples", strconv.Itoa(v.SamplesAnalyzed))
	ux.KeyValue("trigger", v.Trigger)
	ux.KeyValue("comparator", v.Comparator)
	ux.KeyValue("epoch", strconv.FormatUint(v.Epoch, 10))
	if !v.Timestamp.IsZero() {
		ux.KeyValue("analyzed_at", v.Timestamp.Format(time.RFC3339))
	}
	if len(v.DriftedColumns) > 0 {
		cols := append([]string(nil), v.DriftedColumns...)
		sort.Strings(cols)
		ux.KeyValue("drifted_columns", strings.Join(cols, ", "))
		for _, name := range cols {
			if score, ok := v.FieldScores[name]; ok {
				ux.KeyValue("  "+name, fmt.Sprintf("%.4f", score))
			}
		}
	}
}

func renderModel(role string, meta *modelMetaView) {
	if meta == nil {
		ux.KeyValue(role, "not loaded")
		return
	}
	ux.KeyValue(role, fmt.Sprintf("%s@%s (%s)", meta.Alias, meta.Version, meta.Source))
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var health struct {
		Status       string `json:"status"`
		ModelVersion string `json:"model_version"`
	}
	if err := client.get(ctx, "/health", &health); err != nil {
		return err
	}

	ux.Title("Service")
	ux.KeyValue("health", fmt.Sprintf("%s %s", ux.StatusIcon(health.Status).Render(), health.Status))
	ux.KeyValue("champion_version", health.ModelVersion)

	var verdict verdictView
	if err := client.get(ctx, "/v1/monitoring/drift-status", &verdict); err != nil {
		return err
	}
	ux.Title("Drift")
	renderVerdict(verdict)

	var ab abStatusView
	if err := client.get(ctx, "/v1/ab/status", &ab); err != nil {
		return err
	}
	ux.Title("Routing")
	ux.KeyValue("split", fmt.Sprintf("%.2f", ab.Router.Split))
	ux.KeyValue("enabled", strconv.FormatBool(ab.Router.Enabled))
	ux.KeyValue("active", strconv.FormatBool(ab.Router.Active))
	renderModel("champion", ab.Champion)
	renderModel("challenger", ab.Challenger)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var resp struct {
		Verdicts []verdictView `json:"verdicts"`
		Count    int           `json:"count"`
	}
	path := fmt.Sprintf("/v1/monitoring/drift-history?limit=%d", historyLimit)
	if err := client.get(ctx, path, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		ux.Info("no analysis runs recorded yet")
		return nil
	}
	for _, v := range resp.Verdicts {
		line := fmt.Sprintf("%s  epoch=%d  samples=%d  trigger=%s  severity=%s",
			v.Timestamp.Format(time.RFC3339), v.Epoch, v.SamplesAnalyzed,
			v.Trigger, severityBand(len(v.DriftedColumns)))
		if v.DriftDetected {
			ux.Warning(line + "  " + strings.Join(v.DriftedColumns, ","))
		} else {
			ux.Info(line)
		}
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var resp struct {
		Skipped bool         `json:"skipped"`
		Reason  string       `json:"reason,omitempty"`
		Verdict *verdictView `json:"verdict"`
	}
	if err := client.post(ctx, "/v1/monitoring/drift/analyze", nil, &resp); err != nil {
		return err
	}

	if resp.Skipped {
		ux.Warning("analysis skipped: " + resp.Reason)
		return nil
	}
	ux.Success("analysis complete")
	if resp.Verdict != nil {
		renderVerdict(*resp.Verdict)
	}
	return nil
}
