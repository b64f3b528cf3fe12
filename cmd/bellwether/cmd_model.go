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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Bellwether/pkg/ux"
	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

var (
	reloadRole  string
	reloadAlias string
	queryRole   string

	modelCmd = &cobra.Command{
		Use:   "model",
		Short: "Inspect and manage the loaded model slots",
	}

	modelReloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Load or refresh a model slot from the registry (privileged)",
		Long: `Reload resolves the slot's alias in the registry and atomically swaps
the new model in; in-flight predictions finish on the old one.

Without flags the champion reloads from its current alias. Pass
--role challenger --alias <alias> to introduce or refresh a challenger.`,
		Args: cobra.NoArgs,
		RunE: runModelReload,
	}

	modelUnloadCmd = &cobra.Command{
		Use:   "unload",
		Short: "Unload the challenger slot (privileged)",
		Args:  cobra.NoArgs,
		RunE:  runModelUnload,
	}

	modelMetadataCmd = &cobra.Command{
		Use:   "metadata",
		Short: "Show the identity of the loaded slots",
		Args:  cobra.NoArgs,
		RunE:  runModelMetadata,
	}

	modelImportanceCmd = &cobra.Command{
		Use:   "importance",
		Short: "Show per-feature importance for a slot",
		Args:  cobra.NoArgs,
		RunE:  runModelImportance,
	}
)

func init() {
	modelReloadCmd.Flags().StringVar(&reloadRole, "role", "",
		"Slot to reload (champion or challenger; default champion)")
	modelReloadCmd.Flags().StringVar(&reloadAlias, "alias", "",
		"Registry alias to resolve (default: the slot's current alias)")
	modelImportanceCmd.Flags().StringVar(&queryRole, "role", datatypes.RoleChampion,
		"Slot to inspect (champion or challenger)")

	modelCmd.AddCommand(modelReloadCmd)
	modelCmd.AddCommand(modelUnloadCmd)
	modelCmd.AddCommand(modelMetadataCmd)
	modelCmd.AddCommand(modelImportanceCmd)
}

func runModelReload(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var body any
	if reloadRole != "" || reloadAlias != "" {
		body = datatypes.ReloadRequest{Role: reloadRole, Alias: reloadAlias}
	}

	var resp struct {
		Status          string `json:"status"`
		Role            string `json:"role"`
		Alias           string `json:"alias"`
		PreviousVersion string `json:"previous_version"`
		CurrentVersion  string `json:"current_version"`
	}
	if err := client.post(ctx, "/v1/model/reload", body, &resp); err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("%s reloaded: %s@%s", resp.Role, resp.Alias, resp.CurrentVersion))
	if resp.PreviousVersion != "" && resp.PreviousVersion != resp.CurrentVersion {
		ux.Muted("previous version was " + resp.PreviousVersion)
	}
	return nil
}

func runModelUnload(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	body := datatypes.UnloadRequest{Role: datatypes.RoleChallenger}
	var resp struct {
		Status   string        `json:"status"`
		Unloaded modelMetaView `json:"unloaded"`
	}
	if err := client.post(ctx, "/v1/model/unload", body, &resp); err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("challenger unloaded: %s@%s", resp.Unloaded.Alias, resp.Unloaded.Version))
	return nil
}

func runModelMetadata(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var resp struct {
		Champion   *modelMetaView `json:"champion"`
		Challenger *modelMetaView `json:"challenger"`
	}
	if err := client.get(ctx, "/v1/model/metadata", &resp); err != nil {
		return err
	}

	renderModel("champion", resp.Champion)
	renderModel("challenger", resp.Challenger)
	return nil
}

func runModelImportance(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var resp struct {
		Role         string             `json:"role"`
		ModelVersion string             `json:"model_version"`
		Importance   map[string]float64 `json:"feature_importance"`
	}
	path := "/v1/model/feature-importance?role=" + queryRole
	if err := client.get(ctx, path, &resp); err != nil {
		return err
	}

	ux.Title(fmt.Sprintf("%s (version %s)", resp.Role, resp.ModelVersion))
	names := make([]string, 0, len(resp.Importance))
	for name := range resp.Importance {
		names = append(names, name)
	}
	// Highest weight first, names break ties.
	sort.Slice(names, func(i, j int) bool {
		if resp.Importance[names[i]] != resp.Importance[names[j]] {
			return resp.Importance[names[i]] > resp.Importance[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		ux.KeyValue(name, fmt.Sprintf("%.4f", resp.Importance[name]))
	}
	return nil
}
