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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Bellwether/pkg/ux"
	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

var (
	abSplit   float64
	abEnable  bool
	abDisable bool

	abCmd = &cobra.Command{
		Use:   "ab",
		Short: "Inspect and configure champion/challenger traffic routing",
	}

	abStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the current routing state and loaded slots",
		Args:  cobra.NoArgs,
		RunE:  runABStatus,
	}

	abConfigureCmd = &cobra.Command{
		Use:   "configure",
		Short: "Change the traffic split or toggle the experiment (privileged)",
		Long: `Configure updates the challenger traffic fraction and/or the
experiment toggle. Omitted flags leave the current value in place.
A split only takes effect while a challenger is loaded; until then
all traffic stays on the champion.`,
		Args: cobra.NoArgs,
		RunE: runABConfigure,
	}
)

func init() {
	abConfigureCmd.Flags().Float64Var(&abSplit, "split", -1,
		"Fraction of traffic routed to the challenger, 0 to 1")
	abConfigureCmd.Flags().BoolVar(&abEnable, "enable", false,
		"Enable challenger routing")
	abConfigureCmd.Flags().BoolVar(&abDisable, "disable", false,
		"Disable challenger routing (all traffic to champion)")
	abConfigureCmd.MarkFlagsMutuallyExclusive("enable", "disable")

	abCmd.AddCommand(abStatusCmd)
	abCmd.AddCommand(abConfigureCmd)
}

func runABStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var ab abStatusView
	if err := client.get(ctx, "/v1/ab/status", &ab); err != nil {
		return err
	}

	ux.KeyValue("split", fmt.Sprintf("%.2f", ab.Router.Split))
	ux.KeyValue("enabled", strconv.FormatBool(ab.Router.Enabled))
	ux.KeyValue("active", strconv.FormatBool(ab.Router.Active))
	ux.KeyValue("challenger_loaded", strconv.FormatBool(ab.Router.ChallengerLoaded))
	renderModel("champion", ab.Champion)
	renderModel("challenger", ab.Challenger)
	return nil
}

func runABConfigure(cmd *cobra.Command, args []string) error {
	var req datatypes.SplitConfigRequest
	if cmd.Flags().Changed("split") {
		if abSplit < 0 || abSplit > 1 {
			return fmt.Errorf("--split must be between 0 and 1, got %v", abSplit)
		}
		req.TrafficSplit = &abSplit
	}
	if abEnable {
		v := true
		req.Enabled = &v
	}
	if abDisable {
		v := false
		req.Enabled = &v
	}
	if req.TrafficSplit == nil && req.Enabled == nil {
		return fmt.Errorf("nothing to configure: pass --split, --enable, or --disable")
	}

	ctx, cancel := commandContext()
	defer cancel()
	client := newClient()

	var resp struct {
		Status string `json:"status"`
		Router struct {
			Split   float64 `json:"split"`
			Enabled bool    `json:"enabled"`
			Active  bool    `json:"active"`
		} `json:"router"`
	}
	if err := client.post(ctx, "/v1/ab/configure", req, &resp); err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("routing configured: split=%.2f enabled=%t active=%t",
		resp.Router.Split, resp.Router.Enabled, resp.Router.Active))
	return nil
}
