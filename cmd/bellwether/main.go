// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bellwether is the operator CLI for a running serving instance.
// It talks to the HTTP API; the service binary itself lives under
// services/serving.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Bellwether/pkg/ux"
)

// --- Global Command Flags ---
var (
	serverURL      string
	apiKey         string
	requestTimeout time.Duration
	plainOutput    bool

	rootCmd = &cobra.Command{
		Use:   "bellwether",
		Short: "Operate a Bellwether model-serving instance",
		Long: `Bellwether is the operator CLI for the serving service: inspect
drift and A/B state, reload or unload models, reconfigure traffic
splits, and build drift reference snapshots from training data.

The server address and API key come from --server/--api-key or the
BELLWETHER_SERVER and BELLWETHER_API_KEY environment variables.
Privileged operations (reload, unload, configure, analyze) need a key
with the privileged scope.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainOutput {
				ux.SetMachineOutput(true)
			}
		},
	}
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("BELLWETHER_SERVER", "http://localhost:12310"),
		"Base URL of the serving API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key",
		os.Getenv("BELLWETHER_API_KEY"),
		"API key sent in the X-API-Key header")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout",
		10*time.Second, "Per-request HTTP timeout")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Plain prefixed output for scripting")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(abCmd)
	rootCmd.AddCommand(referenceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
