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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/cmd/kodiak/config"
	"github.com/AleutianAI/kodiak/pkg/ux"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	sessionID        string // conversation session for ask
	watchTask        bool   // live task view for run
	noPlan           bool   // skip hierarchical planning output in run

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A cli for the Kodiak autonomous assistant",
		Long: `Kodiak is a local-first autonomous assistant: single-turn
questions, continuous background tasks with hierarchical planning,
and an HTTP gateway for other tools to build on.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			return config.Load()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the kodiak version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP gateway",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the assistant a single question",
		RunE:  runAsk, // Defined in cmd_ask.go
	}

	runCmd = &cobra.Command{
		Use:   "run [task]",
		Short: "Run a continuous task until completion or the iteration limit",
		RunE:  runTask, // Defined in cmd_run.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine")

	askCmd.Flags().StringVar(&sessionID, "session", "",
		"Persist the exchange under this session id")

	runCmd.Flags().BoolVar(&watchTask, "watch", false,
		"Show a live view of the running task")
	runCmd.Flags().BoolVar(&noPlan, "no-plan", false,
		"Do not print the hierarchical plan")

	rootCmd.AddCommand(versionCmd, serveCmd, askCmd, runCmd)
}
