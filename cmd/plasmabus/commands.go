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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/plasmabus/pkg/ux"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	serveConfigPath string
	serveSession    string

	demoCommands  int
	demoProducers int
	demoPreset    string
	demoSession   string
	demoJournal   string

	monitorAddr     string
	monitorInterval time.Duration

	resetAddr  string
	resetToken string
	resetYes   bool

	snapshotAddr string

	rootCmd = &cobra.Command{
		Use:   "plasmabus",
		Short: "A lock-free priority command bus gated by plasma physics",
		Long: `Plasmabus hosts and inspects the plasma command bus: priority lanes,
a shared atomic plasma state, and a thyristor-style admission gate
that opens under crystal resonance and latches under sustained load.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the bus host: journal, bridge server, telemetry",
		Run:   runServeCommand, // Defined in cmd_serve.go
	}

	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Drive synthetic command churn and print admission outcomes",
		Run:   runDemoCommand, // Defined in cmd_demo.go
	}

	monitorCmd = &cobra.Command{
		Use:   "monitor",
		Short: "Live terminal view of a running bus host",
		Run:   runMonitorCommand, // Defined in cmd_monitor.go
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Force the gate of a running host to Off (requires the reset token)",
		Run:   runResetCommand, // Defined in cmd_reset.go
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the versioned snapshot envelope from a running host",
		Run:   runSnapshotCommand, // Defined in cmd_snapshot.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "",
		"Path to the YAML config file (default: built-in defaults plus PLASMABUS_* env)")
	serveCmd.Flags().StringVar(&serveSession, "session", "",
		"Override the journal session id from the config file")

	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntVar(&demoCommands, "commands", 200,
		"Total commands to push across all producers")
	demoCmd.Flags().IntVar(&demoProducers, "producers", 4,
		"Concurrent producer goroutines")
	demoCmd.Flags().StringVar(&demoPreset, "preset", "adaptive",
		"Lead resonance family: orbital, ground_station, tar_pit, silent, or adaptive")
	demoCmd.Flags().StringVar(&demoSession, "session", "demo",
		"Session id for the demo journal")
	demoCmd.Flags().StringVar(&demoJournal, "journal", "",
		"Journal the demo run into this directory (empty: in-memory journal)")

	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "http://127.0.0.1:8081",
		"Base URL of the bus host's bridge server")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second,
		"Poll interval for the live view")

	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().StringVar(&resetAddr, "addr", "http://127.0.0.1:8081",
		"Base URL of the bus host's bridge server")
	resetCmd.Flags().StringVar(&resetToken, "token", "",
		"Hex reset token (default: PLASMABUS_RESET_TOKEN)")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false,
		"Skip the interactive confirmation")

	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVar(&snapshotAddr, "addr", "http://127.0.0.1:8081",
		"Base URL of the bus host's bridge server")
}
