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
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/pkg/ux"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runMonitorCommand opens the live dashboard against a running host.
//
// # Description
//
// Interactive terminals get the full-screen bubbletea dashboard; pipes
// and machine personality get a single plain-text poll, so the command
// composes in scripts.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Limitations
//
//   - Exits with code 1 when the host is unreachable (single-poll mode)
//     or the terminal program fails
func runMonitorCommand(cmd *cobra.Command, args []string) {
	if monitorInterval < 100*time.Millisecond {
		monitorInterval = 100 * time.Millisecond
	}
	client := newBridgeClient(monitorAddr)

	if !ux.IsInteractive() {
		pollOnce(client)
		return
	}

	program := tea.NewProgram(newMonitorModel(client, monitorInterval), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		ux.Error(fmt.Sprintf("Monitor failed: %v", err))
		os.Exit(1)
	}
}

// pollOnce prints one dashboard sample as plain lines.
func pollOnce(client *bridgeClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := client.State(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("Host unreachable: %v", err))
		os.Exit(1)
	}
	counters, err := client.Counters(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("Counters fetch failed: %v", err))
		os.Exit(1)
	}

	ux.Info(fmt.Sprintf("gate=%s strength=%.2f excited=%t entropy=%d triggers=%d supersessions=%d tick=%d",
		snap.SDTState, snap.LastRingStrength, snap.Excited, snap.Entropy,
		snap.TriggerCount, snap.SupersessionCount, counters.Tick))
	for p := bus.Critical; p <= bus.Normal; p++ {
		lane := counters.Lanes[p]
		ux.Info(fmt.Sprintf("lane=%s depth=%d pushed=%d popped=%d rejected=%d full=%d drops=%d",
			p, lane.Depth(), lane.Pushed, lane.Popped, lane.Rejected,
			lane.Full, lane.SupersededDrops))
	}

	mirror, err := client.MirrorState(ctx)
	if err != nil {
		ux.Warning(fmt.Sprintf("Mirror fetch failed: %v", err))
		return
	}
	if mirror == nil {
		ux.Muted("mirror: no peer connected")
		return
	}
	ux.Info(fmt.Sprintf("mirror peer=%s seq=%d gate=%s",
		mirror.Session, mirror.Seq, mirror.Snapshot.SDTState))
}
