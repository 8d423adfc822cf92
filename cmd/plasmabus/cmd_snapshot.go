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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/plasmabus/pkg/ux"
	"github.com/AleutianAI/plasmabus/plasma"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runSnapshotCommand fetches and prints a host's versioned snapshot.
//
// # Description
//
// Pulls the envelope from /v1/state/export, validates it through the
// same import path a restoring peer would use (schema compatibility,
// field ranges), and prints it as indented JSON on stdout. Errors go
// to stderr so the JSON stays pipeable.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Limitations
//
//   - Exits with code 1 on an unreachable host or a rejected envelope
func runSnapshotCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, err := newBridgeClient(snapshotAddr).Export(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("Export fetch failed: %v", err))
		os.Exit(1)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	env, err := plasma.NewSerializer(quiet).Import(ctx, data)
	if err != nil {
		ux.Error(fmt.Sprintf("Envelope rejected: %v", err))
		os.Exit(1)
	}

	pretty, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		ux.Error(fmt.Sprintf("Render failed: %v", err))
		os.Exit(1)
	}
	fmt.Println(string(pretty))

	captured := time.UnixMilli(env.CapturedAt).UTC().Format(time.RFC3339)
	ux.Muted(fmt.Sprintf("session %s  export #%d  captured %s  gate %s",
		env.Session, env.Sequence, captured, env.Snapshot.SDTState))
}
