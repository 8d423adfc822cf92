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

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/plasmabus/pkg/ux"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runResetCommand forces a remote gate to Off.
//
// # Description
//
// The sole exit from a latched gate. The token comes from --token or
// PLASMABUS_RESET_TOKEN; interactive sessions confirm before sending,
// non-interactive sessions must pass --yes. Queued commands survive a
// reset; only the gate state and plasma record are cleared.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Limitations
//
//   - Exits with code 1 on missing token, refused reset, or unreachable
//     host
func runResetCommand(cmd *cobra.Command, args []string) {
	token, err := resolveResetToken(resetToken)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	if !resetYes {
		if !ux.IsInteractive() {
			ux.Error("Refusing to reset without --yes in a non-interactive session")
			os.Exit(1)
		}
		confirmed, err := confirmReset(resetAddr)
		if err != nil {
			ux.Error(fmt.Sprintf("Prompt failed: %v", err))
			os.Exit(1)
		}
		if !confirmed {
			ux.Info("Reset cancelled")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := newBridgeClient(resetAddr).Reset(ctx, token)
	if err != nil {
		ux.Error(fmt.Sprintf("Reset refused: %v", err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Gate reset on %s (state: %s)", resetAddr, resp.GateState))
}

// resolveResetToken prefers the flag over the environment.
func resolveResetToken(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(resetTokenEnv); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no reset token: pass --token or set %s", resetTokenEnv)
}

// confirmReset asks before the only mutating call the CLI can make.
func confirmReset(addr string) (bool, error) {
	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Force the gate to Off?").
			Description(fmt.Sprintf(
				"The bus at %s keeps its queued commands; the gate state and plasma record reset.", addr)).
			Affirmative("Reset").
			Negative("Cancel").
			Value(&confirmed),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}
