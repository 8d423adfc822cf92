// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command plasmabus is the operator CLI for the plasma command bus.
//
// Usage:
//
//	plasmabus serve --config plasmabus.yaml   # run the bus host
//	plasmabus demo                            # synthetic admission churn
//	plasmabus monitor                         # live TUI over a running host
//	plasmabus reset --token <hex>             # force the gate to Off
//	plasmabus snapshot                        # versioned snapshot JSON
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
