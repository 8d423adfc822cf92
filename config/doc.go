// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads, validates, and hot-reloads the plasmabus
// configuration file.
//
// Configuration merges three layers, later layers winning:
//
//  1. DefaultConfig() — the documented defaults
//  2. the YAML file, when one exists
//  3. PLASMABUS_* environment variables
//
// Every violation is caught at Load time and wrapped in
// ErrInvalidConfig; nothing is deferred to the bus hot path. The
// YAML-facing sections convert into component configurations through
// To* methods (ToBusConfig, ToJournalConfig, ToPublisherConfig, ...),
// which is also where preset names and policy strings resolve into
// their crystal types.
//
// Watcher re-runs the same Load pipeline when the file changes on
// disk, debounced, and hands each valid result to a ReloadHandler.
// RetuneHandler adapts a bus so a reload swaps in a freshly built
// polycrystal; an invalid file is logged and ignored, leaving the
// running configuration untouched.
package config
