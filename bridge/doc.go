// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge mirrors bus admission activity to remote observers.
//
// The bridge has two halves. The Publisher runs next to a bus and pushes
// versioned JSON frames (admission events plus periodic plasma snapshots)
// over an outbound websocket. The Server hosts the receiving end: a
// websocket ingest endpoint that acks frames into a Mirror, plus a small
// read-only REST surface over the local bus (/v1/state, /v1/counters,
// /v1/reset, health, metrics).
//
// # Delivery Contract
//
// Best-effort, at-least-once. The publisher assigns a monotonic sequence
// per session, keeps unacked frames in a bounded outbox, and resends from
// the last acked sequence after a reconnect. When the outbox fills, the
// oldest frames are evicted and counted: a mirror wants fresh state, not
// a complete history. The Mirror deduplicates by sequence, so duplicates
// from resends collapse on the receiving side.
//
// # Hot Path Rule
//
// Nothing here touches Push or Pop. The publisher is fed from the tap
// drain (bus.DrainTap) and its own snapshot ticker; a slow or absent
// peer delays mirroring, never admission.
//
// The Mirror is a display surface only. It never feeds the evaluator, and
// nothing read from it flows back toward the bus.
package bridge
