// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plasma holds the shared admission state record.
//
// State is the single point of shared mutable truth in the bus: one cache
// line of independent atomics carrying the packed SDT gate word, the
// current telemetry readings (drift angle, entropy), and the cumulative
// admission counters. Producers score payloads against it, the gate
// transition is applied to it in one CAS, and every observability surface
// reads it without locks.
//
// # Mutation paths
//
//   - UpdateFromResonance: one admission attempt. CAS loop on the packed
//     gate word; trigger_count increments only on admission.
//   - StoreObservation: telemetry input (drift angle, entropy).
//   - RecordSupersession: explicit lineage kills only.
//   - Reset: the sole exit from Latched, gated by an authz proof.
//
// # Consistency contract
//
// Each field is individually atomic; composite reads are not
// transactional. The one guarantee beyond per-field atomicity: the gate
// state and last ring strength live in one word, so reading them through
// Word() (or a Snapshot) always yields a pair written by a single
// transition.
//
// # Serialization
//
// Snapshot is the wire shape. It encodes two ways, both out-of-band:
//
//   - a fixed 40-byte little-endian binary layout with a leading schema
//     byte (MarshalBinary/UnmarshalBinary, bit-exact round trip)
//   - a versioned JSON envelope for the bridge (Serializer.Export/Import,
//     schema-major gated)
package plasma
