// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import "sync/atomic"

const cacheLine = 64

// laneCounters is one lane's live counters, padded to a full cache line
// so lanes never false-share with each other.
type laneCounters struct {
	// pushed counts commands enqueued.
	pushed atomic.Uint64

	// popped counts commands delivered to the consumer. Superseded
	// discards are counted separately, never here.
	popped atomic.Uint64

	// rejected counts admission rejections.
	rejected atomic.Uint64

	// full counts pushes refused for lane capacity.
	full atomic.Uint64

	// supersededDrops counts commands discarded at pop time because
	// their lineage was killed while they were queued.
	supersededDrops atomic.Uint64

	_ [cacheLine - 40]byte
}

// LaneCounters is the read-only snapshot of one lane.
type LaneCounters struct {
	// Pushed counts commands enqueued.
	Pushed uint64 `json:"pushed"`

	// Popped counts commands delivered.
	Popped uint64 `json:"popped"`

	// Rejected counts admission rejections.
	Rejected uint64 `json:"rejected"`

	// Full counts capacity refusals.
	Full uint64 `json:"full"`

	// SupersededDrops counts pop-time discards of killed lineages.
	SupersededDrops uint64 `json:"superseded_drops"`
}

// Depth reports how many commands the counters imply are still queued.
// Advisory: the three loads underneath are not transactional.
func (c LaneCounters) Depth() uint64 {
	out := c.Popped + c.SupersededDrops
	if c.Pushed < out {
		return 0
	}
	return c.Pushed - out
}

// Counters is the read-only snapshot of the whole bus. Built from atomic
// loads without locks; fields may skew by in-flight operations.
type Counters struct {
	// Lanes is indexed by Priority.
	Lanes [laneCount]LaneCounters `json:"lanes"`

	// Tick is the logical admission tick at snapshot time.
	Tick uint64 `json:"tick"`

	// InvalidPushes counts pushes naming no known lane.
	InvalidPushes uint64 `json:"invalid_pushes"`

	// TapDropped counts tap events lost to a full tap ring.
	TapDropped uint64 `json:"tap_dropped"`

	// Completions counts consumer results mirrored through Complete.
	Completions uint64 `json:"completions"`

	// LineageEvictions counts supersession marks overwritten by newer
	// marks in the fixed-capacity lineage set.
	LineageEvictions uint64 `json:"lineage_evictions"`
}

// snapshot reads one lane's counters.
func (c *laneCounters) snapshot() LaneCounters {
	return LaneCounters{
		Pushed:          c.pushed.Load(),
		Popped:          c.popped.Load(),
		Rejected:        c.rejected.Load(),
		Full:            c.full.Load(),
		SupersededDrops: c.supersededDrops.Load(),
	}
}
