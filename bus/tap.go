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

import "github.com/AleutianAI/plasmabus/plasma"

// EventKind classifies a tap event.
type EventKind uint8

const (
	// EventAdmitted: a command entered its lane.
	EventAdmitted EventKind = iota

	// EventRejected: admission failed.
	EventRejected

	// EventLaneFull: admission passed but the lane had no room.
	EventLaneFull

	// EventLineageKilled: a lineage was explicitly superseded.
	EventLineageKilled

	// EventSupersededDrop: a queued command of a killed lineage was
	// discarded at pop time.
	EventSupersededDrop

	// EventReset: an authorized reset forced the gate to Off.
	EventReset

	// EventCompleted: a consumer reported a result through Complete.
	EventCompleted
)

// String returns the lowercase event name.
func (k EventKind) String() string {
	switch k {
	case EventAdmitted:
		return "admitted"
	case EventRejected:
		return "rejected"
	case EventLaneFull:
		return "lane_full"
	case EventLineageKilled:
		return "lineage_killed"
	case EventSupersededDrop:
		return "superseded_drop"
	case EventReset:
		return "reset"
	case EventCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// Event is one entry in the bus tap: the out-of-band mirror of admission
// activity that feeds the journal and the bridge.
//
// Events are plain values sized at construction into the tap ring, so
// emitting one costs a slot store and never allocates. A full tap drops
// the event and counts the drop; the hot path never waits for a slow
// observer.
type Event struct {
	// Kind classifies the event.
	Kind EventKind

	// Command is the subject command for admission-side events. Zero for
	// EventReset and EventCompleted.
	Command Command

	// Result is the consumer report for EventCompleted. Zero otherwise.
	Result Result

	// Transition is the gate edge the attempt applied. Zero for events
	// that did not run an attempt (EventLineageKilled,
	// EventSupersededDrop, EventReset, EventCompleted).
	Transition plasma.Transition

	// Reason details EventRejected.
	Reason RejectReason

	// Lane is the lane involved, where one is.
	Lane Priority

	// Tick is the bus logical tick when the event happened.
	Tick uint64
}
