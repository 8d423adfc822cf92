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

import (
	"github.com/google/uuid"

	"github.com/AleutianAI/plasmabus/gate"
)

// ==============================================================================
// Priority
// ==============================================================================

// Priority selects the lane a command travels in. Lower values drain
// first.
type Priority uint8

const (
	// Critical commands preempt everything else.
	Critical Priority = iota

	// Urgent commands drain after Critical.
	Urgent

	// Normal is the default lane. The anti-starvation quota guarantees it
	// drains within a bounded number of pops even under sustained
	// Critical load.
	Normal

	laneCount = iota
)

// String returns the lowercase lane name.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case Urgent:
		return "urgent"
	case Normal:
		return "normal"
	default:
		return "invalid"
	}
}

// IsValid reports whether p names one of the three lanes.
func (p Priority) IsValid() bool {
	return p < laneCount
}

// ==============================================================================
// Command / Result
// ==============================================================================

// Command is the unit of work the bus admits and queues.
//
// The payload is opaque to the bus: admission looks at its bytes (hash
// fingerprint, byte-level semantic rules) but never interprets them. The
// bus stores the slice header as-is; producers must not mutate the
// payload after a successful push.
type Command struct {
	// ID is the command's 128-bit identity and its lineage id.
	ID uuid.UUID `json:"id"`

	// Priority selects the lane.
	Priority Priority `json:"priority"`

	// Payload is the opaque command body.
	Payload []byte `json:"payload"`

	// ParentLineage names the command this one supersedes. The zero UUID
	// means none. Admission of a command with a parent kills the parent's
	// lineage on entry.
	ParentLineage uuid.UUID `json:"parent_lineage"`

	// CreatedTick is the producer's logical tick at creation.
	CreatedTick uint64 `json:"created_tick"`
}

// Status classifies a consumer-reported outcome.
type Status uint8

const (
	// StatusOk means the consumer executed the command successfully.
	StatusOk Status = iota

	// StatusErr means execution failed.
	StatusErr

	// StatusSuperseded means the command was discarded because its
	// lineage was killed while it was queued.
	StatusSuperseded

	statusCount = iota
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusErr:
		return "err"
	case StatusSuperseded:
		return "superseded"
	default:
		return "invalid"
	}
}

// IsValid reports whether s is a defined status.
func (s Status) IsValid() bool {
	return s < statusCount
}

// Result is the wire shape consumers use to report what a popped command
// did. The bus never executes payloads; Complete mirrors results to the
// tap for the journal and bridge, nothing more.
type Result struct {
	// CommandID names the command this result is for.
	CommandID uuid.UUID `json:"command_id"`

	// Status classifies the outcome.
	Status Status `json:"status"`

	// Payload is the opaque result body, if any.
	Payload []byte `json:"payload"`

	// Tick is the consumer's logical tick at completion.
	Tick uint64 `json:"tick"`
}

// ==============================================================================
// Push receipt
// ==============================================================================

// Outcome is the top-level push result.
type Outcome uint8

const (
	// Enqueued means the command was admitted and now sits in its lane.
	Enqueued Outcome = iota

	// Rejected means admission failed; Reason carries the detail.
	Rejected

	// LaneFull means the command was admitted but its lane had no room.
	// Backpressure is explicit: the push never blocks, and retry policy
	// belongs to the caller.
	LaneFull
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case Enqueued:
		return "enqueued"
	case Rejected:
		return "rejected"
	case LaneFull:
		return "lane_full"
	default:
		return "invalid"
	}
}

// RejectReason details a Rejected outcome.
type RejectReason uint8

const (
	// ReasonNone accompanies non-Rejected outcomes.
	ReasonNone RejectReason = iota

	// ReasonBelowGate means the post-transition state does not admit:
	// the score did not clear the gate threshold, or an anode drop closed
	// the gate on this attempt. Retryable only if the payload can score
	// higher later.
	ReasonBelowGate

	// ReasonEntropyDrought means a sustained low-entropy window forced
	// the gate closed regardless of the score. Retryable once entropy
	// recovers.
	ReasonEntropyDrought

	// ReasonVoteFailed means the gate admitted but the polycrystal or
	// semantic vote did not pass. Never raised while Latched.
	ReasonVoteFailed

	// ReasonInvalidPriority means the command named no known lane.
	ReasonInvalidPriority
)

// String returns the lowercase reason name.
func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonBelowGate:
		return "below_gate"
	case ReasonEntropyDrought:
		return "entropy_drought"
	case ReasonVoteFailed:
		return "vote_failed"
	case ReasonInvalidPriority:
		return "invalid_priority"
	default:
		return "invalid"
	}
}

// Retryable reports whether a caller may reasonably retry the same
// payload. Drought closures clear on their own; a payload that scores
// below the gate will score the same forever unless the environment
// moves.
func (r RejectReason) Retryable() bool {
	return r == ReasonEntropyDrought
}

// PushReceipt reports what one push did.
type PushReceipt struct {
	// Outcome is the top-level result.
	Outcome Outcome

	// Reason details a Rejected outcome; ReasonNone otherwise.
	Reason RejectReason

	// Lane is the lane the command targeted.
	Lane Priority

	// Strength is the ring strength this attempt recorded.
	Strength float32

	// State is the post-transition gate state.
	State gate.State
}
