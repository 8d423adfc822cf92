// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/plasma"
)

// Frame kinds on the wire.
const (
	// FrameKindEvent carries one projected tap event.
	FrameKindEvent = "event"

	// FrameKindSnapshot carries a full plasma snapshot.
	FrameKindSnapshot = "snapshot"
)

var (
	// ErrFrameInvalid means a frame is structurally unusable.
	ErrFrameInvalid = errors.New("bridge: frame invalid")

	// ErrSchemaMismatch means the frame's schema major version differs
	// from this build's.
	ErrSchemaMismatch = errors.New("bridge: incompatible frame schema")

	errNilContext = errors.New("context must not be nil")
)

// Frame is the versioned wire envelope for one bridge message.
//
// Frames share the plasma envelope schema tag: fields may be appended
// within a major version, and a peer speaking a different major is
// refused.
type Frame struct {
	// Schema is the semver layout tag, e.g. "v1.0.0".
	Schema string `json:"schema"`

	// Session identifies the publishing process (UUID string).
	Session string `json:"session"`

	// Seq increments per frame within one session, starting at 1.
	Seq uint64 `json:"seq"`

	// Kind is FrameKindEvent or FrameKindSnapshot.
	Kind string `json:"kind"`

	// CapturedAt is when the frame was built (Unix milliseconds UTC).
	CapturedAt int64 `json:"captured_at"`

	// Event is set for FrameKindEvent.
	Event *EventFrame `json:"event,omitempty"`

	// Snapshot is set for FrameKindSnapshot.
	Snapshot *plasma.Snapshot `json:"snapshot,omitempty"`
}

// EventFrame is the display-shaped projection of a tap event. Enums
// travel as their lowercase names so a mirror renders frames without
// importing the bus's numeric values.
type EventFrame struct {
	// Kind is the event kind name ("admitted", "rejected", ...).
	Kind string `json:"kind"`

	// CommandID is the subject command's UUID, where one exists.
	CommandID string `json:"command_id,omitempty"`

	// Lane is the lane name.
	Lane string `json:"lane"`

	// Reason details rejections.
	Reason string `json:"reason,omitempty"`

	// Status details completions.
	Status string `json:"status,omitempty"`

	// From and To are the gate edge the attempt applied.
	From string `json:"from"`
	To   string `json:"to"`

	// Strength is the resonance strength of the attempt.
	Strength float32 `json:"strength"`

	// Admitted reports whether the attempt admitted.
	Admitted bool `json:"admitted"`

	// Drought marks a drought-forced gate reset.
	Drought bool `json:"drought,omitempty"`

	// Tick is the bus logical tick of the event.
	Tick uint64 `json:"tick"`
}

// NewEventFrame projects a bus tap event into its wire shape.
func NewEventFrame(ev bus.Event) EventFrame {
	f := EventFrame{
		Kind:     ev.Kind.String(),
		Lane:     ev.Lane.String(),
		From:     ev.Transition.From.String(),
		To:       ev.Transition.To.String(),
		Strength: ev.Transition.Strength,
		Admitted: ev.Transition.Admitted,
		Drought:  ev.Transition.Drought,
		Tick:     ev.Tick,
	}

	if ev.Command.ID != uuid.Nil {
		f.CommandID = ev.Command.ID.String()
	}

	switch ev.Kind {
	case bus.EventCompleted:
		f.CommandID = ev.Result.CommandID.String()
		f.Status = ev.Result.Status.String()
	case bus.EventRejected:
		f.Reason = ev.Reason.String()
	}

	return f
}

// Ack confirms receipt of every frame up to and including Seq.
type Ack struct {
	Seq uint64 `json:"seq"`
}

// Validate checks the frame against this build's schema and shape.
//
// Minor and patch differences are accepted so peers can append fields; a
// different major is refused with ErrSchemaMismatch.
func (f Frame) Validate() error {
	if !semver.IsValid(f.Schema) {
		return fmt.Errorf("%w: malformed schema tag %q", ErrFrameInvalid, f.Schema)
	}
	if semver.Major(f.Schema) != semver.Major(plasma.SchemaVersion) {
		return fmt.Errorf("%w: frame %s, host %s", ErrSchemaMismatch, f.Schema, plasma.SchemaVersion)
	}
	if f.Session == "" {
		return fmt.Errorf("%w: empty session", ErrFrameInvalid)
	}
	if f.Seq == 0 {
		return fmt.Errorf("%w: zero sequence", ErrFrameInvalid)
	}

	switch f.Kind {
	case FrameKindEvent:
		if f.Event == nil {
			return fmt.Errorf("%w: event frame without event body", ErrFrameInvalid)
		}
	case FrameKindSnapshot:
		if f.Snapshot == nil {
			return fmt.Errorf("%w: snapshot frame without snapshot body", ErrFrameInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrFrameInvalid, f.Kind)
	}

	return nil
}
