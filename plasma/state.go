// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plasma

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/plasmabus/authz"
	"github.com/AleutianAI/plasmabus/crystal"
	"github.com/AleutianAI/plasmabus/gate"
)

// ErrUnauthorizedReset is returned when Reset is called without a valid
// authorization proof. The state is guaranteed untouched.
var ErrUnauthorizedReset = fmt.Errorf("plasma: unauthorized reset: %w", authz.ErrUnauthorized)

// ==============================================================================
// State
// ==============================================================================

// State is the shared record of recent admission activity.
//
// # Description
//
//	State occupies exactly one cache line (64 bytes, asserted by test) so
//	concurrent producers and consumers touching different fields still hit
//	one line and never false-share with neighboring allocations when
//	embedded padded. Every field is an independent atomic; there is no
//	mutex anywhere in this type.
//
//	The gate word packs the SDT state together with the last ring strength
//	so one CAS applies a whole transition. The remaining fields are plain
//	atomic loads/stores.
//
// # Thread Safety
//
//	Safe for any number of concurrent readers and writers. Composite reads
//	(Snapshot, or any two accessors called back to back) are NOT
//	transactional: fields may skew by a few updates relative to each
//	other. Callers accept last-known-value semantics.
type State struct {
	// word packs the SDT state and last ring strength (gate.Word).
	word atomic.Uint64

	// lastTriggerTick is the logical tick of the most recent admission.
	lastTriggerTick atomic.Uint64

	// lastWetTick is the most recent tick at which entropy was at or above
	// the drought threshold. Internal to drought detection; not part of
	// the wire snapshot.
	lastWetTick atomic.Uint64

	// deltaAngle holds the current drift angle (u16 range, 0-65535 maps
	// to 0-360 degrees). Stored in a Uint32 because sync/atomic has no
	// 16-bit type.
	deltaAngle atomic.Uint32

	// entropy is the current environmental entropy reading.
	entropy atomic.Uint32

	// excited mirrors the gate: true while the post-transition state
	// admits (Conducting or Latched).
	excited atomic.Bool

	// triggerCount counts successful admissions. Never incremented on
	// rejection.
	triggerCount atomic.Uint32

	// supersession counts explicit lineage kills. Never incremented on
	// ordinary rejection.
	supersession atomic.Uint32

	_ [20]byte
}

// ------------------------------------------------------------------------------
// Read accessors (lock-free atomic loads)
// ------------------------------------------------------------------------------

// DeltaAngleRaw returns the current drift angle in raw u16 units.
func (s *State) DeltaAngleRaw() uint16 { return uint16(s.deltaAngle.Load()) }

// EntropyRaw returns the current entropy reading.
func (s *State) EntropyRaw() uint32 { return s.entropy.Load() }

// Excited reports whether the gate currently admits.
func (s *State) Excited() bool { return s.excited.Load() }

// Word returns the packed gate word. State and strength read through the
// same word are mutually consistent (they were written by one CAS).
func (s *State) Word() gate.Word { return gate.Word(s.word.Load()) }

// SDTState returns the current gate state.
func (s *State) SDTState() gate.State { return s.Word().State() }

// LastRingStrength returns the strength recorded by the most recent
// admission attempt.
func (s *State) LastRingStrength() float32 { return s.Word().Strength() }

// TriggerCount returns the number of admissions so far.
func (s *State) TriggerCount() uint32 { return s.triggerCount.Load() }

// SupersessionCount returns the number of explicit lineage kills so far.
func (s *State) SupersessionCount() uint32 { return s.supersession.Load() }

// LastTriggerTick returns the logical tick of the most recent admission.
func (s *State) LastTriggerTick() uint64 { return s.lastTriggerTick.Load() }

// Snapshot returns the wire-shaped view of the record.
//
// The fields are loaded individually; see the type comment for the skew
// contract. State and strength alone are consistent with each other.
func (s *State) Snapshot() Snapshot {
	w := s.Word()
	return Snapshot{
		DeltaAngle:        uint16(s.deltaAngle.Load()),
		Entropy:           s.entropy.Load(),
		Excited:           s.excited.Load(),
		SDTState:          w.State(),
		LastRingStrength:  w.Strength(),
		TriggerCount:      s.triggerCount.Load(),
		SupersessionCount: s.supersession.Load(),
		LastTriggerTick:   s.lastTriggerTick.Load(),
	}
}

// ------------------------------------------------------------------------------
// Observation input
// ------------------------------------------------------------------------------

// StoreObservation folds in an environmental telemetry reading.
//
// Producers (or their instrumentation) call this to keep the drift angle
// and entropy current; admission attempts score payloads against the
// values stored here. The two stores are independent atomics, not a
// transaction.
func (s *State) StoreObservation(deltaAngle uint16, entropy uint32) {
	s.deltaAngle.Store(uint32(deltaAngle))
	s.entropy.Store(entropy)
}

// Observation returns the current telemetry pair in the shape the crystal
// evaluator consumes.
func (s *State) Observation() crystal.Observation {
	return crystal.Observation{
		DeltaAngle: uint16(s.deltaAngle.Load()),
		Entropy:    s.entropy.Load(),
	}
}

// RecordSupersession counts one explicit lineage kill.
//
// Only the two explicit kill paths call this (SupersedeLineage, or
// admission of a child that declares a parent lineage). Ordinary
// rejection never does.
func (s *State) RecordSupersession() {
	s.supersession.Add(1)
}

// ------------------------------------------------------------------------------
// Transition
// ------------------------------------------------------------------------------

// Transition reports what one UpdateFromResonance call did.
type Transition struct {
	// From is the state the successful CAS transitioned out of.
	From gate.State

	// To is the post-transition state.
	To gate.State

	// Class is the delta classification of the attempt, echoed through
	// for out-of-band consumers.
	Class crystal.DeltaClass

	// Strength is the ring strength the attempt recorded.
	Strength float32

	// Admitted reports whether the attempt was admitted under the
	// composed rule: post-state admits, and either the state is Latched
	// (which bypasses the vote) or the polycrystal vote passed.
	Admitted bool

	// Drought reports whether an entropy drought was active during the
	// attempt.
	Drought bool
}

// UpdateFromResonance atomically folds one admission attempt into the record.
//
// # Description
//
//	Applies the SDT transition table to the packed gate word in a CAS
//	loop: a failed CAS retries against the freshly observed word rather
//	than clobbering a newer transition, so no update is lost under
//	contention. Drought is evaluated against the tick of the last
//	at-or-above-threshold entropy reading before the transition is
//	computed.
//
//	trigger_count increments only when the attempt is admitted;
//	supersession_count is never touched here (explicit lineage kills own
//	that counter).
//
// # Inputs
//
//   - strength: ring strength of this attempt, already clamped to [0,1].
//   - class: delta classification of this attempt (echoed in the result).
//   - votePassed: polycrystal vote outcome. Ignored while Latched.
//   - tick: logical admission tick of this attempt. Must be monotonic
//     across attempts on one record.
//   - th: governing thresholds, obtained from the lead crystal family.
//
// # Outputs
//
//   - Transition: the applied edge and the admission decision.
//
// # Thread Safety
//
//	Safe for concurrent use. Never allocates, never locks, never panics.
func (s *State) UpdateFromResonance(strength float32, class crystal.DeltaClass, votePassed bool, tick uint64, th gate.Thresholds) Transition {
	if s.entropy.Load() >= th.DroughtEntropy {
		storeMax(&s.lastWetTick, tick)
	}
	drought := false
	if th.DroughtWindow > 0 {
		wet := s.lastWetTick.Load()
		drought = tick >= wet && tick-wet >= th.DroughtWindow
	}

	var from, to gate.State
	for {
		cur := gate.Word(s.word.Load())
		from = cur.State()
		to = gate.Next(from, strength, drought, th)
		if s.word.CompareAndSwap(uint64(cur), uint64(gate.Pack(to, strength))) {
			break
		}
	}

	admitted := to.Admits() && (to == gate.Latched || votePassed)
	if admitted {
		s.triggerCount.Add(1)
		s.lastTriggerTick.Store(tick)
	}
	s.excited.Store(to.Admits())

	return Transition{
		From:     from,
		To:       to,
		Class:    class,
		Strength: strength,
		Admitted: admitted,
		Drought:  drought,
	}
}

// ------------------------------------------------------------------------------
// Reset
// ------------------------------------------------------------------------------

// Reset forces the gate to Off. It is the only exit from Latched.
//
// # Description
//
//	Requires a live authorization proof; an invalid proof fails loudly
//	(error plus structured log) and mutates nothing. Reset of an
//	already-Off gate is a no-op: state and counters are unchanged and the
//	call succeeds. A successful reset zeroes the recorded strength and
//	clears the excited flag; cumulative counters and telemetry fields are
//	deliberately left intact.
//
// # Thread Safety
//
//	Safe for concurrent use. Not a hot-path operation.
func (s *State) Reset(proof authz.Proof) error {
	if !proof.Valid() {
		slog.Warn("rejected plasma reset without valid authorization proof",
			slog.String("state", s.SDTState().String()),
		)
		return ErrUnauthorizedReset
	}

	for {
		cur := gate.Word(s.word.Load())
		if cur.State() == gate.Off {
			return nil
		}
		if s.word.CompareAndSwap(uint64(cur), uint64(gate.Pack(gate.Off, 0))) {
			s.excited.Store(false)
			slog.Info("plasma state reset",
				slog.String("from", cur.State().String()),
			)
			return nil
		}
	}
}

// storeMax raises *a to v if v is greater, preserving monotonicity under
// concurrent writers.
func storeMax(a *atomic.Uint64, v uint64) {
	for {
		cur := a.Load()
		if v <= cur || a.CompareAndSwap(cur, v) {
			return
		}
	}
}
