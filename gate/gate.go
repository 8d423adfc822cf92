// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate implements the SDT (silicon-controlled, thyristor-style)
// admission state machine.
//
// The gate decides whether a command may enter the bus. It models a
// thyristor: once triggered it conducts, once latched it stays open until
// an explicit reset, and it drops back to Off when the holding condition
// is lost (anode drop) or when entropy stays below the drought threshold
// for a sustained window.
//
// Everything in this package is a pure function over plain values. The
// atomic application of transitions (CAS loops, packed words) lives with
// the state record that owns the memory; this package only computes what
// the next state must be and how state+strength pack into a single word.
package gate

import "math"

// -----------------------------------------------------------------------------
// States
// -----------------------------------------------------------------------------

// State is one of the four SDT gate states.
type State uint8

const (
	// Off is the rest state. No command has been attempted since
	// construction or the last reset/closure.
	Off State = iota

	// Primed means at least one admission attempt has occurred but the
	// gate has not yet conducted. Every attempt arms the gate, even an
	// attempt that is rejected.
	Primed

	// Conducting admits commands while ring strength holds above the
	// holding threshold.
	Conducting

	// Latched admits commands unconditionally until an authorized reset.
	// Strength fluctuations are ignored in this state.
	Latched

	stateCount = iota
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Primed:
		return "primed"
	case Conducting:
		return "conducting"
	case Latched:
		return "latched"
	default:
		return "invalid"
	}
}

// IsValid reports whether s is one of the four defined states.
func (s State) IsValid() bool {
	return s < stateCount
}

// Admits reports whether a gate in state s admits commands.
//
// Admission is decided on the post-transition state: a command is enqueued
// iff the state after applying its attempt is Conducting or Latched.
func (s State) Admits() bool {
	return s == Conducting || s == Latched
}

// -----------------------------------------------------------------------------
// Thresholds
// -----------------------------------------------------------------------------

// Thresholds carries the per-family trigger levels the transition table
// compares ring strength against.
//
// Callers obtain validated values from crystal.Family; this struct performs
// no validation of its own. The invariants Holding < Gate <= Latch are
// established at family construction, never re-checked on the hot path.
type Thresholds struct {
	// Gate is the minimum strength for Primed -> Conducting.
	Gate float32

	// Holding is the strength below which Conducting drops to Off
	// (anode drop). Always strictly less than Gate.
	Holding float32

	// Latch is the minimum strength for Conducting -> Latched.
	// Always greater than or equal to Gate.
	Latch float32

	// DroughtEntropy is the entropy level below which the drought window
	// accumulates. At or above it the window resets.
	DroughtEntropy uint32

	// DroughtWindow is the number of consecutive admission ticks entropy
	// must stay below DroughtEntropy before Conducting is forced to Off.
	DroughtWindow uint64
}

// -----------------------------------------------------------------------------
// Transition table
// -----------------------------------------------------------------------------

// Next computes the successor state for one admission attempt.
//
// Description:
//
//	Applies the SDT transition table to the current state given the
//	attempt's ring strength and whether an entropy drought is active.
//	One call covers one attempt. From Off the gate first arms (Off ->
//	Primed) and the same attempt is then evaluated under the Primed rule,
//	so a strong first attempt on a cold gate reaches Conducting in a
//	single step. All other states advance at most one edge per attempt.
//
// Transition table:
//
//	Off        -> Primed      always (arming), then Primed rule applies.
//	Primed     -> Conducting  iff strength >= Gate, else stays Primed.
//	Conducting -> Latched     iff strength >= Latch.
//	Conducting -> Off         iff strength < Holding (anode drop).
//	Conducting -> Off         iff drought (sustained low entropy),
//	                          regardless of momentary strength.
//	Latched    -> Latched     always; only an authorized reset exits.
//
// Inputs:
//   - cur: Current state. An invalid value is treated as Off.
//   - strength: Ring strength of this attempt, in [0, 1].
//   - drought: True when entropy has stayed below the drought threshold
//     for the full drought window (computed by the state record).
//   - th: Pre-validated thresholds.
//
// Outputs:
//   - State: The post-transition state.
//
// Thread Safety: Pure function, safe for concurrent use.
func Next(cur State, strength float32, drought bool, th Thresholds) State {
	switch cur {
	case Primed:
		if strength >= th.Gate {
			return Conducting
		}
		return Primed

	case Conducting:
		if drought {
			return Off
		}
		if strength < th.Holding {
			return Off
		}
		if strength >= th.Latch {
			return Latched
		}
		return Conducting

	case Latched:
		return Latched

	default:
		// Off (and any corrupt value, which cannot arise through the
		// packed-word accessors): arm, then evaluate the armed gate.
		if strength >= th.Gate {
			return Conducting
		}
		return Primed
	}
}

// -----------------------------------------------------------------------------
// Packed word
// -----------------------------------------------------------------------------

// Word packs sdt_state and last_ring_strength into a single 64-bit value
// so the whole gate transition is one atomic compare-and-swap.
//
// Layout (low to high): bits 0-31 hold the IEEE-754 bits of the strength,
// bits 32-39 hold the state, bits 40-63 are reserved zero.
type Word uint64

// Pack combines a state and a strength into a Word.
func Pack(s State, strength float32) Word {
	return Word(math.Float32bits(strength)) | Word(s)<<32
}

// State extracts the gate state from the word.
func (w Word) State() State {
	return State(w >> 32 & 0xff)
}

// Strength extracts the ring strength from the word.
func (w Word) Strength() float32 {
	return math.Float32frombits(uint32(w))
}
