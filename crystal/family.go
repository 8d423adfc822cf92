// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crystal implements resonance evaluation: deterministic,
// side-effect-free scoring of a payload against the current drift and
// entropy observations, parameterized by data-only family presets.
//
// The source lineage described families (Orbital, GroundStation, TarPit,
// Silent, Adaptive) as a behavior hierarchy. Here a family is a plain
// struct of weights and thresholds consumed by one generic evaluator; the
// invert flag covers the families that ring on deviation instead of match.
// There is no dispatch on the hot path and no hidden state anywhere in
// this package.
package crystal

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/plasmabus/gate"
)

// WeightTolerance is how far the three scoring weights may drift from
// summing to exactly 1.0 before construction fails.
const WeightTolerance = 0.001

// MaxFamilies is the largest polycrystal a bus can carry. Eight families
// evaluate with no heap allocation; the verdict holds their scores in a
// fixed array.
const MaxFamilies = 8

var (
	// ErrInvalidFamily wraps every family construction failure.
	ErrInvalidFamily = errors.New("crystal: invalid family")

	// ErrWeightSum means entropy/delta/hash weights do not sum to ~1.0.
	ErrWeightSum = errors.New("crystal: weights must sum to 1.0")

	// ErrThresholdOrder means the gate/holding/latch ordering invariant
	// (holding < gate <= latch) is violated.
	ErrThresholdOrder = errors.New("crystal: threshold ordering violated")

	// ErrThresholdRange means a threshold is outside [0, 1].
	ErrThresholdRange = errors.New("crystal: threshold out of range")

	// ErrWeightRange means a scoring weight is negative.
	ErrWeightRange = errors.New("crystal: negative weight")

	// ErrEmptyID means the family has no identifier.
	ErrEmptyID = errors.New("crystal: empty family id")
)

// Family is a data-only resonance preset.
//
// # Description
//
// A family tunes how strongly a payload "rings" against the current
// PlasmaState observation. The three weights split the score between
// entropy level, drift inversion, and payload/seed hash coherence; the
// thresholds feed the SDT gate. All invariants are established by
// Validate at construction and never re-checked on the hot path.
//
// # Invariants (construction-time)
//
//   - EntropyWeight + DeltaWeight + HashWeight = 1.0 (within
//     WeightTolerance), none negative.
//   - 0 <= HoldingThresh < GateThresh <= LatchThresh <= 1.
//
// # Thread Safety
//
// Immutable after construction; safe to share.
type Family struct {
	// ID names the preset (for per-family verdict detail and logs).
	ID string `yaml:"id" validate:"required,max=64"`

	// EntropyWeight scales the normalized entropy term.
	EntropyWeight float32 `yaml:"entropy_weight" validate:"gte=0,lte=1"`

	// DeltaWeight scales the inverted normalized drift term.
	DeltaWeight float32 `yaml:"delta_weight" validate:"gte=0,lte=1"`

	// HashWeight scales the payload/seed coherence term.
	HashWeight float32 `yaml:"hash_weight" validate:"gte=0,lte=1"`

	// GateThresh is the minimum strength that opens the gate
	// (Primed -> Conducting).
	GateThresh float32 `yaml:"gate_thresh" validate:"gte=0,lte=1"`

	// HoldingThresh is the strength below which a conducting gate drops
	// (anode drop). Strictly less than GateThresh.
	HoldingThresh float32 `yaml:"holding_thresh" validate:"gte=0,lte=1"`

	// LatchThresh is the strength at which a conducting gate latches.
	// At least GateThresh.
	LatchThresh float32 `yaml:"latch_thresh" validate:"gte=0,lte=1"`

	// EntropyDroughtThreshold is the entropy level under which the
	// drought window accumulates.
	EntropyDroughtThreshold uint32 `yaml:"entropy_drought_threshold"`

	// Invert makes the family ring on deviation rather than match: the
	// raw score is flipped before clamping.
	Invert bool `yaml:"invert"`

	// Seed is the 64-bit reference fingerprint coherence is measured
	// against. Families tuned for different traffic use different seeds.
	Seed uint64 `yaml:"seed"`
}

// Validate checks every construction-time invariant.
//
// # Outputs
//
//   - error: Nil when the preset is usable. Violations wrap
//     ErrInvalidFamily together with the specific sentinel, so callers
//     can test either with errors.Is.
func (f Family) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidFamily, ErrEmptyID)
	}

	if f.EntropyWeight < 0 || f.DeltaWeight < 0 || f.HashWeight < 0 {
		return fmt.Errorf("%w: %w (id %q)", ErrInvalidFamily, ErrWeightRange, f.ID)
	}
	sum := f.EntropyWeight + f.DeltaWeight + f.HashWeight
	if diff := sum - 1.0; diff > WeightTolerance || diff < -WeightTolerance {
		return fmt.Errorf("%w: %w (id %q, sum %.4f)", ErrInvalidFamily, ErrWeightSum, f.ID, sum)
	}

	for _, th := range []float32{f.GateThresh, f.HoldingThresh, f.LatchThresh} {
		if th < 0 || th > 1 {
			return fmt.Errorf("%w: %w (id %q)", ErrInvalidFamily, ErrThresholdRange, f.ID)
		}
	}
	if f.HoldingThresh >= f.GateThresh && f.GateThresh > 0 {
		return fmt.Errorf("%w: %w (id %q, holding %.3f >= gate %.3f)",
			ErrInvalidFamily, ErrThresholdOrder, f.ID, f.HoldingThresh, f.GateThresh)
	}
	if f.LatchThresh < f.GateThresh {
		return fmt.Errorf("%w: %w (id %q, latch %.3f < gate %.3f)",
			ErrInvalidFamily, ErrThresholdOrder, f.ID, f.LatchThresh, f.GateThresh)
	}

	return nil
}

// Thresholds projects the family's trigger levels into the gate's view,
// using the given drought window (the window is a bus-level setting, not
// a family one).
func (f Family) Thresholds(droughtWindow uint64) gate.Thresholds {
	return gate.Thresholds{
		Gate:           f.GateThresh,
		Holding:        f.HoldingThresh,
		Latch:          f.LatchThresh,
		DroughtEntropy: f.EntropyDroughtThreshold,
		DroughtWindow:  droughtWindow,
	}
}
