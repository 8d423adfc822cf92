// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crystal

import "math/bits"

// Observation is the slice of PlasmaState a scoring call reads: the drift
// angle and entropy at evaluation time. Callers snapshot these two fields
// once per attempt; skew against other state fields is accepted.
type Observation struct {
	// DeltaAngle is the raw 16-bit drift encoding (0-65535 maps to
	// 0-360 degrees).
	DeltaAngle uint16

	// Entropy is the raw 32-bit entropy reading.
	Entropy uint32
}

// FNV-1a 64-bit parameters. The fingerprint only needs good distribution;
// the specific hash is not load-bearing for correctness.
const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// Fingerprint computes the 64-bit FNV-1a hash of the payload.
//
// # Description
//
// Inlined rather than built on hash/fnv because the stdlib constructor
// allocates its state object and this runs on the admission hot path.
// An empty payload fingerprints to the FNV offset basis.
//
// # Thread Safety
//
// Pure function, zero allocation.
func Fingerprint(payload []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, b := range payload {
		h ^= uint64(b)
		h *= fnvPrime64
	}
	return h
}

// Coherence measures how closely a fingerprint matches a family seed.
//
// # Description
//
// Defined as the bit-overlap ratio: 1 - popcount(fingerprint XOR seed)/64.
// Identical values score 1.0, complementary values 0.0. The function is
// deterministic, symmetric in its arguments, and stateless; random
// fingerprints against a fixed seed cluster around 0.5.
//
// This is the documented choice for the open "hash coherence" question:
// any deterministic symmetric mixer would satisfy the contract, bit
// overlap is the cheapest with usable spread.
func Coherence(fingerprint, seed uint64) float32 {
	return 1 - float32(bits.OnesCount64(fingerprint^seed))/64
}

// Score evaluates one payload against one family.
//
// # Description
//
// Implements the resonance formula:
//
//	strength = clamp(ew*normalized_entropy +
//	                 dw*(1 - normalized_delta) +
//	                 hw*coherence, 0, 1)
//
// with the raw value flipped first for invert families. Also buckets the
// drift angle into its DeltaClass. Deterministic and side-effect-free:
// identical inputs produce identical outputs on every call.
//
// # Inputs
//
//   - payload: Command bytes. Never interpreted, only fingerprinted.
//   - obs: Drift/entropy observation snapshotted by the caller.
//
// # Outputs
//
//   - float32: Ring strength in [0, 1].
//   - DeltaClass: Drift bucket of obs.DeltaAngle.
//
// # Thread Safety
//
// Pure function. No allocation, no locks, no syscalls.
func (f Family) Score(payload []byte, obs Observation) (float32, DeltaClass) {
	ne := float32(obs.Entropy) / float32(^uint32(0))
	nd := float32(obs.DeltaAngle) / 65535

	hc := Coherence(Fingerprint(payload), f.Seed)

	raw := f.EntropyWeight*ne + f.DeltaWeight*(1-nd) + f.HashWeight*hc
	if f.Invert {
		raw = 1 - raw
	}

	return clamp01(raw), Classify(obs.DeltaAngle)
}

// clamp01 bounds v into [0, 1].
func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
