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

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

// The semantic layer is the second, independent evaluator the physics
// verdict is explicitly combined with. Its rules are byte-level checks
// (size, framing prefix, byte-entropy floor) so the bus still never
// interprets what a payload means. It is deliberately not a subtype of
// anything: combination with the physics decision happens in the bus
// pipeline under a configured CombineMode.

var (
	// ErrBadEntropyFloor means the byte-entropy floor is outside
	// [0, 8] bits per byte.
	ErrBadEntropyFloor = errors.New("crystal: entropy floor out of range")

	// ErrBadPayloadCeiling means the payload size ceiling is negative.
	ErrBadPayloadCeiling = errors.New("crystal: negative payload ceiling")

	// ErrBadBlendAlpha means the blend coefficient is outside [0, 1].
	ErrBadBlendAlpha = errors.New("crystal: blend alpha out of range")

	// ErrBadCombineMode means the combine mode name is unknown.
	ErrBadCombineMode = errors.New("crystal: unknown combine mode")
)

// -----------------------------------------------------------------------------
// Combine modes
// -----------------------------------------------------------------------------

// CombineMode selects how the semantic result joins the physics verdict.
type CombineMode uint8

const (
	// CombineAnd vetoes admission when the semantic gate fails; the
	// physics strength is untouched.
	CombineAnd CombineMode = iota

	// CombineBlend folds the semantic score into the strength that
	// drives the SDT gate: alpha*physics + (1-alpha)*semantic.
	CombineBlend
)

// String returns the lowercase mode name.
func (m CombineMode) String() string {
	switch m {
	case CombineAnd:
		return "and"
	case CombineBlend:
		return "blend"
	default:
		return "invalid"
	}
}

// ParseCombineMode resolves a mode name from configuration.
func ParseCombineMode(name string) (CombineMode, error) {
	switch name {
	case "and", "":
		return CombineAnd, nil
	case "blend":
		return CombineBlend, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadCombineMode, name)
	}
}

// -----------------------------------------------------------------------------
// Semantic gate
// -----------------------------------------------------------------------------

// SemanticConfig declares the byte-level rules. A zero value disables
// every rule, which makes the semantic gate a pass-through.
type SemanticConfig struct {
	// MaxPayloadBytes rejects payloads longer than this. 0 disables.
	MaxPayloadBytes int `yaml:"max_payload_bytes" validate:"gte=0"`

	// RequiredPrefix rejects payloads that do not start with these
	// bytes. Empty disables.
	RequiredPrefix []byte `yaml:"required_prefix"`

	// MinByteEntropy rejects payloads whose Shannon byte entropy falls
	// below this many bits per byte (0 disables, 8 is the maximum
	// possible). Catches padded or constant-filled payloads.
	MinByteEntropy float32 `yaml:"min_byte_entropy" validate:"gte=0,lte=8"`
}

// Semantic is a deterministic rule evaluator over payload bytes.
//
// # Thread Safety
//
// Immutable after construction; evaluation allocates nothing.
type Semantic struct {
	cfg   SemanticConfig
	rules int
}

// NewSemantic validates the rule set and builds the evaluator.
func NewSemantic(cfg SemanticConfig) (*Semantic, error) {
	if cfg.MaxPayloadBytes < 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadPayloadCeiling, cfg.MaxPayloadBytes)
	}
	if cfg.MinByteEntropy < 0 || cfg.MinByteEntropy > 8 {
		return nil, fmt.Errorf("%w: %.2f", ErrBadEntropyFloor, cfg.MinByteEntropy)
	}

	s := &Semantic{cfg: cfg}
	if cfg.MaxPayloadBytes > 0 {
		s.rules++
	}
	if len(cfg.RequiredPrefix) > 0 {
		s.rules++
	}
	if cfg.MinByteEntropy > 0 {
		s.rules++
	}
	return s, nil
}

// Rules returns the number of active rules.
func (s *Semantic) Rules() int {
	return s.rules
}

// Evaluate runs every active rule against the payload.
//
// # Outputs
//
//   - float32: Fraction of active rules passed, in [0, 1]. With no
//     active rules the score is 1.
//   - bool: True when every active rule passed.
//
// # Thread Safety
//
// Pure function over the immutable rule set. No allocation.
func (s *Semantic) Evaluate(payload []byte) (float32, bool) {
	if s.rules == 0 {
		return 1, true
	}

	passed := 0
	if s.cfg.MaxPayloadBytes > 0 {
		if len(payload) <= s.cfg.MaxPayloadBytes {
			passed++
		}
	}
	if len(s.cfg.RequiredPrefix) > 0 {
		if bytes.HasPrefix(payload, s.cfg.RequiredPrefix) {
			passed++
		}
	}
	if s.cfg.MinByteEntropy > 0 {
		if byteEntropy(payload) >= s.cfg.MinByteEntropy {
			passed++
		}
	}

	return float32(passed) / float32(s.rules), passed == s.rules
}

// byteEntropy estimates the Shannon entropy of the payload in bits per
// byte using a stack-resident histogram. Empty payloads score 0.
func byteEntropy(payload []byte) float32 {
	if len(payload) == 0 {
		return 0
	}

	var hist [256]uint32
	for _, b := range payload {
		hist[b]++
	}

	total := float64(len(payload))
	entropy := 0.0
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return float32(entropy)
}
