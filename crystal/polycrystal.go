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
	"errors"
	"fmt"

	"github.com/AleutianAI/plasmabus/gate"
)

// -----------------------------------------------------------------------------
// Voting policies
// -----------------------------------------------------------------------------

// VotePolicy selects how per-family pass/fail votes combine into one
// admission vote.
type VotePolicy uint8

const (
	// VoteAny passes when any family clears its own gate threshold.
	VoteAny VotePolicy = iota

	// VoteAll passes only when every family clears its threshold.
	VoteAll

	// VoteMajority passes when more than half the families clear.
	VoteMajority

	// VoteWeightedAverage ignores per-family votes and applies a single
	// threshold to the weighted strength.
	VoteWeightedAverage

	// VoteQuorum passes when at least K families clear.
	VoteQuorum

	votePolicyCount = iota
)

// String returns the lowercase policy name.
func (p VotePolicy) String() string {
	switch p {
	case VoteAny:
		return "any"
	case VoteAll:
		return "all"
	case VoteMajority:
		return "majority"
	case VoteWeightedAverage:
		return "weighted_average"
	case VoteQuorum:
		return "quorum"
	default:
		return "invalid"
	}
}

// ParseVotePolicy resolves a policy name from configuration.
func ParseVotePolicy(name string) (VotePolicy, error) {
	switch name {
	case "any":
		return VoteAny, nil
	case "all":
		return VoteAll, nil
	case "majority":
		return VoteMajority, nil
	case "weighted_average":
		return VoteWeightedAverage, nil
	case "quorum":
		return VoteQuorum, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadPolicy, name)
	}
}

var (
	// ErrNoFamilies means the polycrystal would have zero members.
	ErrNoFamilies = errors.New("crystal: polycrystal needs at least one family")

	// ErrTooManyFamilies means more than MaxFamilies members were given.
	ErrTooManyFamilies = errors.New("crystal: too many families")

	// ErrBadPolicy means the voting policy is unknown.
	ErrBadPolicy = errors.New("crystal: unknown voting policy")

	// ErrBadQuorum means the quorum K is outside [1, len(families)].
	ErrBadQuorum = errors.New("crystal: quorum out of range")

	// ErrBadAvgThreshold means the weighted-average threshold is outside
	// [0, 1].
	ErrBadAvgThreshold = errors.New("crystal: average threshold out of range")

	// ErrMemberWeight means a member weight is not strictly positive.
	ErrMemberWeight = errors.New("crystal: member weight must be positive")

	// ErrDuplicateID means two members share a family id.
	ErrDuplicateID = errors.New("crystal: duplicate family id")
)

// -----------------------------------------------------------------------------
// Polycrystal
// -----------------------------------------------------------------------------

// Member pairs a family with its vote weight.
type Member struct {
	Family Family  `yaml:"family"`
	Weight float32 `yaml:"weight"`
}

// PolycrystalConfig describes a polycrystal to construct.
type PolycrystalConfig struct {
	// Members, in order. The first member is the lead family: its
	// thresholds govern the SDT gate transition.
	Members []Member

	// Policy combines per-family votes.
	Policy VotePolicy

	// Quorum is K for VoteQuorum; ignored otherwise.
	Quorum int

	// AvgThreshold is the strength floor for VoteWeightedAverage;
	// ignored otherwise.
	AvgThreshold float32
}

// Polycrystal is an ordered, weighted set of families with a voting
// policy. Immutable after construction; the bus swaps whole instances
// behind an atomic pointer when configuration reloads.
type Polycrystal struct {
	families     [MaxFamilies]Family
	weights      [MaxFamilies]float32
	n            int
	totalWeight  float32
	policy       VotePolicy
	quorum       int
	avgThreshold float32
}

// NewPolycrystal validates and builds a Polycrystal.
//
// # Description
//
// Every construction-time invariant is checked here so evaluation can run
// without any validation: member count in [1, MaxFamilies], every family
// valid, every weight positive, ids unique, policy parameters in range.
//
// # Outputs
//
//   - *Polycrystal: Ready for concurrent evaluation.
//   - error: The first violated invariant, wrapping its sentinel.
func NewPolycrystal(cfg PolycrystalConfig) (*Polycrystal, error) {
	if len(cfg.Members) == 0 {
		return nil, ErrNoFamilies
	}
	if len(cfg.Members) > MaxFamilies {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFamilies, len(cfg.Members), MaxFamilies)
	}
	if cfg.Policy >= votePolicyCount {
		return nil, fmt.Errorf("%w: %d", ErrBadPolicy, cfg.Policy)
	}
	if cfg.Policy == VoteQuorum && (cfg.Quorum < 1 || cfg.Quorum > len(cfg.Members)) {
		return nil, fmt.Errorf("%w: k=%d with %d families", ErrBadQuorum, cfg.Quorum, len(cfg.Members))
	}
	if cfg.Policy == VoteWeightedAverage && (cfg.AvgThreshold < 0 || cfg.AvgThreshold > 1) {
		return nil, fmt.Errorf("%w: %.3f", ErrBadAvgThreshold, cfg.AvgThreshold)
	}

	p := &Polycrystal{
		n:            len(cfg.Members),
		policy:       cfg.Policy,
		quorum:       cfg.Quorum,
		avgThreshold: cfg.AvgThreshold,
	}

	ids := make(map[string]struct{}, len(cfg.Members))
	for i, m := range cfg.Members {
		if err := m.Family.Validate(); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		if m.Weight <= 0 {
			return nil, fmt.Errorf("%w: member %d (%q)", ErrMemberWeight, i, m.Family.ID)
		}
		if _, dup := ids[m.Family.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, m.Family.ID)
		}
		ids[m.Family.ID] = struct{}{}

		p.families[i] = m.Family
		p.weights[i] = m.Weight
		p.totalWeight += m.Weight
	}

	return p, nil
}

// -----------------------------------------------------------------------------
// Verdict
// -----------------------------------------------------------------------------

// FamilyScore is one family's contribution to a verdict.
type FamilyScore struct {
	ID       string  `json:"id"`
	Strength float32 `json:"strength"`
	Passed   bool    `json:"passed"`
}

// Verdict is the result of one polycrystal evaluation. Per-family detail
// is always retained; observability consumers read it via PerFamily.
// The struct is plain value data sized for MaxFamilies, so evaluation
// allocates nothing.
type Verdict struct {
	// FinalStrength is the weight-normalized combined strength, in
	// [0, 1]. This value drives the SDT gate transition regardless of
	// the voting policy.
	FinalStrength float32

	// Passed is the combined admission vote under the policy.
	Passed bool

	// Class is the drift bucket at evaluation time.
	Class DeltaClass

	n      int
	scores [MaxFamilies]FamilyScore
}

// PerFamily returns the per-family detail in member order. The returned
// slice aliases the verdict's internal array; copy it if it must outlive
// the verdict.
func (v *Verdict) PerFamily() []FamilyScore {
	return v.scores[:v.n]
}

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// Evaluate scores a payload against every family and combines the votes.
//
// # Description
//
// Runs each family's Score, records per-family detail, computes the
// weight-normalized final strength, and applies the voting policy. A
// family passes individually when its strength reaches its own gate
// threshold.
//
// # Inputs
//
//   - payload: Command bytes (fingerprinted, never interpreted).
//   - obs: Drift/entropy observation.
//
// # Outputs
//
//   - Verdict: Combined strength, vote, class, per-family detail.
//
// # Thread Safety
//
// Safe for unlimited concurrent callers. No allocation, no locks, no
// syscalls; at most MaxFamilies scoring passes.
func (p *Polycrystal) Evaluate(payload []byte, obs Observation) Verdict {
	v := Verdict{n: p.n, Class: Classify(obs.DeltaAngle)}

	passes := 0
	var weighted float32
	for i := 0; i < p.n; i++ {
		s, _ := p.families[i].Score(payload, obs)
		passed := s >= p.families[i].GateThresh
		if passed {
			passes++
		}
		weighted += s * p.weights[i]
		v.scores[i] = FamilyScore{ID: p.families[i].ID, Strength: s, Passed: passed}
	}
	v.FinalStrength = clamp01(weighted / p.totalWeight)

	switch p.policy {
	case VoteAny:
		v.Passed = passes > 0
	case VoteAll:
		v.Passed = passes == p.n
	case VoteMajority:
		v.Passed = passes*2 > p.n
	case VoteWeightedAverage:
		v.Passed = v.FinalStrength >= p.avgThreshold
	case VoteQuorum:
		v.Passed = passes >= p.quorum
	}

	return v
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// Governing returns the gate thresholds of the lead family, carrying the
// bus-level drought window.
func (p *Polycrystal) Governing(droughtWindow uint64) gate.Thresholds {
	return p.families[0].Thresholds(droughtWindow)
}

// Len returns the member count.
func (p *Polycrystal) Len() int {
	return p.n
}

// Policy returns the voting policy.
func (p *Polycrystal) Policy() VotePolicy {
	return p.policy
}

// Families returns a copy of the member families in order. Intended for
// logging and configuration diffing, not the hot path.
func (p *Polycrystal) Families() []Family {
	out := make([]Family, p.n)
	copy(out, p.families[:p.n])
	return out
}
