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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/plasmabus/authz"
	"github.com/AleutianAI/plasmabus/crystal"
	"github.com/AleutianAI/plasmabus/gate"
	"github.com/AleutianAI/plasmabus/plasma"
	"github.com/AleutianAI/plasmabus/ring"
)

// ==============================================================================
// Errors
// ==============================================================================

var (
	// ErrLaneCapacity means the configured lane capacity is not a power
	// of two in the supported range.
	ErrLaneCapacity = errors.New("bus: invalid lane capacity")

	// ErrLineageCapacity means the configured lineage set capacity is
	// not a power of two in the supported range.
	ErrLineageCapacity = errors.New("bus: invalid lineage capacity")

	// ErrTapCapacity means the configured tap capacity is not a power of
	// two in the supported range.
	ErrTapCapacity = errors.New("bus: invalid tap capacity")

	// ErrStarvationQuota means the configured quota is zero.
	ErrStarvationQuota = errors.New("bus: starvation quota must be positive")

	// ErrBlendAlpha means the blend weight is outside [0, 1].
	ErrBlendAlpha = errors.New("bus: blend alpha out of range")
)

// ==============================================================================
// Configuration
// ==============================================================================

// Tuning is the hot-swappable half of the configuration: everything the
// evaluation pipeline needs. Retune rebuilds it behind an atomic pointer
// without interrupting in-flight pushes.
type Tuning struct {
	// Polycrystal describes the family set and voting policy.
	Polycrystal crystal.PolycrystalConfig `yaml:"polycrystal"`

	// Semantic declares the byte-level rule set. Zero value is a
	// pass-through.
	Semantic crystal.SemanticConfig `yaml:"semantic"`

	// CombineMode joins the semantic result with the physics verdict.
	// Default CombineAnd.
	CombineMode crystal.CombineMode `yaml:"combine_mode"`

	// BlendAlpha weights the physics strength under CombineBlend:
	// alpha*physics + (1-alpha)*semantic. Ignored under CombineAnd.
	BlendAlpha float32 `yaml:"blend_alpha" validate:"gte=0,lte=1"`

	// DroughtWindow is how many consecutive admission ticks entropy must
	// stay below the lead family's drought threshold before a conducting
	// gate is forced closed. 0 disables drought detection.
	DroughtWindow uint64 `yaml:"drought_window"`
}

// Config describes a Bus to construct.
type Config struct {
	// LaneCapacity is the per-lane ring capacity. Power of two.
	LaneCapacity int `yaml:"lane_capacity"`

	// LineageCapacity is the supersession set capacity. Power of two.
	LineageCapacity int `yaml:"lineage_capacity"`

	// TapCapacity is the out-of-band event ring capacity. Power of two.
	TapCapacity int `yaml:"tap_capacity"`

	// StarvationQuota is how many times a non-empty lane may be passed
	// over before it is served first. The head of the Normal lane is
	// returned within StarvationQuota+1 pops; any lane within
	// StarvationQuota+2.
	StarvationQuota uint32 `yaml:"starvation_quota"`

	// Tuning is the evaluation pipeline configuration.
	Tuning Tuning `yaml:"tuning"`

	// Logger receives cold-path events (construction, retune, resets,
	// lineage kills). The hot path never logs. Uses default if nil.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a single-family Orbital bus tuned for tests and
// small deployments.
func DefaultConfig() Config {
	return Config{
		LaneCapacity:    1024,
		LineageCapacity: 1024,
		TapCapacity:     4096,
		StarvationQuota: 32,
		Tuning: Tuning{
			Polycrystal: crystal.PolycrystalConfig{
				Members: []crystal.Member{{Family: crystal.PresetOrbital(), Weight: 1}},
				Policy:  crystal.VoteAny,
			},
			CombineMode:   crystal.CombineAnd,
			DroughtWindow: 64,
		},
	}
}

// Validate checks the construction-time invariants the hot path relies
// on. Tuning contents are validated by the crystal constructors.
func (c Config) Validate() error {
	if c.LaneCapacity < ring.MinCapacity || c.LaneCapacity > ring.MaxCapacity || c.LaneCapacity&(c.LaneCapacity-1) != 0 {
		return fmt.Errorf("%w: %d", ErrLaneCapacity, c.LaneCapacity)
	}
	if c.LineageCapacity < probeWindow || c.LineageCapacity&(c.LineageCapacity-1) != 0 {
		return fmt.Errorf("%w: %d", ErrLineageCapacity, c.LineageCapacity)
	}
	if c.TapCapacity < ring.MinCapacity || c.TapCapacity > ring.MaxCapacity || c.TapCapacity&(c.TapCapacity-1) != 0 {
		return fmt.Errorf("%w: %d", ErrTapCapacity, c.TapCapacity)
	}
	if c.StarvationQuota == 0 {
		return ErrStarvationQuota
	}
	if c.Tuning.BlendAlpha < 0 || c.Tuning.BlendAlpha > 1 {
		return fmt.Errorf("%w: %.3f", ErrBlendAlpha, c.Tuning.BlendAlpha)
	}
	return nil
}

// evaluator bundles everything one push needs to score and gate a
// payload. Swapped whole behind an atomic pointer so a retune never
// tears an in-flight evaluation.
type evaluator struct {
	poly  *crystal.Polycrystal
	sem   *crystal.Semantic
	mode  crystal.CombineMode
	alpha float32
	th    gate.Thresholds
}

func buildEvaluator(t Tuning) (*evaluator, error) {
	poly, err := crystal.NewPolycrystal(t.Polycrystal)
	if err != nil {
		return nil, fmt.Errorf("building polycrystal: %w", err)
	}
	sem, err := crystal.NewSemantic(t.Semantic)
	if err != nil {
		return nil, fmt.Errorf("building semantic gate: %w", err)
	}
	return &evaluator{
		poly:  poly,
		sem:   sem,
		mode:  t.CombineMode,
		alpha: t.BlendAlpha,
		th:    poly.Governing(t.DroughtWindow),
	}, nil
}

// ==============================================================================
// Bus
// ==============================================================================

// Bus owns the three priority lanes, the shared plasma record, and the
// evaluation pipeline.
//
// # Description
//
//	Push scores the payload against the current polycrystal, folds the
//	attempt into the plasma record (one CAS), and enqueues only on
//	admission. Pop drains strictly by priority with a quota-based
//	anti-starvation escape. Every counter is a padded atomic; reading
//	state never takes a lock.
//
//	There is no global instance: construct with New and hand the handle
//	to producers and the consumer.
//
// # Thread Safety
//
//	Push, Observe, SupersedeLineage, Snapshot, Counters, and Tick are
//	safe from any goroutine. Each lane is an MPSC ring: Pop, PopWait,
//	and TapPop must each run on one goroutine at a time (one consumer
//	for commands, one for tap events). That discipline is fixed, not
//	configurable.
//
// # Limitations
//
//	push/pop never block and never allocate; they also never log — cold
//	paths (construction, retune, reset, lineage kills) log through the
//	configured slog handler.
type Bus struct {
	state *plasma.State
	eval  atomic.Pointer[evaluator]

	lanes [laneCount]*ring.Ring[Command]
	tap   *ring.Ring[Event]

	lineage *lineageSet

	counters [laneCount]laneCounters

	tick        atomic.Uint64
	invalid     atomic.Uint64
	tapDropped  atomic.Uint64
	completions atomic.Uint64
	_           [cacheLine - 32]byte

	// skipDebt is consumer-side anti-starvation bookkeeping. Owned by
	// the single Pop goroutine; not atomic on purpose.
	skipDebt [laneCount]uint32

	quota  uint32
	logger *slog.Logger
}

// New validates cfg and constructs a Bus. All allocation happens here;
// after New returns, push and pop touch only pre-sized memory.
func New(cfg Config) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ev, err := buildEvaluator(cfg.Tuning)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		state:   &plasma.State{},
		lineage: newLineageSet(cfg.LineageCapacity),
		quota:   cfg.StarvationQuota,
		logger:  logger.With(slog.String("component", "bus")),
	}
	b.eval.Store(ev)

	for i := range b.lanes {
		lane, err := ring.New[Command](cfg.LaneCapacity)
		if err != nil {
			return nil, fmt.Errorf("building %s lane: %w", Priority(i), err)
		}
		b.lanes[i] = lane
	}
	b.tap, err = ring.New[Event](cfg.TapCapacity)
	if err != nil {
		return nil, fmt.Errorf("building tap: %w", err)
	}

	b.logger.Info("bus constructed",
		slog.Int("lane_capacity", cfg.LaneCapacity),
		slog.Int("families", ev.poly.Len()),
		slog.String("policy", ev.poly.Policy().String()),
		slog.String("combine_mode", ev.mode.String()),
	)
	return b, nil
}

// Retune rebuilds the evaluation pipeline from t and swaps it in
// atomically. In-flight pushes finish against the pipeline they loaded;
// the swap never tears an evaluation.
func (b *Bus) Retune(t Tuning) error {
	if t.BlendAlpha < 0 || t.BlendAlpha > 1 {
		return fmt.Errorf("%w: %.3f", ErrBlendAlpha, t.BlendAlpha)
	}
	ev, err := buildEvaluator(t)
	if err != nil {
		return err
	}
	b.eval.Store(ev)
	b.logger.Info("bus retuned",
		slog.Int("families", ev.poly.Len()),
		slog.String("policy", ev.poly.Policy().String()),
		slog.String("combine_mode", ev.mode.String()),
	)
	return nil
}

// ------------------------------------------------------------------------------
// Hot path
// ------------------------------------------------------------------------------

// Push scores cmd, applies the gate, and enqueues on admission.
//
// # Description
//
//	The pipeline per attempt: polycrystal evaluation against the current
//	telemetry observation, semantic rule combination, one CAS transition
//	on the plasma record, then a lane push. A command admitted while its
//	lane is full returns LaneFull without blocking; the gate transition
//	and trigger count stand, because the admission happened and only
//	capacity failed.
//
//	On admission of a command that declares a parent lineage, the parent
//	is killed after the lane push lands (a capacity failure must not
//	orphan the parent kill).
//
// # Thread Safety
//
//	Safe from any number of goroutines. Never blocks, never allocates,
//	never logs, never panics on expected conditions.
func (b *Bus) Push(cmd Command) PushReceipt {
	if !cmd.Priority.IsValid() {
		b.invalid.Add(1)
		return PushReceipt{Outcome: Rejected, Reason: ReasonInvalidPriority, Lane: cmd.Priority}
	}

	tick := b.tick.Add(1)
	ev := b.eval.Load()

	verdict := ev.poly.Evaluate(cmd.Payload, b.state.Observation())
	strength := verdict.FinalStrength
	votePassed := verdict.Passed

	semScore, semPassed := ev.sem.Evaluate(cmd.Payload)
	switch ev.mode {
	case crystal.CombineBlend:
		strength = clamp01(ev.alpha*strength + (1-ev.alpha)*semScore)
	default: // CombineAnd
		votePassed = votePassed && semPassed
	}

	tr := b.state.UpdateFromResonance(strength, verdict.Class, votePassed, tick, ev.th)

	if !tr.Admitted {
		b.counters[cmd.Priority].rejected.Add(1)
		reason := ReasonBelowGate
		switch {
		case tr.Drought && tr.From == gate.Conducting && tr.To == gate.Off:
			reason = ReasonEntropyDrought
		case tr.To.Admits():
			reason = ReasonVoteFailed
		}
		b.emit(Event{Kind: EventRejected, Command: cmd, Transition: tr, Reason: reason, Lane: cmd.Priority, Tick: tick})
		return PushReceipt{Outcome: Rejected, Reason: reason, Lane: cmd.Priority, Strength: tr.Strength, State: tr.To}
	}

	if !b.lanes[cmd.Priority].Push(cmd) {
		b.counters[cmd.Priority].full.Add(1)
		b.emit(Event{Kind: EventLaneFull, Command: cmd, Transition: tr, Lane: cmd.Priority, Tick: tick})
		return PushReceipt{Outcome: LaneFull, Lane: cmd.Priority, Strength: tr.Strength, State: tr.To}
	}
	b.counters[cmd.Priority].pushed.Add(1)

	if cmd.ParentLineage != uuid.Nil && b.lineage.mark(cmd.ParentLineage) {
		b.state.RecordSupersession()
		b.emit(Event{Kind: EventLineageKilled, Command: cmd, Lane: cmd.Priority, Tick: tick})
	}

	b.emit(Event{Kind: EventAdmitted, Command: cmd, Transition: tr, Lane: cmd.Priority, Tick: tick})
	return PushReceipt{Outcome: Enqueued, Lane: cmd.Priority, Strength: tr.Strength, State: tr.To}
}

// Pop returns the next command by strict priority with the quota escape.
//
// # Description
//
//	Critical drains before Urgent before Normal. Each successful pop
//	from a higher lane adds one skip to every lower non-empty lane; a
//	lane whose skips reach the quota is served first on the next call.
//	Among starved lanes the most junior is served first: its debt is
//	always at least as high, because every pop that skips a senior lane
//	also skips it.
//
//	Commands whose lineage was killed while queued are discarded here,
//	counted per lane, and never returned.
//
// # Thread Safety
//
//	Single consumer only. Safe against any number of concurrent Push
//	calls.
func (b *Bus) Pop() (Command, bool) {
	for {
		cmd, lane, ok := b.popLane()
		if !ok {
			return Command{}, false
		}
		if b.lineage.contains(cmd.ID) {
			b.counters[lane].supersededDrops.Add(1)
			b.emit(Event{Kind: EventSupersededDrop, Command: cmd, Lane: lane, Tick: b.tick.Load()})
			continue
		}
		b.counters[lane].popped.Add(1)
		return cmd, true
	}
}

// popLane picks the lane to serve and pops it.
func (b *Bus) popLane() (Command, Priority, bool) {
	// Starved lanes first, most junior first.
	for p := Priority(laneCount - 1); p >= Urgent; p-- {
		if b.skipDebt[p] < b.quota {
			continue
		}
		if cmd, ok := b.lanes[p].Pop(); ok {
			b.skipDebt[p] = 0
			b.chargeSkips(p)
			return cmd, p, true
		}
		b.skipDebt[p] = 0
	}

	// Strict priority.
	for p := Critical; p < laneCount; p++ {
		if cmd, ok := b.lanes[p].Pop(); ok {
			b.chargeSkips(p)
			return cmd, p, true
		}
	}
	return Command{}, 0, false
}

// chargeSkips adds one skip to every non-empty lane junior to the one
// just served. Lane length is advisory; debt is bookkeeping, never a
// correctness input.
func (b *Bus) chargeSkips(served Priority) {
	for q := served + 1; q < laneCount; q++ {
		if b.lanes[q].Len() > 0 {
			b.skipDebt[q]++
		}
	}
}

// clamp01 pins v into [0, 1].
func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ------------------------------------------------------------------------------
// Blocking edge
// ------------------------------------------------------------------------------

// popWaitSpin is how many empty polls PopWait burns before parking.
const popWaitSpin = 64

// popWaitPark is the parked poll interval.
const popWaitPark = 50 * time.Microsecond

// PopWait blocks until a command is available or ctx is done.
//
// A thin spin-then-park wrapper layered outside the lock-free core: it
// polls Pop, yielding for the first popWaitSpin misses, then parks on a
// timer between polls. The hot path underneath is untouched.
//
// Single consumer only, same as Pop.
func (b *Bus) PopWait(ctx context.Context) (Command, error) {
	for spins := 0; ; spins++ {
		if cmd, ok := b.Pop(); ok {
			return cmd, nil
		}
		if err := ctx.Err(); err != nil {
			return Command{}, err
		}
		if spins < popWaitSpin {
			runtime.Gosched()
			continue
		}
		timer := time.NewTimer(popWaitPark)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Command{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// ------------------------------------------------------------------------------
// Control plane
// ------------------------------------------------------------------------------

// Observe stores an environmental telemetry reading. Subsequent pushes
// score against it.
func (b *Bus) Observe(deltaAngle uint16, entropy uint32) {
	b.state.StoreObservation(deltaAngle, entropy)
}

// SupersedeLineage explicitly kills a lineage. Queued commands of that
// lineage are discarded at pop time; the supersession counter increments
// once per newly killed lineage.
func (b *Bus) SupersedeLineage(id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}
	if !b.lineage.mark(id) {
		return false
	}
	b.state.RecordSupersession()
	b.emit(Event{Kind: EventLineageKilled, Command: Command{ID: id}, Tick: b.tick.Load()})
	b.logger.Info("lineage superseded", slog.String("lineage", id.String()))
	return true
}

// Reset forces the gate to Off under an authorization proof. The sole
// exit from Latched; unauthorized calls fail loudly and mutate nothing.
func (b *Bus) Reset(proof authz.Proof) error {
	if err := b.state.Reset(proof); err != nil {
		return err
	}
	b.emit(Event{Kind: EventReset, Tick: b.tick.Load()})
	return nil
}

// Complete mirrors a consumer result to the tap for the journal and
// bridge. Purely observational: results never feed admission.
func (b *Bus) Complete(res Result) {
	b.completions.Add(1)
	b.emit(Event{Kind: EventCompleted, Result: res, Tick: b.tick.Load()})
}

// ------------------------------------------------------------------------------
// Read-only surfaces
// ------------------------------------------------------------------------------

// Snapshot returns the current plasma record view.
func (b *Bus) Snapshot() plasma.Snapshot {
	return b.state.Snapshot()
}

// Counters returns the live counter snapshot.
func (b *Bus) Counters() Counters {
	c := Counters{
		Tick:             b.tick.Load(),
		InvalidPushes:    b.invalid.Load(),
		TapDropped:       b.tapDropped.Load(),
		Completions:      b.completions.Load(),
		LineageEvictions: b.lineage.evictions(),
	}
	for i := range b.counters {
		c.Lanes[i] = b.counters[i].snapshot()
	}
	return c
}

// Tick returns the current logical admission tick.
func (b *Bus) Tick() uint64 {
	return b.tick.Load()
}

// LaneLen returns a lane's advisory depth.
func (b *Bus) LaneLen(p Priority) int {
	if !p.IsValid() {
		return 0
	}
	return b.lanes[p].Len()
}

// IsSuperseded reports whether a lineage has been killed.
func (b *Bus) IsSuperseded(id uuid.UUID) bool {
	return b.lineage.contains(id)
}

// ------------------------------------------------------------------------------
// Tap
// ------------------------------------------------------------------------------

// emit mirrors an event into the tap. A full tap drops the event and
// counts the drop; the hot path never waits for the observer.
func (b *Bus) emit(ev Event) {
	if !b.tap.Push(ev) {
		b.tapDropped.Add(1)
	}
}

// TapPop drains one event from the tap. Single tap consumer only; the
// drain worker fans events out to the journal and bridge off the hot
// path.
func (b *Bus) TapPop() (Event, bool) {
	return b.tap.Pop()
}

// TapLen returns the advisory tap backlog.
func (b *Bus) TapLen() int {
	return b.tap.Len()
}
