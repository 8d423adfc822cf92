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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/plasmabus/authz"
	"github.com/AleutianAI/plasmabus/crystal"
	"github.com/AleutianAI/plasmabus/gate"
	"github.com/AleutianAI/plasmabus/plasma"
)

// driftFamily rings purely on the drift term, so tests steer the score
// exactly through Observe: strength = 1 - deltaAngle/65535.
func driftFamily(gateTh, holding, latch float32) crystal.Family {
	return crystal.Family{
		ID:                      "drift",
		DeltaWeight:             1,
		GateThresh:              gateTh,
		HoldingThresh:           holding,
		LatchThresh:             latch,
		EntropyDroughtThreshold: 1000,
	}
}

// openFamily admits everything: gate threshold zero, any score conducts.
func openFamily() crystal.Family {
	return driftFamily(0, 0, 1)
}

// angleFor returns the drift encoding that makes driftFamily score
// approximately s (within one encoding step).
func angleFor(s float32) uint16 {
	return uint16((1 - s) * 65535)
}

func testConfig(f crystal.Family) Config {
	cfg := DefaultConfig()
	cfg.LaneCapacity = 8
	cfg.LineageCapacity = 64
	cfg.TapCapacity = 256
	cfg.StarvationQuota = 2
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Tuning = Tuning{
		Polycrystal: crystal.PolycrystalConfig{
			Members: []crystal.Member{{Family: f, Weight: 1}},
			Policy:  crystal.VoteAny,
		},
	}
	return cfg
}

func newTestBus(t *testing.T, f crystal.Family) *Bus {
	t.Helper()
	b, err := New(testConfig(f))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func testCmd(p Priority) Command {
	return Command{ID: uuid.New(), Priority: p}
}

// grantProof mints a valid reset proof. The heap-custody escape hatch
// keeps the test independent of mlock limits; NewAuthority wipes the
// token it is handed, so Grant gets a retained copy.
func grantProof(t *testing.T) authz.Proof {
	t.Helper()
	t.Setenv("PLASMABUS_INSECURE_MEMORY", "true")

	token := bytes.Repeat([]byte{0x42}, authz.TokenLength)
	cp := append([]byte(nil), token...)

	a, err := authz.NewAuthority(token)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	t.Cleanup(a.Close)

	proof, err := a.Grant(cp)
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	return proof
}

// ==============================================================================
// Admission
// ==============================================================================

func TestPush_ColdGateOpensAtZeroThreshold(t *testing.T) {
	// A zero gate threshold means the very first attempt on a cold bus
	// arms and conducts in one step.
	b := newTestBus(t, openFamily())

	c := testCmd(Normal)
	r := b.Push(c)

	if r.Outcome != Enqueued {
		t.Fatalf("Outcome = %v, want Enqueued", r.Outcome)
	}
	if r.State != gate.Conducting {
		t.Errorf("State = %v, want Conducting", r.State)
	}
	if r.Reason != ReasonNone {
		t.Errorf("Reason = %v, want ReasonNone", r.Reason)
	}

	snap := b.Snapshot()
	if snap.SDTState != gate.Conducting {
		t.Errorf("SDTState = %v, want Conducting", snap.SDTState)
	}
	if !snap.Excited {
		t.Error("Excited = false after admission")
	}
	if snap.TriggerCount != 1 {
		t.Errorf("TriggerCount = %d, want 1", snap.TriggerCount)
	}
	if b.LaneLen(Normal) != 1 {
		t.Errorf("LaneLen(Normal) = %d, want 1", b.LaneLen(Normal))
	}

	got, ok := b.Pop()
	if !ok || got.ID != c.ID {
		t.Fatalf("Pop() = (%v, %v), want the pushed command", got.ID, ok)
	}
}

func TestPush_WeakScoreArmsWithoutAdmitting(t *testing.T) {
	// A score far below a strict gate threshold arms the gate (Off ->
	// Primed) but admits nothing and mutates no progress counters. The
	// attempt's strength is still recorded.
	b := newTestBus(t, driftFamily(0.99, 0.50, 1.0))
	b.Observe(angleFor(0.40), 0)

	parent := uuid.New()
	c := testCmd(Normal)
	c.ParentLineage = parent

	r := b.Push(c)
	if r.Outcome != Rejected {
		t.Fatalf("Outcome = %v, want Rejected", r.Outcome)
	}
	if r.Reason != ReasonBelowGate {
		t.Errorf("Reason = %v, want ReasonBelowGate", r.Reason)
	}
	if r.State != gate.Primed {
		t.Errorf("State = %v, want Primed", r.State)
	}
	if r.Strength < 0.39 || r.Strength > 0.41 {
		t.Errorf("Strength = %.4f, want ~0.40", r.Strength)
	}

	snap := b.Snapshot()
	if snap.SDTState != gate.Primed {
		t.Errorf("SDTState = %v, want Primed", snap.SDTState)
	}
	if snap.Excited {
		t.Error("Excited = true after rejection")
	}
	if snap.TriggerCount != 0 {
		t.Errorf("TriggerCount = %d, want 0", snap.TriggerCount)
	}
	if snap.SupersessionCount != 0 {
		t.Errorf("SupersessionCount = %d, want 0", snap.SupersessionCount)
	}
	if snap.LastRingStrength < 0.39 || snap.LastRingStrength > 0.41 {
		t.Errorf("LastRingStrength = %.4f, want ~0.40", snap.LastRingStrength)
	}

	// A rejected command never kills the parent it declared.
	if b.IsSuperseded(parent) {
		t.Error("rejected push marked its parent lineage superseded")
	}
	if b.LaneLen(Normal) != 0 {
		t.Errorf("LaneLen(Normal) = %d, want 0", b.LaneLen(Normal))
	}

	ctrs := b.Counters()
	if ctrs.Lanes[Normal].Rejected != 1 {
		t.Errorf("Rejected counter = %d, want 1", ctrs.Lanes[Normal].Rejected)
	}
	if ctrs.Lanes[Normal].Pushed != 0 {
		t.Errorf("Pushed counter = %d, want 0", ctrs.Lanes[Normal].Pushed)
	}
}

func TestBus_LatchedAdmitsUntilReset(t *testing.T) {
	// Once latched, the gate admits regardless of score; only an
	// authorized reset closes it, and an unauthorized one fails loudly
	// without touching anything.
	b := newTestBus(t, driftFamily(0.55, 0.35, 0.90))

	// Zero observation scores 1.0: first push conducts, second latches.
	if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
		t.Fatalf("push 1: Outcome = %v, want Enqueued", r.Outcome)
	}
	r := b.Push(testCmd(Normal))
	if r.Outcome != Enqueued || r.State != gate.Latched {
		t.Fatalf("push 2 = (%v, %v), want (Enqueued, Latched)", r.Outcome, r.State)
	}

	// Drop the score below the gate threshold: a latched gate does not
	// care, and the failed family vote is bypassed.
	b.Observe(angleFor(0.40), 0)
	r = b.Push(testCmd(Normal))
	if r.Outcome != Enqueued {
		t.Fatalf("latched push: Outcome = %v, want Enqueued", r.Outcome)
	}
	if r.State != gate.Latched {
		t.Errorf("latched push: State = %v, want Latched", r.State)
	}

	// Unauthorized reset: loud failure, no mutation.
	err := b.Reset(authz.Proof{})
	if !errors.Is(err, plasma.ErrUnauthorizedReset) {
		t.Fatalf("Reset(zero proof) = %v, want ErrUnauthorizedReset", err)
	}
	if !errors.Is(err, authz.ErrUnauthorized) {
		t.Errorf("Reset error does not wrap authz.ErrUnauthorized: %v", err)
	}
	if got := b.Snapshot().SDTState; got != gate.Latched {
		t.Fatalf("SDTState after unauthorized reset = %v, want Latched", got)
	}

	// Authorized reset closes the gate.
	if err := b.Reset(grantProof(t)); err != nil {
		t.Fatalf("authorized Reset: %v", err)
	}
	if got := b.Snapshot().SDTState; got != gate.Off {
		t.Fatalf("SDTState after reset = %v, want Off", got)
	}

	// Same weak observation no longer admits.
	r = b.Push(testCmd(Normal))
	if r.Outcome != Rejected || r.State != gate.Primed {
		t.Fatalf("post-reset push = (%v, %v), want (Rejected, Primed)", r.Outcome, r.State)
	}
}

func TestPush_LaneFullBackpressure(t *testing.T) {
	// A full lane reports LaneFull instead of blocking or evicting. The
	// admission itself stood: the gate transition and trigger count are
	// kept, only the enqueue failed.
	b := newTestBus(t, driftFamily(0.55, 0.35, 1.0))
	b.Observe(angleFor(0.80), 0)

	for i := 0; i < 8; i++ {
		if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
			t.Fatalf("push %d: Outcome = %v, want Enqueued", i, r.Outcome)
		}
	}

	r := b.Push(testCmd(Normal))
	if r.Outcome != LaneFull {
		t.Fatalf("Outcome = %v, want LaneFull", r.Outcome)
	}
	if r.State != gate.Conducting {
		t.Errorf("State = %v, want Conducting", r.State)
	}
	if b.LaneLen(Normal) != 8 {
		t.Errorf("LaneLen(Normal) = %d, want 8", b.LaneLen(Normal))
	}

	snap := b.Snapshot()
	if snap.TriggerCount != 9 {
		t.Errorf("TriggerCount = %d, want 9 (admission stands on LaneFull)", snap.TriggerCount)
	}

	ctrs := b.Counters()
	if ctrs.Lanes[Normal].Full != 1 {
		t.Errorf("Full counter = %d, want 1", ctrs.Lanes[Normal].Full)
	}
	if ctrs.Lanes[Normal].Pushed != 8 {
		t.Errorf("Pushed counter = %d, want 8", ctrs.Lanes[Normal].Pushed)
	}

	// Other lanes are unaffected by one lane's backpressure.
	if r := b.Push(testCmd(Urgent)); r.Outcome != Enqueued {
		t.Errorf("Urgent push during Normal backpressure: Outcome = %v, want Enqueued", r.Outcome)
	}
}

func TestBus_SupersededCommandsSkippedAtPop(t *testing.T) {
	// Killing a lineage while its command sits in a lane does not remove
	// it in place; the consumer discards it at pop time and the discard
	// is counted.
	b := newTestBus(t, openFamily())

	c1, c2, c3 := testCmd(Normal), testCmd(Normal), testCmd(Normal)
	for _, c := range []Command{c1, c2, c3} {
		if r := b.Push(c); r.Outcome != Enqueued {
			t.Fatalf("Push(%v): Outcome = %v", c.ID, r.Outcome)
		}
	}

	if !b.SupersedeLineage(c2.ID) {
		t.Fatal("SupersedeLineage reported already-marked for a fresh lineage")
	}
	if b.SupersedeLineage(c2.ID) {
		t.Error("second SupersedeLineage of the same lineage reported newly marked")
	}
	if !b.IsSuperseded(c2.ID) {
		t.Fatal("IsSuperseded = false after kill")
	}
	if got := b.Snapshot().SupersessionCount; got != 1 {
		t.Errorf("SupersessionCount = %d, want 1", got)
	}

	got1, ok := b.Pop()
	if !ok || got1.ID != c1.ID {
		t.Fatalf("pop 1 = (%v, %v), want c1", got1.ID, ok)
	}
	got2, ok := b.Pop()
	if !ok || got2.ID != c3.ID {
		t.Fatalf("pop 2 = (%v, %v), want c3 (c2 discarded)", got2.ID, ok)
	}
	if _, ok := b.Pop(); ok {
		t.Error("pop 3 returned a command from an empty bus")
	}

	ctrs := b.Counters()
	if ctrs.Lanes[Normal].SupersededDrops != 1 {
		t.Errorf("SupersededDrops = %d, want 1", ctrs.Lanes[Normal].SupersededDrops)
	}
	if ctrs.Lanes[Normal].Popped != 2 {
		t.Errorf("Popped = %d, want 2", ctrs.Lanes[Normal].Popped)
	}
	if ctrs.Lanes[Normal].Pushed != 3 {
		t.Errorf("Pushed = %d, want 3", ctrs.Lanes[Normal].Pushed)
	}
}

func TestPush_ParentLineageKilledOnAdmission(t *testing.T) {
	// Admitting a command that declares a parent kills the parent's
	// lineage on entry; the queued parent is then discarded at pop.
	b := newTestBus(t, openFamily())

	parent := testCmd(Normal)
	if r := b.Push(parent); r.Outcome != Enqueued {
		t.Fatalf("parent push: %v", r.Outcome)
	}

	child := testCmd(Urgent)
	child.ParentLineage = parent.ID
	if r := b.Push(child); r.Outcome != Enqueued {
		t.Fatalf("child push: %v", r.Outcome)
	}

	if !b.IsSuperseded(parent.ID) {
		t.Fatal("parent lineage not marked after child admission")
	}
	if got := b.Snapshot().SupersessionCount; got != 1 {
		t.Errorf("SupersessionCount = %d, want 1", got)
	}

	got, ok := b.Pop()
	if !ok || got.ID != child.ID {
		t.Fatalf("pop 1 = (%v, %v), want the child", got.ID, ok)
	}
	if _, ok := b.Pop(); ok {
		t.Error("pop 2 returned the superseded parent")
	}
	if got := b.Counters().Lanes[Normal].SupersededDrops; got != 1 {
		t.Errorf("SupersededDrops = %d, want 1", got)
	}
}

func TestPush_InvalidPriority(t *testing.T) {
	b := newTestBus(t, openFamily())

	r := b.Push(Command{ID: uuid.New(), Priority: Priority(9)})
	if r.Outcome != Rejected || r.Reason != ReasonInvalidPriority {
		t.Fatalf("receipt = (%v, %v), want (Rejected, ReasonInvalidPriority)", r.Outcome, r.Reason)
	}
	if got := b.Counters().InvalidPushes; got != 1 {
		t.Errorf("InvalidPushes = %d, want 1", got)
	}
	// Rejected before the pipeline: no admission tick consumed.
	if got := b.Tick(); got != 0 {
		t.Errorf("Tick = %d, want 0", got)
	}
}

// ==============================================================================
// Semantic combination
// ==============================================================================

func TestPush_SemanticVeto(t *testing.T) {
	// Under the And mode a failed byte rule vetoes admission without
	// touching the gate: the transition still happens on physics alone.
	cfg := testConfig(driftFamily(0.55, 0.35, 1.0))
	cfg.Tuning.Semantic = crystal.SemanticConfig{RequiredPrefix: []byte("PB1:")}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Observe(angleFor(0.80), 0)

	bad := Command{ID: uuid.New(), Priority: Normal, Payload: []byte("raw-bytes")}
	r := b.Push(bad)
	if r.Outcome != Rejected || r.Reason != ReasonVoteFailed {
		t.Fatalf("receipt = (%v, %v), want (Rejected, ReasonVoteFailed)", r.Outcome, r.Reason)
	}
	if r.State != gate.Conducting {
		t.Errorf("State = %v, want Conducting (veto blocks admission, not the gate)", r.State)
	}

	good := Command{ID: uuid.New(), Priority: Normal, Payload: []byte("PB1:payload")}
	if r := b.Push(good); r.Outcome != Enqueued {
		t.Fatalf("framed push: Outcome = %v, want Enqueued", r.Outcome)
	}
}

func TestPush_BlendFoldsSemanticScore(t *testing.T) {
	// Under the blend mode the semantic score moves the strength that
	// drives the gate instead of holding a veto.
	cfg := testConfig(driftFamily(0.55, 0.35, 1.0))
	cfg.Tuning.Semantic = crystal.SemanticConfig{RequiredPrefix: []byte("PB1:")}
	cfg.Tuning.CombineMode = crystal.CombineBlend
	cfg.Tuning.BlendAlpha = 0.5
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Observe(angleFor(0.80), 0)

	// Physics 0.8, semantic 0: blended 0.4 stays below the gate.
	bad := Command{ID: uuid.New(), Priority: Normal, Payload: []byte("nope")}
	r := b.Push(bad)
	if r.Outcome != Rejected || r.Reason != ReasonBelowGate {
		t.Fatalf("receipt = (%v, %v), want (Rejected, ReasonBelowGate)", r.Outcome, r.Reason)
	}
	if r.State != gate.Primed {
		t.Errorf("State = %v, want Primed", r.State)
	}
	if r.Strength < 0.39 || r.Strength > 0.41 {
		t.Errorf("Strength = %.4f, want ~0.40 (0.5*0.8 + 0.5*0)", r.Strength)
	}

	// Physics 0.8, semantic 1: blended 0.9 conducts.
	good := Command{ID: uuid.New(), Priority: Normal, Payload: []byte("PB1:ok")}
	r = b.Push(good)
	if r.Outcome != Enqueued {
		t.Fatalf("framed push: Outcome = %v, want Enqueued", r.Outcome)
	}
	if r.Strength < 0.89 || r.Strength > 0.91 {
		t.Errorf("Strength = %.4f, want ~0.90", r.Strength)
	}
}

// ==============================================================================
// Entropy drought
// ==============================================================================

func TestPush_EntropyDroughtClosesGate(t *testing.T) {
	// Entropy collapsing below the family threshold for the full window
	// forces a conducting gate off regardless of momentary strength, and
	// the rejection is the one retryable kind.
	cfg := testConfig(driftFamily(0.55, 0.35, 1.0))
	cfg.Tuning.DroughtWindow = 2
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.Observe(angleFor(0.80), 5000)
	if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
		t.Fatalf("wet push: Outcome = %v, want Enqueued", r.Outcome)
	}

	// Entropy collapses; strength stays healthy at 0.8.
	b.Observe(angleFor(0.80), 10)
	if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
		t.Fatalf("within-window push: Outcome = %v, want Enqueued", r.Outcome)
	}

	r := b.Push(testCmd(Normal))
	if r.Outcome != Rejected || r.Reason != ReasonEntropyDrought {
		t.Fatalf("receipt = (%v, %v), want (Rejected, ReasonEntropyDrought)", r.Outcome, r.Reason)
	}
	if r.State != gate.Off {
		t.Errorf("State = %v, want Off", r.State)
	}
	if !r.Reason.Retryable() {
		t.Error("drought rejection not marked retryable")
	}

	// Entropy recovery reopens the gate on the next attempt.
	b.Observe(angleFor(0.80), 5000)
	if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
		t.Errorf("recovery push: Outcome = %v, want Enqueued", r.Outcome)
	}
}

// ==============================================================================
// Lane discipline
// ==============================================================================

func TestPop_StrictPriority(t *testing.T) {
	cfg := testConfig(openFamily())
	cfg.StarvationQuota = 32
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n1, n2 := testCmd(Normal), testCmd(Normal)
	u1 := testCmd(Urgent)
	k1 := testCmd(Critical)
	for _, c := range []Command{n1, n2, u1, k1} {
		if r := b.Push(c); r.Outcome != Enqueued {
			t.Fatalf("Push: %v", r.Outcome)
		}
	}

	want := []uuid.UUID{k1.ID, u1.ID, n1.ID, n2.ID}
	for i, id := range want {
		got, ok := b.Pop()
		if !ok {
			t.Fatalf("pop %d: empty", i)
		}
		if got.ID != id {
			t.Fatalf("pop %d = %v, want %v", i, got.ID, id)
		}
	}
}

func TestPop_FIFOWithinLane(t *testing.T) {
	b := newTestBus(t, openFamily())

	var pushed []uuid.UUID
	for i := 0; i < 6; i++ {
		c := testCmd(Normal)
		pushed = append(pushed, c.ID)
		if r := b.Push(c); r.Outcome != Enqueued {
			t.Fatalf("push %d: %v", i, r.Outcome)
		}
	}
	for i, id := range pushed {
		got, ok := b.Pop()
		if !ok || got.ID != id {
			t.Fatalf("pop %d = (%v, %v), want %v", i, got.ID, ok, id)
		}
	}
}

func TestPop_StarvationBound(t *testing.T) {
	// Under sustained Critical load the Normal head must surface within
	// quota+1 pops and the Urgent head within quota+2. With quota 2 the
	// Critical lane is served twice, then the most junior starved lane
	// (Normal first, then Urgent).
	cfg := testConfig(openFamily())
	cfg.StarvationQuota = 2
	cfg.LaneCapacity = 32
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	norm := testCmd(Normal)
	urg := testCmd(Urgent)
	b.Push(norm)
	b.Push(urg)
	for i := 0; i < 16; i++ {
		if r := b.Push(testCmd(Critical)); r.Outcome != Enqueued {
			t.Fatalf("critical push %d: %v", i, r.Outcome)
		}
	}

	var got []Command
	for i := 0; i < 6; i++ {
		c, ok := b.Pop()
		if !ok {
			t.Fatalf("pop %d: empty", i)
		}
		got = append(got, c)
		// Keep the Critical lane hot, as a live producer would.
		b.Push(testCmd(Critical))
	}

	wantLanes := []Priority{Critical, Critical, Normal, Urgent, Critical, Critical}
	for i, w := range wantLanes {
		if got[i].Priority != w {
			t.Fatalf("pop sequence %v, want lanes %v", lanesOf(got), wantLanes)
		}
	}
	if got[2].ID != norm.ID {
		t.Errorf("pop 2 = %v, want the starved Normal head", got[2].ID)
	}
	if got[3].ID != urg.ID {
		t.Errorf("pop 3 = %v, want the starved Urgent head", got[3].ID)
	}
}

func lanesOf(cmds []Command) []Priority {
	out := make([]Priority, len(cmds))
	for i, c := range cmds {
		out[i] = c.Priority
	}
	return out
}

func TestPop_Empty(t *testing.T) {
	b := newTestBus(t, openFamily())
	if _, ok := b.Pop(); ok {
		t.Error("Pop on a fresh bus returned a command")
	}
}

func TestPopWait(t *testing.T) {
	t.Run("delivers a late push", func(t *testing.T) {
		b := newTestBus(t, openFamily())
		c := testCmd(Normal)
		go func() {
			time.Sleep(5 * time.Millisecond)
			b.Push(c)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		got, err := b.PopWait(ctx)
		if err != nil {
			t.Fatalf("PopWait: %v", err)
		}
		if got.ID != c.ID {
			t.Errorf("PopWait = %v, want %v", got.ID, c.ID)
		}
	})

	t.Run("honors cancellation", func(t *testing.T) {
		b := newTestBus(t, openFamily())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := b.PopWait(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("PopWait = %v, want DeadlineExceeded", err)
		}
	})
}

// ==============================================================================
// Tap
// ==============================================================================

func TestBus_TapEvents(t *testing.T) {
	b := newTestBus(t, driftFamily(0.55, 0.35, 1.0))

	b.Observe(angleFor(0.80), 0)
	c1 := testCmd(Normal)
	b.Push(c1) // admitted

	b.Observe(angleFor(0.10), 0)
	c2 := testCmd(Normal)
	b.Push(c2) // anode drop, rejected

	b.SupersedeLineage(c1.ID)
	b.Pop() // discards c1, returns nothing
	b.Complete(Result{CommandID: c2.ID, Status: StatusOk})
	if err := b.Reset(grantProof(t)); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	want := []EventKind{
		EventAdmitted,
		EventRejected,
		EventLineageKilled,
		EventSupersededDrop,
		EventCompleted,
		EventReset,
	}
	for i, k := range want {
		ev, ok := b.TapPop()
		if !ok {
			t.Fatalf("tap event %d missing, want %v", i, k)
		}
		if ev.Kind != k {
			t.Fatalf("tap event %d = %v, want %v", i, ev.Kind, k)
		}
	}
	if _, ok := b.TapPop(); ok {
		t.Error("tap not empty after expected events")
	}
}

func TestBus_TapOverflowDropsCounted(t *testing.T) {
	cfg := testConfig(openFamily())
	cfg.TapCapacity = 2
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
			t.Fatalf("push %d: %v", i, r.Outcome)
		}
	}
	if got := b.Counters().TapDropped; got != 1 {
		t.Errorf("TapDropped = %d, want 1", got)
	}
	if got := b.TapLen(); got != 2 {
		t.Errorf("TapLen = %d, want 2", got)
	}
}

// ==============================================================================
// Retune
// ==============================================================================

func TestBus_Retune(t *testing.T) {
	b := newTestBus(t, driftFamily(0.99, 0.50, 1.0))
	b.Observe(angleFor(0.60), 0)

	if r := b.Push(testCmd(Normal)); r.Outcome != Rejected {
		t.Fatalf("pre-retune push: Outcome = %v, want Rejected", r.Outcome)
	}

	err := b.Retune(Tuning{
		Polycrystal: crystal.PolycrystalConfig{
			Members: []crystal.Member{{Family: driftFamily(0.35, 0.20, 1.0), Weight: 1}},
			Policy:  crystal.VoteAny,
		},
	})
	if err != nil {
		t.Fatalf("Retune: %v", err)
	}
	if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
		t.Fatalf("post-retune push: Outcome = %v, want Enqueued", r.Outcome)
	}

	t.Run("invalid tuning rejected whole", func(t *testing.T) {
		if err := b.Retune(Tuning{BlendAlpha: 1.5}); !errors.Is(err, ErrBlendAlpha) {
			t.Errorf("Retune(alpha 1.5) = %v, want ErrBlendAlpha", err)
		}
		if err := b.Retune(Tuning{}); !errors.Is(err, crystal.ErrNoFamilies) {
			t.Errorf("Retune(empty) = %v, want ErrNoFamilies", err)
		}
		// The live pipeline is untouched by failed retunes.
		if r := b.Push(testCmd(Normal)); r.Outcome != Enqueued {
			t.Errorf("push after failed retunes: Outcome = %v, want Enqueued", r.Outcome)
		}
	})
}

// ==============================================================================
// Configuration
// ==============================================================================

func TestConfig_Validate(t *testing.T) {
	valid := testConfig(openFamily())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero lane capacity", func(c *Config) { c.LaneCapacity = 0 }, ErrLaneCapacity},
		{"non power of two lane", func(c *Config) { c.LaneCapacity = 12 }, ErrLaneCapacity},
		{"lineage below probe window", func(c *Config) { c.LineageCapacity = 8 }, ErrLineageCapacity},
		{"non power of two tap", func(c *Config) { c.TapCapacity = 3 }, ErrTapCapacity},
		{"zero quota", func(c *Config) { c.StarvationQuota = 0 }, ErrStarvationQuota},
		{"alpha below range", func(c *Config) { c.Tuning.BlendAlpha = -0.1 }, ErrBlendAlpha},
		{"alpha above range", func(c *Config) { c.Tuning.BlendAlpha = 1.1 }, ErrBlendAlpha},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("default config is valid", func(t *testing.T) {
		if err := DefaultConfig().Validate(); err != nil {
			t.Errorf("DefaultConfig().Validate() = %v", err)
		}
	})

	t.Run("crystal errors propagate through New", func(t *testing.T) {
		cfg := valid
		cfg.Tuning.Polycrystal.Members = nil
		if _, err := New(cfg); !errors.Is(err, crystal.ErrNoFamilies) {
			t.Errorf("New = %v, want ErrNoFamilies", err)
		}
	})
}

// ==============================================================================
// Concurrency
// ==============================================================================

func TestBus_ConcurrentPushPop(t *testing.T) {
	// Producers hammer all three lanes while one consumer drains.
	// Everything admitted must come out exactly once; the counters must
	// agree with the receipts.
	cfg := testConfig(openFamily())
	cfg.LaneCapacity = 1024
	cfg.TapCapacity = 16384
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const producers = 4
	const perProducer = 400

	var enqueued, full atomic.Uint64
	done := make(chan struct{})

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(seed int) {
				defer wg.Done()
				for i := 0; i < perProducer; i++ {
					r := b.Push(testCmd(Priority((seed + i) % int(laneCount))))
					switch r.Outcome {
					case Enqueued:
						enqueued.Add(1)
					case LaneFull:
						full.Add(1)
					default:
						t.Errorf("unexpected outcome %v", r.Outcome)
					}
				}
			}(p)
		}
		wg.Wait()
	}()

	var popped uint64
	for {
		if _, ok := b.Pop(); ok {
			popped++
			continue
		}
		select {
		case <-done:
			for {
				if _, ok := b.Pop(); !ok {
					break
				}
				popped++
			}
			if popped != enqueued.Load() {
				t.Fatalf("popped %d, enqueued %d, lane-full %d", popped, enqueued.Load(), full.Load())
			}
			ctrs := b.Counters()
			var ctrPushed, ctrPopped uint64
			for _, lane := range ctrs.Lanes {
				ctrPushed += lane.Pushed
				ctrPopped += lane.Popped
			}
			if ctrPushed != enqueued.Load() {
				t.Errorf("counter pushed %d, receipts %d", ctrPushed, enqueued.Load())
			}
			if ctrPopped != popped {
				t.Errorf("counter popped %d, observed %d", ctrPopped, popped)
			}
			if ctrs.Tick != uint64(producers*perProducer) {
				t.Errorf("Tick = %d, want %d", ctrs.Tick, producers*perProducer)
			}
			return
		default:
			runtime.Gosched()
		}
	}
}
