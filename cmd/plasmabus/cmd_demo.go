// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/crystal"
	"github.com/AleutianAI/plasmabus/journal"
	"github.com/AleutianAI/plasmabus/pkg/ux"
	"github.com/AleutianAI/plasmabus/pkg/validation"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runDemoCommand pushes synthetic churn through a local bus.
//
// # Description
//
// Builds an in-process bus on the chosen preset, sweeps the plasma
// observation through hot and cold phases, and races N producers
// against one consumer so the terminal shows real admission waves:
// conduction streaks, gate drops, drought rejections, lineage
// supersessions. Every tap event lands in a session journal (in-memory
// unless --journal names a directory), which is replayed at the end to
// show store continuity.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Limitations
//
//   - Exits with code 1 on setup failure
func runDemoCommand(cmd *cobra.Command, args []string) {
	family, ok := crystal.PresetByName(demoPreset)
	if !ok {
		ux.Error(fmt.Sprintf("Unknown preset %q (choose from: %s)",
			demoPreset, strings.Join(crystal.PresetNames(), ", ")))
		os.Exit(1)
	}
	session, err := validation.SanitizeSessionID(demoSession)
	if err != nil {
		ux.Error(fmt.Sprintf("Invalid session id: %v", err))
		os.Exit(1)
	}
	if demoCommands < 1 {
		demoCommands = 1
	}
	if demoProducers < 1 {
		demoProducers = 1
	}

	// Cold-path bus logs would interleave with the event stream.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	busCfg := bus.DefaultConfig()
	busCfg.Tuning.Polycrystal = crystal.PolycrystalConfig{
		Members: []crystal.Member{{Family: family, Weight: 1}},
		Policy:  crystal.VoteAny,
	}
	busCfg.Logger = quiet
	b, err := bus.New(busCfg)
	if err != nil {
		ux.Error(fmt.Sprintf("Bus construction failed: %v", err))
		os.Exit(1)
	}

	jnl, err := journal.New(journal.Config{
		Path:      demoJournal,
		SessionID: session,
		InMemory:  demoJournal == "",
		Logger:    quiet,
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Journal open failed: %v", err))
		os.Exit(1)
	}
	defer jnl.Close()
	recorder, err := journal.NewRecorder(jnl, journal.RecorderConfig{})
	if err != nil {
		ux.Error(fmt.Sprintf("Journal recorder rejected: %v", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ux.Title(fmt.Sprintf("Plasma churn: %d commands, %d producers, %s preset",
		demoCommands, demoProducers, family.ID))

	tally := demoTally{}
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return sweepEnvironment(gctx, b)
	})
	g.Go(func() error {
		return consumeCommands(gctx, b)
	})
	g.Go(func() error {
		err := b.DrainTap(gctx, func(ev bus.Event) {
			recorder.Offer(ev)
			tally.observe(ev)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	var wg sync.WaitGroup
	perProducer := demoCommands / demoProducers
	remainder := demoCommands % demoProducers
	for i := 0; i < demoProducers; i++ {
		n := perProducer
		if i < remainder {
			n++
		}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			produceCommands(gctx, b, n)
		}(n)
	}
	wg.Wait()

	// Let the consumer drain what the producers left queued.
	settle := time.Now().Add(2 * time.Second)
	for time.Now().Before(settle) && ctx.Err() == nil {
		if b.LaneLen(bus.Critical)+b.LaneLen(bus.Urgent)+b.LaneLen(bus.Normal) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancelRun()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		ux.Error(fmt.Sprintf("Demo run failed: %v", err))
		os.Exit(1)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := recorder.Flush(flushCtx); err != nil {
		ux.Warning(fmt.Sprintf("Journal flush incomplete: %v", err))
	}
	cancel()
	recorder.Close()

	replayJournal(jnl)

	snap := b.Snapshot()
	counters := b.Counters()
	fmt.Println()
	ux.Summary(tally.admitted, tally.rejected+tally.laneFull, tally.admitted+tally.rejected+tally.laneFull)
	ux.Info(fmt.Sprintf("Gate %s after %d triggers, %d supersessions, %d completions",
		snap.SDTState, snap.TriggerCount, snap.SupersessionCount, counters.Completions))
	if counters.TapDropped > 0 {
		ux.Warning(fmt.Sprintf("%d tap events dropped (observer fell behind)", counters.TapDropped))
	}
}

// =============================================================================
// CHURN DRIVERS
// =============================================================================

// sweepEnvironment oscillates the shared observation so admission
// strength rises and falls over the run: entropy rides a slow sine
// while drift wanders on its own period.
func sweepEnvironment(ctx context.Context, b *bus.Bus) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	phase := 0.0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			phase += 0.04
			hot := 0.5 + 0.45*math.Sin(phase)
			drift := 0.5 + 0.5*math.Cos(phase*0.37)
			b.Observe(uint16(drift*65535), uint32(hot*float64(math.MaxUint32)))
		}
	}
}

// produceCommands pushes n commands with jittered pacing. Every eighth
// command supersedes the producer's previous one, so the run exercises
// lineage kills and pop-time drops alongside plain admission.
func produceCommands(ctx context.Context, b *bus.Bus, n int) {
	var prev uuid.UUID
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		u1, u2 := uuid.New(), uuid.New()
		cmd := bus.Command{
			ID:          u1,
			Priority:    pickLane(),
			Payload:     append(u1[:], u2[:]...),
			CreatedTick: b.Tick(),
		}
		if i%8 == 7 && prev != uuid.Nil {
			cmd.ParentLineage = prev
		}
		if r := b.Push(cmd); r.Outcome == bus.Enqueued {
			prev = cmd.ID
		}
		time.Sleep(time.Duration(2+rand.IntN(6)) * time.Millisecond)
	}
}

// pickLane skews traffic toward Normal the way real workloads do.
func pickLane() bus.Priority {
	switch r := rand.IntN(10); {
	case r == 0:
		return bus.Critical
	case r < 4:
		return bus.Urgent
	default:
		return bus.Normal
	}
}

// consumeCommands drains the lanes and reports a result per command,
// with the occasional failure mixed in.
func consumeCommands(ctx context.Context, b *bus.Bus) error {
	for {
		cmd, err := b.PopWait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		status := bus.StatusOk
		if rand.IntN(16) == 0 {
			status = bus.StatusErr
		}
		b.Complete(bus.Result{CommandID: cmd.ID, Status: status, Tick: b.Tick()})
	}
}

// =============================================================================
// EVENT REPORTING
// =============================================================================

// demoTally renders tap events as they stream and keeps the admission
// totals for the closing summary. Only the drain goroutine touches it.
type demoTally struct {
	admitted  int
	rejected  int
	laneFull  int
	lastState string
}

func (t *demoTally) observe(ev bus.Event) {
	switch ev.Kind {
	case bus.EventAdmitted:
		t.admitted++
		ux.EventStatus(fmt.Sprintf("%s %s", shortID(ev.Command.ID), ev.Lane),
			ux.IconSuccess, fmt.Sprintf("strength %.2f", ev.Transition.Strength))
	case bus.EventRejected:
		t.rejected++
		ux.EventStatus(fmt.Sprintf("%s %s", shortID(ev.Command.ID), ev.Lane),
			ux.IconError, ev.Reason.String())
	case bus.EventLaneFull:
		t.laneFull++
		ux.EventStatus(fmt.Sprintf("%s %s", shortID(ev.Command.ID), ev.Lane),
			ux.IconWarning, "lane full")
	case bus.EventLineageKilled:
		ux.EventStatus(shortID(ev.Command.ID), ux.IconWarning, "lineage superseded")
	case bus.EventSupersededDrop:
		ux.EventStatus(fmt.Sprintf("%s %s", shortID(ev.Command.ID), ev.Lane),
			ux.IconWarning, "dropped at pop (lineage killed)")
	}

	if ev.Transition.From != ev.Transition.To {
		state := ev.Transition.To.String()
		if state != t.lastState {
			t.lastState = state
			ux.Muted(fmt.Sprintf("  gate %s -> %s", ev.Transition.From, ev.Transition.To))
		}
	}
}

// shortID keeps event lines scannable.
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// replayJournal streams the session's admission records back with a
// progress spinner, proving the store survives a reopen-and-read.
func replayJournal(jnl *journal.Badger) {
	stats := jnl.Stats()
	spinner := ux.NewProgressSpinner("Replaying journal", int(stats.TotalRecords))
	if ux.ShouldShowProgress() {
		spinner.Start()
	}

	count := 0
	err := jnl.Replay(context.Background(), 0, func(journal.AdmissionRecord) error {
		count++
		spinner.Increment()
		return nil
	})
	if err != nil {
		spinner.StopWithError(fmt.Sprintf("Journal replay failed: %v", err))
		return
	}
	spinner.StopWithSuccess(fmt.Sprintf("Journal replayed: %d admission records", count))
}
