//go:build ignore

// Soak driver for the full admission pipeline.
// Run with: go run scripts/soak_bus.go -duration 10s -producers 8
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/plasmabus/bus"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "soak window")
	producers := flag.Int("producers", 8, "producer goroutines")
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      PLASMA BUS SOAK DRIVER                       ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")

	// 1. Construct the bus
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 1: Constructing bus (orbital preset, 4096-slot lanes)      │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	cfg := bus.DefaultConfig()
	cfg.LaneCapacity = 4096
	cfg.TapCapacity = 16384
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := bus.New(cfg)
	if err != nil {
		log.Fatalf("  ✗ bus.New: %v", err)
	}
	fmt.Printf("  ✓ Bus up, gate %s\n", b.Snapshot().SDTState)

	// 2. Environment sweep, consumer, tap drain
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 2: Starting environment sweep, consumer, tap drain         │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var completions, tapEvents atomic.Uint64
	var pipeline sync.WaitGroup
	pipeline.Add(3)

	go func() {
		defer pipeline.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		phase := 0.0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				phase += 0.01
				hot := 0.5 + 0.45*math.Sin(phase)
				drift := 0.5 + 0.5*math.Cos(phase*0.37)
				b.Observe(uint16(drift*65535), uint32(hot*float64(math.MaxUint32)))
			}
		}
	}()

	go func() {
		defer pipeline.Done()
		for {
			cmd, err := b.PopWait(ctx)
			if err != nil {
				return
			}
			b.Complete(bus.Result{CommandID: cmd.ID, Status: bus.StatusOk, Tick: b.Tick()})
			completions.Add(1)
		}
	}()

	go func() {
		defer pipeline.Done()
		b.DrainTap(ctx, func(bus.Event) { tapEvents.Add(1) })
	}()
	fmt.Println("  ✓ Pipeline live")

	// 3. Producers at full speed
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Printf("│ Step 3: Soaking with %-2d producers for %-8v                  │\n", *producers, *duration)
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	var pushes atomic.Uint64
	var work sync.WaitGroup
	start := time.Now()
	for i := 0; i < *producers; i++ {
		work.Add(1)
		go func() {
			defer work.Done()
			var prev uuid.UUID
			for n := 0; ctx.Err() == nil; n++ {
				u := uuid.New()
				cmd := bus.Command{
					ID:          u,
					Priority:    bus.Priority(rand.IntN(3)),
					Payload:     u[:],
					CreatedTick: b.Tick(),
				}
				if n%64 == 63 && prev != uuid.Nil {
					cmd.ParentLineage = prev
				}
				if r := b.Push(cmd); r.Outcome == bus.Enqueued {
					prev = u
				}
				pushes.Add(1)
			}
		}()
	}
	work.Wait()
	elapsed := time.Since(start)
	cancel()
	pipeline.Wait()

	// 4. Report
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 4: Results                                                 │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	counters := b.Counters()
	snap := b.Snapshot()
	total := pushes.Load()
	if total == 0 {
		log.Fatal("  ✗ No pushes recorded; soak produced nothing")
	}

	fmt.Printf("  Push attempts: %d (%.0f/sec across %d producers)\n",
		total, float64(total)/elapsed.Seconds(), *producers)
	for p := bus.Critical; p <= bus.Normal; p++ {
		lane := counters.Lanes[p]
		fmt.Printf("  %-8s pushed=%-9d popped=%-9d rejected=%-9d full=%-7d drops=%d\n",
			p, lane.Pushed, lane.Popped, lane.Rejected, lane.Full, lane.SupersededDrops)
	}
	fmt.Printf("  Completions: %d, tap events seen: %d, tap dropped: %d\n",
		completions.Load(), tapEvents.Load(), counters.TapDropped)
	fmt.Printf("  Gate: %s, triggers=%d, supersessions=%d, lineage evictions=%d\n",
		snap.SDTState, snap.TriggerCount, snap.SupersessionCount, counters.LineageEvictions)

	fmt.Println("\n  ✓ Soak complete")
}
