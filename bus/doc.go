// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus is the lock-free admission bus: three priority lanes in
// front of a resonance-scored, thyristor-gated admission decision.
//
// # Architecture Overview
//
//	                    PRODUCERS (any goroutine)
//	                          │ Push(cmd)
//	                          ▼
//	┌──────────────────────────────────────────────────────────────────┐
//	│                            BUS                                   │
//	│                                                                  │
//	│  ┌───────────────────── admission pipeline ───────────────────┐  │
//	│  │ crystal.Polycrystal ──► crystal.Semantic ──► plasma CAS    │  │
//	│  │ (ring strength,         (byte rules,         (SDT gate     │  │
//	│  │  vote, delta class)      and/blend)           transition)  │  │
//	│  └───────────────┬────────────────────────────────────────────┘  │
//	│                  │ admitted                                      │
//	│                  ▼                                               │
//	│   Critical ═══► ring.Ring[Command] ╗                             │
//	│   Urgent   ═══► ring.Ring[Command] ╬══► Pop() strict priority    │
//	│   Normal   ═══► ring.Ring[Command] ╝    + starvation quota       │
//	│                                                                  │
//	│   plasma.State (64B atomics)     lineageSet (CAS supersession)   │
//	│   laneCounters (padded atomics)  tap ring ──► journal / bridge   │
//	└──────────────────────────────────────────────────────────────────┘
//	                          │ Pop() / PopWait(ctx)
//	                          ▼
//	                    CONSUMER (one goroutine)
//
// # Admission
//
// A push evaluates the payload against every crystal family, combines
// the votes under the configured policy, folds the semantic rule result
// in (And veto or Blend), and applies one CAS transition to the shared
// plasma record. The command is enqueued iff the post-transition state
// conducts or is latched, and (unless latched, which bypasses the vote)
// the combined vote passed. Rejection never marks anything superseded.
//
// # Supersession
//
// Lineages die only explicitly: SupersedeLineage, or admission of a
// command declaring a ParentLineage. A killed lineage's queued commands
// are not removed in place; the consumer side discards them at pop time
// and counts the discard. Cancellation is cooperative, never forcible.
//
// # Discipline
//
// Producers are unbounded and lock-free. Each ring (three lanes and the
// tap) is MPSC: exactly one goroutine may consume commands, and exactly
// one may drain the tap. push/pop never block, allocate, log, or touch
// a syscall; everything observable is padded atomics read without locks.
package bus
