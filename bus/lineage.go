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
	"encoding/binary"
	"sync/atomic"

	"github.com/google/uuid"
)

// probeWindow is how many slots past the home index an id may land in.
// Marks, overwrites, and lookups all stay inside this window, so a mark
// is always findable by the probe that looks for it.
const probeWindow = 16

// lineageSlot holds one 128-bit lineage id as two atomic words. A slot is
// claimed by CAS on the low word; the high word is stored after. A reader
// racing that gap sees a mismatched pair and reports a miss, which is
// indistinguishable from the pop having run just before the mark landed.
type lineageSlot struct {
	lo atomic.Uint64
	hi atomic.Uint64
}

// lineageSet is a fixed-capacity, lock-free set of superseded lineage
// ids.
//
// # Description
//
//	Marking is CAS insert with linear probing inside a bounded window.
//	When the window is full the oldest-generation slot (tracked by a
//	round-robin cursor per set) is overwritten in place, so the set never
//	allocates after construction and never blocks. An overwritten mark is
//	lost; supersession is cooperative cancellation, and capacity is sized
//	for the number of simultaneously in-flight lineages, not for history.
//
//	The zero UUID is never a lineage (it is the "no parent" sentinel),
//	and an id whose low word is zero cannot be stored. RFC 4122 ids
//	always carry variant bits in the low word, so this excludes nothing
//	real.
//
// # Thread Safety
//
//	mark and contains are safe from any goroutine. contains is wait-free
//	reads; mark is lock-free.
type lineageSet struct {
	mask    uint64
	cursor  atomic.Uint64
	slots   []lineageSlot
	evicted atomic.Uint64
}

// newLineageSet builds a set with the given power-of-two capacity.
// Capacity is validated by bus configuration before this runs.
func newLineageSet(capacity int) *lineageSet {
	return &lineageSet{
		mask:  uint64(capacity - 1),
		slots: make([]lineageSlot, capacity),
	}
}

// split decomposes an id into its two storage words.
func split(id uuid.UUID) (lo, hi uint64) {
	lo = binary.BigEndian.Uint64(id[8:])
	hi = binary.BigEndian.Uint64(id[:8])
	return lo, hi
}

// home computes the id's home slot index from a multiply-xor mix of both
// words.
func (s *lineageSet) home(lo, hi uint64) uint64 {
	h := lo ^ (hi * 0x9E3779B97F4A7C15)
	h ^= h >> 33
	return h & s.mask
}

// mark inserts id into the set. It returns true when the id was newly
// marked, false when it was already present or cannot be stored.
//
// Two marks racing on the same id may both report newly-marked and leave
// two copies in the window; contains stays correct and sequential
// re-marks return false.
func (s *lineageSet) mark(id uuid.UUID) bool {
	lo, hi := split(id)
	if lo == 0 {
		return false
	}
	base := s.home(lo, hi)

	for i := uint64(0); i < probeWindow; i++ {
		slot := &s.slots[(base+i)&s.mask]
		cur := slot.lo.Load()
		if cur == lo && slot.hi.Load() == hi {
			return false
		}
		if cur == 0 && slot.lo.CompareAndSwap(0, lo) {
			slot.hi.Store(hi)
			return true
		}
		// Claimed by someone else; re-read in case it was our id.
		if slot.lo.Load() == lo && slot.hi.Load() == hi {
			return false
		}
	}

	// Window full: overwrite a rotating victim inside the window so the
	// lookup probe still finds the mark.
	victim := &s.slots[(base+(s.cursor.Add(1)%probeWindow))&s.mask]
	victim.lo.Store(lo)
	victim.hi.Store(hi)
	s.evicted.Add(1)
	return true
}

// contains reports whether id is marked superseded. Wait-free: two loads
// per probed slot, no retries.
func (s *lineageSet) contains(id uuid.UUID) bool {
	lo, hi := split(id)
	if lo == 0 {
		return false
	}
	base := s.home(lo, hi)

	for i := uint64(0); i < probeWindow; i++ {
		slot := &s.slots[(base+i)&s.mask]
		cur := slot.lo.Load()
		if cur == 0 {
			return false
		}
		if cur == lo && slot.hi.Load() == hi {
			return true
		}
	}
	return false
}

// evictions returns how many marks have been overwritten since
// construction.
func (s *lineageSet) evictions() uint64 {
	return s.evicted.Load()
}
