// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ring provides the lock-free, fixed-capacity lane buffer used by
// the bus.
//
// One Ring backs one priority lane. The discipline is MPSC and fixed: any
// number of producers claim slots with a CAS retry loop on the tail cursor
// (per-slot sequence numbers), and exactly one consumer owns the head
// cursor. Running concurrent consumers against one Ring is a correctness
// bug, not a supported configuration.
//
// Push and Pop never allocate, never lock, and never block. Capacity is a
// power of two fixed at construction; index wrap uses masking.
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// cacheLine is the assumed coherence granule. Head and tail cursors are
// padded onto separate lines so producer and consumer roles do not false
// share.
const cacheLine = 64

// Capacity bounds accepted by New.
const (
	MinCapacity = 2
	MaxCapacity = 1 << 30
)

var (
	// ErrCapacityNotPowerOfTwo is returned by New when the requested
	// capacity would break mask-based index wrapping.
	ErrCapacityNotPowerOfTwo = errors.New("ring: capacity must be a power of two")

	// ErrCapacityRange is returned by New when the requested capacity is
	// outside [MinCapacity, MaxCapacity].
	ErrCapacityRange = errors.New("ring: capacity out of range")
)

// slot pairs a value with the sequence number that hands it between
// producer and consumer roles.
type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a lock-free MPSC circular queue.
//
// # Description
//
// Producers claim slots by advancing the tail cursor with compare-and-swap
// and publish values through per-slot sequence numbers. The single
// consumer advances the head cursor with plain atomic stores. Slot values
// are cleared on pop so payload references do not pin garbage.
//
// # Thread Safety
//
// Push is safe for any number of concurrent producers. Pop must only ever
// be called from one goroutine at a time.
type Ring[T any] struct {
	mask  uint64
	slots []slot[T]
	_     [cacheLine - 32]byte

	// tail counts claimed slots. Producers CAS it forward.
	tail atomic.Uint64
	_    [cacheLine - 8]byte

	// head counts consumed slots. Only the consumer writes it.
	head atomic.Uint64
	_    [cacheLine - 8]byte
}

// New creates a Ring with the given capacity.
//
// # Inputs
//
//   - capacity: Slot count. Must be a power of two in
//     [MinCapacity, MaxCapacity]. Fixed for the life of the ring.
//
// # Outputs
//
//   - *Ring[T]: Ready-to-use ring.
//   - error: ErrCapacityNotPowerOfTwo or ErrCapacityRange on a bad
//     capacity; construction is the only place capacity is checked.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrCapacityRange, capacity)
	}
	if capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacityNotPowerOfTwo, capacity)
	}

	r := &Ring[T]{
		mask:  uint64(capacity - 1),
		slots: make([]slot[T], capacity),
	}
	// Each slot starts expecting the producer whose claim index equals
	// the slot index.
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Push appends an item.
//
// # Description
//
// Claims the next tail slot with a CAS retry loop. Returns false when the
// ring is full; backpressure is always explicit and blocking policy
// belongs to the caller.
//
// # Inputs
//
//   - item: Value copied into the claimed slot.
//
// # Outputs
//
//   - bool: True if enqueued, false if the ring was full.
//
// # Thread Safety
//
// Safe for concurrent producers.
func (r *Ring[T]) Push(item T) bool {
	pos := r.tail.Load()
	for {
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		switch d := int64(seq) - int64(pos); {
		case d == 0:
			// Slot is free for this claim index.
			if r.tail.CompareAndSwap(pos, pos+1) {
				s.val = item
				s.seq.Store(pos + 1)
				return true
			}
			// Lost the race; reread the tail and retry.
			pos = r.tail.Load()
		case d < 0:
			// Consumer has not released this slot: full.
			return false
		default:
			// Another producer claimed pos already.
			pos = r.tail.Load()
		}
	}
}

// Pop removes and returns the oldest item.
//
// # Outputs
//
//   - T: The oldest item.
//   - bool: False if the ring was empty.
//
// # Thread Safety
//
// Single consumer only.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	pos := r.head.Load()
	s := &r.slots[pos&r.mask]
	if s.seq.Load() != pos+1 {
		// Producer has not published this slot yet.
		return zero, false
	}

	item := s.val
	s.val = zero
	// Release the slot for the producer that will claim index
	// pos+capacity, then advance the head.
	s.seq.Store(pos + r.mask + 1)
	r.head.Store(pos + 1)
	return item, true
}

// Len returns the current element count.
//
// # Description
//
// Advisory only: under concurrency the value may be stale by the time the
// caller observes it. Never use it for correctness decisions.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	n := tail - head
	if n > r.mask+1 {
		n = r.mask + 1
	}
	return int(n)
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return int(r.mask + 1)
}

// IsEmpty reports whether the ring currently holds no items. Advisory.
func (r *Ring[T]) IsEmpty() bool {
	return r.Len() == 0
}

// IsFull reports whether the ring is currently at capacity. Advisory.
func (r *Ring[T]) IsFull() bool {
	return r.Len() == r.Cap()
}
