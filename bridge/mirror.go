// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"log/slog"
	"sync"

	"github.com/AleutianAI/plasmabus/plasma"
)

// DefaultRecentEvents is the mirror's event ring capacity when none is
// given.
const DefaultRecentEvents = 256

// MirrorStats is a point-in-time read of the mirror's counters.
type MirrorStats struct {
	// Session is the publisher the mirror is following.
	Session string `json:"session"`

	// LastSeq is the highest applied sequence.
	LastSeq uint64 `json:"last_seq"`

	// Frames counts applied frames.
	Frames uint64 `json:"frames"`

	// Events and Snapshots split Frames by kind.
	Events    uint64 `json:"events"`
	Snapshots uint64 `json:"snapshots"`

	// Duplicates counts frames skipped for an already-seen sequence
	// (resends collapsing on this side).
	Duplicates uint64 `json:"duplicates"`

	// Gaps counts sequences never seen: frames the publisher evicted
	// before this side acked them.
	Gaps uint64 `json:"gaps"`

	// LastCapturedAt is the capture time of the newest applied frame
	// (Unix milliseconds UTC).
	LastCapturedAt int64 `json:"last_captured_at"`

	// HasSnapshot reports whether State would return data.
	HasSnapshot bool `json:"has_snapshot"`
}

// Mirror is the eventually-consistent remote view of a bus.
//
// # Description
//
//	Applies frames in sequence order, deduplicating resends and counting
//	gaps. Keeps the latest snapshot and a bounded ring of recent events
//	for display. The mirror follows one session at a time; a frame from
//	a new session resets the sequence tracking and takes over.
//
//	Display surface only: nothing here feeds the evaluator or flows back
//	toward a bus.
//
// # Thread Safety
//
//	Safe for concurrent use. Apply takes the write lock; the view
//	methods take the read lock.
type Mirror struct {
	logger *slog.Logger

	mu          sync.RWMutex
	session     string
	lastSeq     uint64
	hasSnapshot bool
	snapshot    plasma.Snapshot
	snapshotAt  int64
	recent      []EventFrame
	recentCap   int

	frames         uint64
	events         uint64
	snapshots      uint64
	duplicates     uint64
	gaps           uint64
	lastCapturedAt int64
}

// NewMirror builds a mirror keeping up to recentCap events.
// recentCap <= 0 means DefaultRecentEvents.
func NewMirror(recentCap int, logger *slog.Logger) *Mirror {
	if recentCap <= 0 {
		recentCap = DefaultRecentEvents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		logger:    logger.With(slog.String("component", "bridge_mirror")),
		recent:    make([]EventFrame, 0, recentCap),
		recentCap: recentCap,
	}
}

// Apply folds one frame into the mirror.
//
// Duplicates (sequence at or below the last applied one for the same
// session) are counted and skipped without error, so the caller acks
// them and the publisher prunes. Invalid frames return the Validate
// error and must not be acked.
func (m *Mirror) Apply(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f.Session != m.session {
		if m.session != "" {
			m.logger.Info("Mirror following new session",
				slog.String("previous", m.session),
				slog.String("session", f.Session))
		}
		m.session = f.Session
		m.lastSeq = 0
	}

	if f.Seq <= m.lastSeq {
		m.duplicates++
		return nil
	}
	if m.lastSeq > 0 && f.Seq > m.lastSeq+1 {
		m.gaps += f.Seq - m.lastSeq - 1
	}
	m.lastSeq = f.Seq
	m.frames++
	m.lastCapturedAt = f.CapturedAt

	switch f.Kind {
	case FrameKindEvent:
		m.events++
		if len(m.recent) >= m.recentCap {
			copy(m.recent, m.recent[1:])
			m.recent[len(m.recent)-1] = *f.Event
		} else {
			m.recent = append(m.recent, *f.Event)
		}
	case FrameKindSnapshot:
		m.snapshots++
		m.snapshot = *f.Snapshot
		m.snapshotAt = f.CapturedAt
		m.hasSnapshot = true
	}

	return nil
}

// State returns the latest mirrored snapshot and its capture time.
// ok is false until the first snapshot frame lands.
func (m *Mirror) State() (snap plasma.Snapshot, capturedAt int64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, m.snapshotAt, m.hasSnapshot
}

// Recent returns up to n of the newest mirrored events, oldest first.
// n <= 0 means all retained events.
func (m *Mirror) Recent(n int) []EventFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > len(m.recent) {
		n = len(m.recent)
	}
	out := make([]EventFrame, n)
	copy(out, m.recent[len(m.recent)-n:])
	return out
}

// Stats reads the mirror counters.
func (m *Mirror) Stats() MirrorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MirrorStats{
		Session:        m.session,
		LastSeq:        m.lastSeq,
		Frames:         m.frames,
		Events:         m.events,
		Snapshots:      m.snapshots,
		Duplicates:     m.duplicates,
		Gaps:           m.gaps,
		LastCapturedAt: m.lastCapturedAt,
		HasSnapshot:    m.hasSnapshot,
	}
}
