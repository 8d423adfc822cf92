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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/gate"
	"github.com/AleutianAI/plasmabus/plasma"
)

// eventFrame builds a valid event frame for session s1 at the given
// sequence.
func eventFrame(seq uint64) Frame {
	event := NewEventFrame(bus.Event{
		Kind: bus.EventAdmitted,
		Lane: bus.Normal,
		Tick: seq,
	})
	return Frame{
		Schema:     plasma.SchemaVersion,
		Session:    "s1",
		Seq:        seq,
		Kind:       FrameKindEvent,
		CapturedAt: time.Now().UnixMilli(),
		Event:      &event,
	}
}

func snapshotFrame(seq uint64, snap plasma.Snapshot) Frame {
	return Frame{
		Schema:     plasma.SchemaVersion,
		Session:    "s1",
		Seq:        seq,
		Kind:       FrameKindSnapshot,
		CapturedAt: time.Now().UnixMilli(),
		Snapshot:   &snap,
	}
}

func TestMirror_ApplyEvent(t *testing.T) {
	m := NewMirror(8, nil)

	require.NoError(t, m.Apply(eventFrame(1)))
	require.NoError(t, m.Apply(eventFrame(2)))

	events := m.Recent(0)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Tick)
	assert.Equal(t, uint64(2), events[1].Tick)

	stats := m.Stats()
	assert.Equal(t, "s1", stats.Session)
	assert.Equal(t, uint64(2), stats.LastSeq)
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Equal(t, uint64(2), stats.Events)
	assert.False(t, stats.HasSnapshot)
}

func TestMirror_ApplySnapshot(t *testing.T) {
	m := NewMirror(8, nil)

	_, _, ok := m.State()
	assert.False(t, ok, "state must be absent before the first snapshot")

	want := plasma.Snapshot{
		SDTState:     gate.Conducting,
		TriggerCount: 7,
	}
	require.NoError(t, m.Apply(snapshotFrame(1, want)))

	got, capturedAt, ok := m.State()
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.NotZero(t, capturedAt)
	assert.True(t, m.Stats().HasSnapshot)
}

func TestMirror_DuplicatesSkipped(t *testing.T) {
	m := NewMirror(8, nil)

	require.NoError(t, m.Apply(eventFrame(1)))
	require.NoError(t, m.Apply(eventFrame(2)))

	// A resent frame applies as a no-op so the caller still acks it.
	require.NoError(t, m.Apply(eventFrame(2)))

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Len(t, m.Recent(0), 2)
}

func TestMirror_GapsCounted(t *testing.T) {
	m := NewMirror(8, nil)

	require.NoError(t, m.Apply(eventFrame(1)))
	require.NoError(t, m.Apply(eventFrame(5)))

	stats := m.Stats()
	assert.Equal(t, uint64(3), stats.Gaps)
	assert.Equal(t, uint64(5), stats.LastSeq)
}

func TestMirror_InvalidFrameRefused(t *testing.T) {
	m := NewMirror(8, nil)

	bad := eventFrame(1)
	bad.Schema = "v2.0.0"

	err := m.Apply(bad)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Equal(t, uint64(0), m.Stats().Frames)
}

func TestMirror_SessionSwitchResets(t *testing.T) {
	m := NewMirror(8, nil)

	require.NoError(t, m.Apply(eventFrame(40)))

	// A new publisher session restarts its sequence at 1; the mirror
	// follows rather than treating the low seq as a duplicate.
	next := eventFrame(1)
	next.Session = "s2"
	require.NoError(t, m.Apply(next))

	stats := m.Stats()
	assert.Equal(t, "s2", stats.Session)
	assert.Equal(t, uint64(1), stats.LastSeq)
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Equal(t, uint64(0), stats.Duplicates)
}

func TestMirror_RecentEviction(t *testing.T) {
	m := NewMirror(4, nil)

	for seq := uint64(1); seq <= 10; seq++ {
		require.NoError(t, m.Apply(eventFrame(seq)))
	}

	events := m.Recent(0)
	require.Len(t, events, 4)
	assert.Equal(t, uint64(7), events[0].Tick, "oldest retained event")
	assert.Equal(t, uint64(10), events[3].Tick, "newest event")
}

func TestMirror_RecentSlicing(t *testing.T) {
	m := NewMirror(8, nil)
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, m.Apply(eventFrame(seq)))
	}

	tests := []struct {
		n        int
		wantLen  int
		wantLast uint64
	}{
		{n: 2, wantLen: 2, wantLast: 5},
		{n: 5, wantLen: 5, wantLast: 5},
		{n: 50, wantLen: 5, wantLast: 5},
		{n: 0, wantLen: 5, wantLast: 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			events := m.Recent(tt.n)
			require.Len(t, events, tt.wantLen)
			assert.Equal(t, tt.wantLast, events[len(events)-1].Tick)
		})
	}
}

func TestNewMirror_DefaultCapacity(t *testing.T) {
	m := NewMirror(0, nil)
	for seq := uint64(1); seq <= DefaultRecentEvents+10; seq++ {
		require.NoError(t, m.Apply(eventFrame(seq)))
	}
	assert.Len(t, m.Recent(0), DefaultRecentEvents)
}
