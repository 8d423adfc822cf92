// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/gate"
	"github.com/AleutianAI/plasmabus/plasma"
)

func TestNewRecorder(t *testing.T) {
	t.Run("nil journal rejected", func(t *testing.T) {
		_, err := NewRecorder(nil, DefaultRecorderConfig())
		assert.Error(t, err)
	})

	t.Run("zero config gets defaults", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		r, err := NewRecorder(j, RecorderConfig{})
		require.NoError(t, err)
		defer r.Close()

		assert.Equal(t, DefaultRecorderConfig().BatchSize, r.config.BatchSize)
		assert.Equal(t, DefaultRecorderConfig().FlushEvery, r.config.FlushEvery)
	})
}

func TestFromEvent(t *testing.T) {
	ev := bus.Event{
		Kind:    bus.EventRejected,
		Command: bus.Command{ID: uuid.New(), Priority: bus.Urgent},
		Transition: plasma.Transition{
			From:     gate.Off,
			To:       gate.Primed,
			Strength: 0.3,
			Admitted: false,
		},
		Reason: bus.ReasonBelowGate,
		Lane:   bus.Urgent,
		Tick:   12,
	}

	before := time.Now().UnixMilli()
	rec := FromEvent(ev)
	after := time.Now().UnixMilli()

	assert.Equal(t, bus.EventRejected, rec.Kind)
	assert.Equal(t, ev.Command.ID, rec.CommandID)
	assert.Equal(t, bus.Urgent, rec.Lane)
	assert.Equal(t, bus.ReasonBelowGate, rec.Reason)
	assert.Equal(t, gate.Off, rec.From)
	assert.Equal(t, gate.Primed, rec.To)
	assert.InDelta(t, 0.3, rec.Strength, 1e-6)
	assert.False(t, rec.Admitted)
	assert.Equal(t, uint64(12), rec.Tick)
	assert.Zero(t, rec.Seq)
	assert.GreaterOrEqual(t, rec.At, before)
	assert.LessOrEqual(t, rec.At, after)
}

func TestRecorder_BatchFlush(t *testing.T) {
	j := createTestJournal(t)
	defer j.Close()

	r, err := NewRecorder(j, RecorderConfig{
		BatchSize:  2,
		FlushEvery: time.Hour, // ticker out of the picture
	})
	require.NoError(t, err)
	defer r.Close()

	r.Offer(testEvent(bus.EventAdmitted))
	assert.Equal(t, int64(0), j.Stats().TotalRecords, "partial batch should stay buffered")

	r.Offer(testEvent(bus.EventRejected))
	assert.Equal(t, int64(2), j.Stats().TotalRecords, "full batch should flush inline")
	assert.Equal(t, int64(2), r.Offered())
}

func TestRecorder_IntervalFlush(t *testing.T) {
	j := createTestJournal(t)
	defer j.Close()

	r, err := NewRecorder(j, RecorderConfig{
		BatchSize:  1000,
		FlushEvery: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer r.Close()

	r.Offer(testEvent(bus.EventAdmitted))

	require.Eventually(t, func() bool {
		return j.Stats().TotalRecords == 1
	}, 2*time.Second, 10*time.Millisecond, "ticker never flushed the partial batch")
}

func TestRecorder_CloseFlushesRemainder(t *testing.T) {
	j := createTestJournal(t)
	defer j.Close()

	r, err := NewRecorder(j, RecorderConfig{
		BatchSize:  1000,
		FlushEvery: time.Hour,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r.Offer(testEvent(bus.EventAdmitted))
	}
	require.NoError(t, r.Close())

	assert.Equal(t, int64(3), j.Stats().TotalRecords)

	// Second close is a no-op.
	assert.NoError(t, r.Close())
}

func TestRecorder_FlushFailuresCounted(t *testing.T) {
	j := createTestJournal(t)

	r, err := NewRecorder(j, RecorderConfig{
		BatchSize:  2,
		FlushEvery: time.Hour,
	})
	require.NoError(t, err)
	defer r.Close()

	// Journal closes underneath the recorder; flushes fail from here on.
	require.NoError(t, j.Close())

	r.Offer(testEvent(bus.EventAdmitted))
	r.Offer(testEvent(bus.EventAdmitted))

	assert.Equal(t, int64(1), r.FlushFailures())
	assert.Equal(t, int64(2), r.Offered())
}

func TestRecorder_ManualFlush(t *testing.T) {
	j := createTestJournal(t)
	defer j.Close()

	r, err := NewRecorder(j, RecorderConfig{
		BatchSize:  1000,
		FlushEvery: time.Hour,
	})
	require.NoError(t, err)
	defer r.Close()

	r.Offer(testEvent(bus.EventAdmitted))
	require.NoError(t, r.Flush(context.Background()))

	assert.Equal(t, int64(1), j.Stats().TotalRecords)
	assert.NoError(t, r.Flush(context.Background()), "empty flush is a no-op")
}

func testEvent(kind bus.EventKind) bus.Event {
	return bus.Event{
		Kind:    kind,
		Command: bus.Command{ID: uuid.New(), Priority: bus.Critical},
		Transition: plasma.Transition{
			From:     gate.Off,
			To:       gate.Conducting,
			Strength: 0.8,
			Admitted: kind == bus.EventAdmitted,
		},
		Lane: bus.Critical,
		Tick: 1,
	}
}
