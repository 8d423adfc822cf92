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
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/plasmabus/bus"
)

// flushTimeout bounds one background flush write.
const flushTimeout = 5 * time.Second

// RecorderConfig tunes batching between the tap drain and the journal.
type RecorderConfig struct {
	// BatchSize flushes the buffer once this many records accumulate.
	BatchSize int

	// FlushEvery flushes a partial buffer on this interval so quiet
	// periods still reach disk.
	FlushEvery time.Duration

	// Logger receives flush failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultRecorderConfig returns production batching defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BatchSize:  64,
		FlushEvery: 500 * time.Millisecond,
	}
}

// Recorder buffers tap events and appends them to a Journal in batches.
//
// # Description
//
//	Offer is the sink side of bus.DrainTap: it converts each event to an
//	AdmissionRecord, stamps capture time, and buffers it. A full buffer
//	or the flush ticker moves the batch into the journal. Journal errors
//	are counted and logged, never surfaced back toward the bus.
//
// # Thread Safety
//
//	Offer, Flush, and Close are safe for concurrent use. The buffer is
//	swapped out under the mutex and written outside it, so Offer never
//	waits on store I/O issued by another caller.
type Recorder struct {
	journal Journal
	config  RecorderConfig
	logger  *slog.Logger

	mu  sync.Mutex
	buf []AdmissionRecord

	offered       atomic.Int64
	flushFailures atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRecorder starts a recorder and its background flush loop.
func NewRecorder(j Journal, config RecorderConfig) (*Recorder, error) {
	if j == nil {
		return nil, errors.New("journal: recorder requires a journal")
	}
	defaults := DefaultRecorderConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = defaults.FlushEvery
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	r := &Recorder{
		journal: j,
		config:  config,
		logger:  config.Logger.With(slog.String("component", "journal_recorder")),
		buf:     make([]AdmissionRecord, 0, config.BatchSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.flushLoop()
	return r, nil
}

// FromEvent converts one tap event into its journal record. The capture
// timestamp is taken here; the bus hot path makes no clock calls.
func FromEvent(ev bus.Event) AdmissionRecord {
	return AdmissionRecord{
		Kind:      ev.Kind,
		CommandID: ev.Command.ID,
		Lane:      ev.Lane,
		Reason:    ev.Reason,
		From:      ev.Transition.From,
		To:        ev.Transition.To,
		Strength:  ev.Transition.Strength,
		Admitted:  ev.Transition.Admitted,
		Tick:      ev.Tick,
		At:        time.Now().UnixMilli(),
	}
}

// Offer buffers one event, flushing when the batch threshold is hit.
func (r *Recorder) Offer(ev bus.Event) {
	r.offered.Add(1)

	r.mu.Lock()
	r.buf = append(r.buf, FromEvent(ev))
	full := len(r.buf) >= r.config.BatchSize
	r.mu.Unlock()

	if full {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		r.flush(ctx)
	}
}

// Flush writes any buffered records now.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.flush(ctx)
}

// flush swaps the buffer out under the lock and appends it outside.
func (r *Recorder) flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.buf
	r.buf = make([]AdmissionRecord, 0, r.config.BatchSize)
	r.mu.Unlock()

	if err := r.journal.AppendBatch(ctx, batch); err != nil {
		r.flushFailures.Add(1)
		r.logger.Warn("journal flush failed",
			slog.Int("records", len(batch)),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// flushLoop drains partial batches on the configured interval.
func (r *Recorder) flushLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			r.flush(ctx)
			cancel()
		}
	}
}

// Offered reports how many events the recorder has accepted.
func (r *Recorder) Offered() int64 {
	return r.offered.Load()
}

// FlushFailures reports how many batch writes have failed.
func (r *Recorder) FlushFailures() int64 {
	return r.flushFailures.Load()
}

// Close stops the loop and performs a final flush. Idempotent; the
// journal itself stays open (the recorder does not own it).
func (r *Recorder) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err = r.flush(ctx)
	})
	return err
}
