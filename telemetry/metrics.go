// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the plasmabus host.
//
// Description:
//
//	Provides standard counters and histograms for admission outcomes,
//	journal persistence, and bridge traffic. All metrics use the
//	"plasmabus_" prefix for consistent naming.
//
//	Every instrument here is recorded from the tap drain worker or the
//	bridge loops. Nothing records from inside Push or Pop; the bus's own
//	counters surface through BusCollector instead.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Admission Metrics ---

	// EventsTotal counts tap events by kind and lane.
	EventsTotal metric.Int64Counter

	// AdmissionStrength records the resonance strength of each admission
	// attempt.
	AdmissionStrength metric.Float64Histogram

	// GateTransitionsTotal counts gate transitions by from and to state.
	GateTransitionsTotal metric.Int64Counter

	// RejectionsTotal counts admission rejections by reason.
	RejectionsTotal metric.Int64Counter

	// DroughtResetsTotal counts gate resets forced by admission drought.
	DroughtResetsTotal metric.Int64Counter

	// --- Gate Metrics ---

	// GateState tracks the SDT gate state (0=off, 1=primed, 2=conducting,
	// 3=latched). Registered via RegisterGateState.
	GateState metric.Int64ObservableGauge

	// --- Journal Metrics ---

	// JournalRecordsTotal counts admission records appended to the journal.
	JournalRecordsTotal metric.Int64Counter

	// JournalFlushDuration records journal batch flush duration in seconds.
	JournalFlushDuration metric.Float64Histogram

	// JournalDropsTotal counts records dropped by a degraded journal.
	JournalDropsTotal metric.Int64Counter

	// --- Bridge Metrics ---

	// BridgeFramesTotal counts frames sent over the bridge by kind.
	BridgeFramesTotal metric.Int64Counter

	// BridgeResendsTotal counts frames resent after reconnect.
	BridgeResendsTotal metric.Int64Counter

	// BridgeReconnectsTotal counts bridge reconnect attempts.
	BridgeReconnectsTotal metric.Int64Counter

	// BridgeOutboxDrops counts frames evicted from a full outbox.
	BridgeOutboxDrops metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("plasmabus")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.EventsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Admission Metrics ---
	m.EventsTotal, err = meter.Int64Counter(
		"plasmabus_events_total",
		metric.WithDescription("Total tap events by kind and lane"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events_total: %w", err)
	}

	m.AdmissionStrength, err = meter.Float64Histogram(
		"plasmabus_admission_strength",
		metric.WithDescription("Resonance strength of admission attempts"),
		metric.WithUnit("{strength}"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95),
	)
	if err != nil {
		return nil, fmt.Errorf("create admission_strength: %w", err)
	}

	m.GateTransitionsTotal, err = meter.Int64Counter(
		"plasmabus_gate_transitions_total",
		metric.WithDescription("Total gate transitions by from and to state"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gate_transitions_total: %w", err)
	}

	m.RejectionsTotal, err = meter.Int64Counter(
		"plasmabus_rejections_total",
		metric.WithDescription("Total admission rejections by reason"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rejections_total: %w", err)
	}

	m.DroughtResetsTotal, err = meter.Int64Counter(
		"plasmabus_drought_resets_total",
		metric.WithDescription("Total gate resets forced by admission drought"),
		metric.WithUnit("{reset}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create drought_resets_total: %w", err)
	}

	// Note: GateState requires a callback registration, handled separately

	// --- Journal Metrics ---
	m.JournalRecordsTotal, err = meter.Int64Counter(
		"plasmabus_journal_records_total",
		metric.WithDescription("Total admission records appended to the journal"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create journal_records_total: %w", err)
	}

	m.JournalFlushDuration, err = meter.Float64Histogram(
		"plasmabus_journal_flush_duration_seconds",
		metric.WithDescription("Journal batch flush duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create journal_flush_duration: %w", err)
	}

	m.JournalDropsTotal, err = meter.Int64Counter(
		"plasmabus_journal_drops_total",
		metric.WithDescription("Total records dropped by a degraded journal"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create journal_drops_total: %w", err)
	}

	// --- Bridge Metrics ---
	m.BridgeFramesTotal, err = meter.Int64Counter(
		"plasmabus_bridge_frames_total",
		metric.WithDescription("Total frames sent over the bridge"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_frames_total: %w", err)
	}

	m.BridgeResendsTotal, err = meter.Int64Counter(
		"plasmabus_bridge_resends_total",
		metric.WithDescription("Total frames resent after reconnect"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_resends_total: %w", err)
	}

	m.BridgeReconnectsTotal, err = meter.Int64Counter(
		"plasmabus_bridge_reconnects_total",
		metric.WithDescription("Total bridge reconnect attempts"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_reconnects_total: %w", err)
	}

	m.BridgeOutboxDrops, err = meter.Int64Counter(
		"plasmabus_bridge_outbox_drops_total",
		metric.WithDescription("Total frames evicted from a full outbox"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_outbox_drops: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"plasmabus_errors_total",
		metric.WithDescription("Total errors by component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterGateState registers a callback for the SDT gate state gauge.
//
// Description:
//
//	Sets up an observable gauge that reports the current gate state.
//	The callback is invoked each time metrics are scraped, so the state
//	read happens on the scrape path, never on the admission path.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	stateFunc - A function that returns the current gate state
//	            (0=off, 1=primed, 2=conducting, 3=latched).
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterGateState(meter metric.Meter, stateFunc func() int64) (metric.Registration, error) {
	var err error
	m.GateState, err = meter.Int64ObservableGauge(
		"plasmabus_gate_state",
		metric.WithDescription("SDT gate state (0=off, 1=primed, 2=conducting, 3=latched)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gate_state: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.GateState, stateFunc())
		return nil
	}, m.GateState)
}
