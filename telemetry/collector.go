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
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/plasma"
)

// StatsSource is the read side of the bus that BusCollector scrapes.
// *bus.Bus satisfies it.
type StatsSource interface {
	Counters() bus.Counters
	Snapshot() plasma.Snapshot
}

// BusCollector exposes the bus's lock-free counters and the shared plasma
// record as Prometheus metrics.
//
// Description:
//
//	The bus maintains its counters as padded atomics that the hot path
//	updates without locks. Mirroring them into prometheus Vec types would
//	require a second write path inside Push and Pop, so the collector
//	reads them at scrape time instead and emits const metrics. A scrape
//	costs a handful of atomic loads and never touches the hot path.
//
//	Hosts that register BusCollector already get the gate state as
//	plasmabus_sdt_state; they do not need Metrics.RegisterGateState.
//
// Thread Safety: Safe for concurrent use.
type BusCollector struct {
	source StatsSource

	lanePushed     *prometheus.Desc
	lanePopped     *prometheus.Desc
	laneRejected   *prometheus.Desc
	laneFull       *prometheus.Desc
	laneSuperseded *prometheus.Desc
	laneDepth      *prometheus.Desc

	ticks            *prometheus.Desc
	invalidPushes    *prometheus.Desc
	tapDropped       *prometheus.Desc
	completions      *prometheus.Desc
	lineageEvictions *prometheus.Desc

	sdtState        *prometheus.Desc
	sdtExcited      *prometheus.Desc
	ringStrength    *prometheus.Desc
	entropy         *prometheus.Desc
	deltaAngle      *prometheus.Desc
	triggers        *prometheus.Desc
	supersessions   *prometheus.Desc
	lastTriggerTick *prometheus.Desc
}

var _ prometheus.Collector = (*BusCollector)(nil)

// NewBusCollector creates a collector over the given source.
//
// Inputs:
//
//	source - The bus (or a compatible read view) to scrape.
//
// Outputs:
//
//	*BusCollector - The collector, ready to register.
//	error - Non-nil if source is nil.
func NewBusCollector(source StatsSource) (*BusCollector, error) {
	if source == nil {
		return nil, errors.New("telemetry: stats source must not be nil")
	}

	laneLabels := []string{"lane"}

	return &BusCollector{
		source: source,

		lanePushed: prometheus.NewDesc(
			"plasmabus_lane_pushed_total",
			"Commands enqueued per lane.",
			laneLabels, nil,
		),
		lanePopped: prometheus.NewDesc(
			"plasmabus_lane_popped_total",
			"Commands delivered per lane.",
			laneLabels, nil,
		),
		laneRejected: prometheus.NewDesc(
			"plasmabus_lane_rejected_total",
			"Admission rejections per lane.",
			laneLabels, nil,
		),
		laneFull: prometheus.NewDesc(
			"plasmabus_lane_full_total",
			"Pushes refused for lane capacity.",
			laneLabels, nil,
		),
		laneSuperseded: prometheus.NewDesc(
			"plasmabus_lane_superseded_drops_total",
			"Pop-time discards of killed lineages per lane.",
			laneLabels, nil,
		),
		laneDepth: prometheus.NewDesc(
			"plasmabus_lane_depth",
			"Commands currently queued per lane.",
			laneLabels, nil,
		),

		ticks: prometheus.NewDesc(
			"plasmabus_ticks_total",
			"Logical admission ticks.",
			nil, nil,
		),
		invalidPushes: prometheus.NewDesc(
			"plasmabus_invalid_pushes_total",
			"Pushes naming no known lane.",
			nil, nil,
		),
		tapDropped: prometheus.NewDesc(
			"plasmabus_tap_dropped_total",
			"Tap events lost to a full tap ring.",
			nil, nil,
		),
		completions: prometheus.NewDesc(
			"plasmabus_completions_total",
			"Consumer results mirrored through Complete.",
			nil, nil,
		),
		lineageEvictions: prometheus.NewDesc(
			"plasmabus_lineage_evictions_total",
			"Supersession marks overwritten in the lineage set.",
			nil, nil,
		),

		sdtState: prometheus.NewDesc(
			"plasmabus_sdt_state",
			"SDT gate state (0=off, 1=primed, 2=conducting, 3=latched).",
			nil, nil,
		),
		sdtExcited: prometheus.NewDesc(
			"plasmabus_sdt_excited",
			"Whether the most recent attempt admitted (0 or 1).",
			nil, nil,
		),
		ringStrength: prometheus.NewDesc(
			"plasmabus_ring_strength",
			"Strength recorded by the most recent admission attempt.",
			nil, nil,
		),
		entropy: prometheus.NewDesc(
			"plasmabus_entropy",
			"Environmental entropy reading.",
			nil, nil,
		),
		deltaAngle: prometheus.NewDesc(
			"plasmabus_delta_angle",
			"Drift angle in raw u16 units.",
			nil, nil,
		),
		triggers: prometheus.NewDesc(
			"plasmabus_triggers_total",
			"Total admissions.",
			nil, nil,
		),
		supersessions: prometheus.NewDesc(
			"plasmabus_supersessions_total",
			"Explicit lineage kills.",
			nil, nil,
		),
		lastTriggerTick: prometheus.NewDesc(
			"plasmabus_last_trigger_tick",
			"Logical tick of the most recent admission.",
			nil, nil,
		),
	}, nil
}

// Register adds the collector to the given registerer.
//
// Registering the same collector twice is not an error; the first
// registration wins.
func (c *BusCollector) Register(reg prometheus.Registerer) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return fmt.Errorf("register bus collector: %w", err)
	}
	return nil
}

// Describe sends the descriptors of all metrics to the channel.
func (c *BusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lanePushed
	ch <- c.lanePopped
	ch <- c.laneRejected
	ch <- c.laneFull
	ch <- c.laneSuperseded
	ch <- c.laneDepth
	ch <- c.ticks
	ch <- c.invalidPushes
	ch <- c.tapDropped
	ch <- c.completions
	ch <- c.lineageEvictions
	ch <- c.sdtState
	ch <- c.sdtExcited
	ch <- c.ringStrength
	ch <- c.entropy
	ch <- c.deltaAngle
	ch <- c.triggers
	ch <- c.supersessions
	ch <- c.lastTriggerTick
}

// Collect reads the bus counters and the plasma record and emits one
// const metric per descriptor. The reads are atomic loads; fields may
// skew by in-flight operations, which Prometheus tolerates.
func (c *BusCollector) Collect(ch chan<- prometheus.Metric) {
	counters := c.source.Counters()

	for lane := bus.Critical; lane.IsValid(); lane++ {
		lc := counters.Lanes[lane]
		name := lane.String()

		ch <- prometheus.MustNewConstMetric(c.lanePushed, prometheus.CounterValue, float64(lc.Pushed), name)
		ch <- prometheus.MustNewConstMetric(c.lanePopped, prometheus.CounterValue, float64(lc.Popped), name)
		ch <- prometheus.MustNewConstMetric(c.laneRejected, prometheus.CounterValue, float64(lc.Rejected), name)
		ch <- prometheus.MustNewConstMetric(c.laneFull, prometheus.CounterValue, float64(lc.Full), name)
		ch <- prometheus.MustNewConstMetric(c.laneSuperseded, prometheus.CounterValue, float64(lc.SupersededDrops), name)
		ch <- prometheus.MustNewConstMetric(c.laneDepth, prometheus.GaugeValue, float64(lc.Depth()), name)
	}

	ch <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue, float64(counters.Tick))
	ch <- prometheus.MustNewConstMetric(c.invalidPushes, prometheus.CounterValue, float64(counters.InvalidPushes))
	ch <- prometheus.MustNewConstMetric(c.tapDropped, prometheus.CounterValue, float64(counters.TapDropped))
	ch <- prometheus.MustNewConstMetric(c.completions, prometheus.CounterValue, float64(counters.Completions))
	ch <- prometheus.MustNewConstMetric(c.lineageEvictions, prometheus.CounterValue, float64(counters.LineageEvictions))

	snap := c.source.Snapshot()

	excited := 0.0
	if snap.Excited {
		excited = 1.0
	}

	ch <- prometheus.MustNewConstMetric(c.sdtState, prometheus.GaugeValue, float64(snap.SDTState))
	ch <- prometheus.MustNewConstMetric(c.sdtExcited, prometheus.GaugeValue, excited)
	ch <- prometheus.MustNewConstMetric(c.ringStrength, prometheus.GaugeValue, float64(snap.LastRingStrength))
	ch <- prometheus.MustNewConstMetric(c.entropy, prometheus.GaugeValue, float64(snap.Entropy))
	ch <- prometheus.MustNewConstMetric(c.deltaAngle, prometheus.GaugeValue, float64(snap.DeltaAngle))
	ch <- prometheus.MustNewConstMetric(c.triggers, prometheus.CounterValue, float64(snap.TriggerCount))
	ch <- prometheus.MustNewConstMetric(c.supersessions, prometheus.CounterValue, float64(snap.SupersessionCount))
	ch <- prometheus.MustNewConstMetric(c.lastTriggerTick, prometheus.GaugeValue, float64(snap.LastTriggerTick))
}
