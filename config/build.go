// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"

	"github.com/AleutianAI/plasmabus/bridge"
	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/crystal"
	"github.com/AleutianAI/plasmabus/journal"
	"github.com/AleutianAI/plasmabus/pkg/logging"
	"github.com/AleutianAI/plasmabus/telemetry"
)

// ToBusConfig converts the section to a bus.Config. The Logger field is
// left nil for the host to set.
//
// Outputs:
//   - bus.Config: Ready for bus.New.
//   - error: Non-nil if a member or policy string cannot resolve.
func (c BusConfig) ToBusConfig() (bus.Config, error) {
	tuning, err := c.Tuning.ToTuning()
	if err != nil {
		return bus.Config{}, err
	}
	return bus.Config{
		LaneCapacity:    c.LaneCapacity,
		LineageCapacity: c.LineageCapacity,
		TapCapacity:     c.TapCapacity,
		StarvationQuota: c.StarvationQuota,
		Tuning:          tuning,
	}, nil
}

// ToTuning resolves preset names and policy strings into a bus.Tuning.
// This is the path a hot reload takes before bus.Retune.
//
// Outputs:
//   - bus.Tuning: Ready for bus.Retune or bus.Config.Tuning.
//   - error: Non-nil if a preset is unknown or a string fails to parse
//     (wraps ErrInvalidConfig).
func (t TuningConfig) ToTuning() (bus.Tuning, error) {
	members := make([]crystal.Member, 0, len(t.Members))
	for i, m := range t.Members {
		family, err := m.resolve(i)
		if err != nil {
			return bus.Tuning{}, err
		}
		weight := m.Weight
		if weight == 0 {
			weight = 1
		}
		members = append(members, crystal.Member{Family: family, Weight: weight})
	}

	policy := crystal.VoteAny
	if t.Policy != "" {
		var err error
		policy, err = crystal.ParseVotePolicy(t.Policy)
		if err != nil {
			return bus.Tuning{}, fmt.Errorf("%w: bus.tuning.policy: %v", ErrInvalidConfig, err)
		}
	}
	combine, err := crystal.ParseCombineMode(t.CombineMode)
	if err != nil {
		return bus.Tuning{}, fmt.Errorf("%w: bus.tuning.combine_mode: %v", ErrInvalidConfig, err)
	}

	return bus.Tuning{
		Polycrystal: crystal.PolycrystalConfig{
			Members:      members,
			Policy:       policy,
			Quorum:       t.Quorum,
			AvgThreshold: t.AvgThreshold,
		},
		Semantic:      t.Semantic,
		CombineMode:   combine,
		BlendAlpha:    t.BlendAlpha,
		DroughtWindow: t.DroughtWindow,
	}, nil
}

// resolve returns the member's family, from the preset table or the
// inline definition.
func (m MemberConfig) resolve(index int) (crystal.Family, error) {
	if m.Preset != "" {
		family, ok := crystal.PresetByName(m.Preset)
		if !ok {
			return crystal.Family{}, fmt.Errorf("%w: bus.tuning.members[%d]: unknown preset %q",
				ErrInvalidConfig, index, m.Preset)
		}
		return family, nil
	}
	if m.Family != nil {
		return *m.Family, nil
	}
	return crystal.Family{}, fmt.Errorf("%w: bus.tuning.members[%d] needs a preset or an inline family",
		ErrInvalidConfig, index)
}

// ToJournalConfig converts the section to a journal.Config, expanding
// ~ in paths. Logger is left nil for the host to set.
func (c JournalConfig) ToJournalConfig() journal.Config {
	return journal.Config{
		Path:            expandPath(c.Path),
		SessionID:       c.SessionID,
		SyncWrites:      c.SyncWrites,
		MaxJournalBytes: c.MaxJournalBytes,
		AllowDegraded:   c.AllowDegraded,
		SkipCorrupted:   c.SkipCorrupted,
		CheckpointDir:   expandPath(c.CheckpointDir),
		InMemory:        c.InMemory,
	}
}

// ToRecorderConfig converts the batching knobs to a
// journal.RecorderConfig. Zero values take the recorder defaults.
func (c JournalConfig) ToRecorderConfig() journal.RecorderConfig {
	return journal.RecorderConfig{
		BatchSize:  c.BatchSize,
		FlushEvery: c.FlushEvery,
	}
}

// ToPublisherConfig converts the section to a bridge.PublisherConfig.
// Header, Metrics, and Logger are left for the host to set.
func (c PublishConfig) ToPublisherConfig() bridge.PublisherConfig {
	return bridge.PublisherConfig{
		URL:           c.URL,
		Session:       c.Session,
		OutboxSize:    c.OutboxSize,
		SnapshotEvery: c.SnapshotEvery,
		RatePerSecond: c.RatePerSecond,
		RateBurst:     c.RateBurst,
		ReconnectMin:  c.ReconnectMin,
		ReconnectMax:  c.ReconnectMax,
		WriteTimeout:  c.WriteTimeout,
	}
}

// ToInfluxConfig converts the section to a bridge.InfluxConfig.
func (c InfluxConfig) ToInfluxConfig() bridge.InfluxConfig {
	return bridge.InfluxConfig{
		Enabled:     c.Enabled,
		URL:         c.URL,
		Token:       c.Token,
		Org:         c.Org,
		Bucket:      c.Bucket,
		Measurement: c.Measurement,
	}
}

// ToTelemetryConfig converts the section to a telemetry.Config.
func (c TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		TraceExporter:  c.TraceExporter,
		MetricExporter: c.MetricExporter,
		OTLPEndpoint:   c.OTLPEndpoint,
		OTLPInsecure:   c.OTLPInsecure,
		PrometheusPort: c.PrometheusPort,
	}
}

// ToLoggingConfig converts the section to a logging.Config. The service
// name comes from the host (the command name, typically), not the file.
//
// Outputs:
//   - logging.Config: Ready for logging.New.
//   - error: Non-nil if the level string is unknown (wraps
//     ErrInvalidConfig).
func (c LoggingConfig) ToLoggingConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Config{}, fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.LogDir,
		Service: service,
		JSON:    c.JSON,
		Quiet:   c.Quiet,
	}, nil
}
