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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/plasma"
)

// ErrSinkDisabled is returned when constructing a sink from a config
// with Enabled false.
var ErrSinkDisabled = errors.New("bridge: influx sink disabled")

// InfluxConfig configures the optional InfluxDB admission archive.
type InfluxConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	Token       string `json:"token"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement"`

	Logger *slog.Logger `json:"-"`
}

// DefaultInfluxConfig returns a disabled config pointed at a local
// InfluxDB.
func DefaultInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:     false,
		URL:         "http://localhost:8086",
		Org:         "plasmabus",
		Bucket:      "plasmabus-admissions",
		Measurement: "plasmabus",
	}
}

// Validate checks the config. A disabled config is always valid.
func (c InfluxConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return errors.New("influx: url is required")
	}
	if c.Token == "" {
		return errors.New("influx: token is required")
	}
	if c.Org == "" {
		return errors.New("influx: org is required")
	}
	if c.Bucket == "" {
		return errors.New("influx: bucket is required")
	}
	if c.Measurement == "" {
		return errors.New("influx: measurement is required")
	}
	return nil
}

// InfluxSink archives admission events and snapshots to InfluxDB for
// long-horizon analysis. It sits behind the tap like every other
// consumer; a slow or dead InfluxDB never touches admission.
type InfluxSink struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
	logger      *slog.Logger

	points   atomic.Uint64
	failures atomic.Uint64
}

// NewInfluxSink builds a sink from the config. The connection is lazy;
// call Ready to probe the server.
func NewInfluxSink(config InfluxConfig) (*InfluxSink, error) {
	if !config.Enabled {
		return nil, ErrSinkDisabled
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(config.URL, config.Token)
	return &InfluxSink{
		client:      client,
		write:       client.WriteAPIBlocking(config.Org, config.Bucket),
		measurement: config.Measurement,
		logger: logger.With(
			slog.String("component", "influx_sink"),
			slog.String("bucket", config.Bucket)),
	}, nil
}

// Ready probes the InfluxDB health endpoint.
func (s *InfluxSink) Ready(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health check: %w", err)
	}
	if health.Status != "pass" {
		msg := "no message"
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influx unhealthy: %s (%s)", health.Status, msg)
	}
	return nil
}

// WriteEvent archives one tap event as a point tagged by kind and
// lane.
func (s *InfluxSink) WriteEvent(ctx context.Context, ev bus.Event) error {
	point := influxdb2.NewPoint(s.measurement,
		map[string]string{
			"kind": ev.Kind.String(),
			"lane": ev.Lane.String(),
		},
		map[string]interface{}{
			"strength":  float64(ev.Transition.Strength),
			"admitted":  ev.Transition.Admitted,
			"gate_from": ev.Transition.From.String(),
			"gate_to":   ev.Transition.To.String(),
			"tick":      int64(ev.Tick),
		},
		time.Now())

	if err := s.write.WritePoint(ctx, point); err != nil {
		s.failures.Add(1)
		s.logger.Warn("Failed to write event point", slog.Any("error", err))
		return fmt.Errorf("influx write event: %w", err)
	}
	s.points.Add(1)
	return nil
}

// WriteSnapshot archives a plasma snapshot under a companion
// measurement.
func (s *InfluxSink) WriteSnapshot(ctx context.Context, snap plasma.Snapshot) error {
	point := influxdb2.NewPoint(s.measurement+"_state",
		map[string]string{
			"gate_state": snap.SDTState.String(),
		},
		map[string]interface{}{
			"entropy":            int64(snap.Entropy),
			"strength":           float64(snap.LastRingStrength),
			"excited":            snap.Excited,
			"trigger_count":      int64(snap.TriggerCount),
			"supersession_count": int64(snap.SupersessionCount),
			"delta_angle":        int64(snap.DeltaAngle),
			"last_trigger_tick":  int64(snap.LastTriggerTick),
		},
		time.Now())

	if err := s.write.WritePoint(ctx, point); err != nil {
		s.failures.Add(1)
		s.logger.Warn("Failed to write snapshot point", slog.Any("error", err))
		return fmt.Errorf("influx write snapshot: %w", err)
	}
	s.points.Add(1)
	return nil
}

// Points returns the number of points written.
func (s *InfluxSink) Points() uint64 {
	return s.points.Load()
}

// Failures returns the number of failed writes.
func (s *InfluxSink) Failures() uint64 {
	return s.failures.Load()
}

// Close flushes and releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
