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
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/plasmabus/crystal"
	"github.com/AleutianAI/plasmabus/pkg/validation"
	"github.com/AleutianAI/plasmabus/ring"
)

// ErrInvalidConfig wraps every configuration violation, with field
// detail in the message. Test with errors.Is.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// configValidate is the shared validator instance with custom rules
// registered.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("preset", validatePresetName)
}

// validatePresetName accepts only built-in family preset names.
func validatePresetName(fl validator.FieldLevel) bool {
	_, ok := crystal.PresetByName(fl.Field().String())
	return ok
}

// Validate checks tag constraints and every cross-field rule. All
// violations wrap ErrInvalidConfig; a config that passes here cannot
// fail construction later for a configuration reason.
//
// Outputs:
//   - error: Nil when the configuration is usable.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	capacities := []struct {
		name string
		v    int
	}{
		{"bus.lane_capacity", c.Bus.LaneCapacity},
		{"bus.lineage_capacity", c.Bus.LineageCapacity},
		{"bus.tap_capacity", c.Bus.TapCapacity},
	}
	for _, cap := range capacities {
		if err := checkCapacity(cap.name, cap.v); err != nil {
			return err
		}
	}
	if c.Bus.StarvationQuota == 0 {
		return fmt.Errorf("%w: bus.starvation_quota must be at least 1", ErrInvalidConfig)
	}

	if err := c.Bus.Tuning.validate(); err != nil {
		return err
	}

	if c.Journal.Enabled && !c.Journal.InMemory && c.Journal.Path == "" {
		return fmt.Errorf("%w: journal.path is required when journaling is enabled", ErrInvalidConfig)
	}
	if c.Journal.SessionID != "" {
		if err := validation.ValidateSessionID(c.Journal.SessionID); err != nil {
			return fmt.Errorf("%w: journal.session_id: %v", ErrInvalidConfig, err)
		}
	}

	pub := c.Bridge.Publish
	if pub.Enabled && pub.URL == "" {
		return fmt.Errorf("%w: bridge.publish.url is required when publishing is enabled", ErrInvalidConfig)
	}
	if pub.Session != "" {
		if err := validation.ValidateSessionID(pub.Session); err != nil {
			return fmt.Errorf("%w: bridge.publish.session: %v", ErrInvalidConfig, err)
		}
	}
	if pub.ReconnectMin > 0 && pub.ReconnectMax > 0 && pub.ReconnectMin > pub.ReconnectMax {
		return fmt.Errorf("%w: bridge.publish.reconnect_min exceeds reconnect_max", ErrInvalidConfig)
	}

	if c.Bridge.Influx.Enabled {
		if err := c.Bridge.Influx.ToInfluxConfig().Validate(); err != nil {
			return fmt.Errorf("%w: bridge.influx: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// validate checks the tuning rules the tag pass cannot express: member
// shape, inline family invariants, and policy parameter consistency.
func (t TuningConfig) validate() error {
	if len(t.Members) > crystal.MaxFamilies {
		return fmt.Errorf("%w: bus.tuning.members has %d entries, max %d",
			ErrInvalidConfig, len(t.Members), crystal.MaxFamilies)
	}
	for i, m := range t.Members {
		if m.Preset != "" && m.Family != nil {
			return fmt.Errorf("%w: bus.tuning.members[%d] sets both preset and family", ErrInvalidConfig, i)
		}
		if m.Preset == "" && m.Family == nil {
			return fmt.Errorf("%w: bus.tuning.members[%d] needs a preset or an inline family", ErrInvalidConfig, i)
		}
		if m.Family != nil {
			if err := m.Family.Validate(); err != nil {
				return fmt.Errorf("%w: bus.tuning.members[%d]: %v", ErrInvalidConfig, i, err)
			}
			// Inline family ids reach log fields and metric labels.
			if err := validation.ValidateFamilyName(m.Family.ID); err != nil {
				return fmt.Errorf("%w: bus.tuning.members[%d]: %v", ErrInvalidConfig, i, err)
			}
		}
	}
	if t.Policy == "quorum" && (t.Quorum < 1 || t.Quorum > len(t.Members)) {
		return fmt.Errorf("%w: bus.tuning.quorum %d out of range with %d members",
			ErrInvalidConfig, t.Quorum, len(t.Members))
	}
	return nil
}

// checkCapacity enforces the ring size rule shared by every lane.
func checkCapacity(name string, v int) error {
	if v < ring.MinCapacity || v > ring.MaxCapacity || v&(v-1) != 0 {
		return fmt.Errorf("%w: %s must be a power of two in [%d, %d], got %d",
			ErrInvalidConfig, name, ring.MinCapacity, ring.MaxCapacity, v)
	}
	return nil
}
