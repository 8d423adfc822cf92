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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInfluxConfig() InfluxConfig {
	cfg := DefaultInfluxConfig()
	cfg.Enabled = true
	cfg.Token = "test-token"
	return cfg
}

func TestInfluxConfig_Validate(t *testing.T) {
	t.Run("disabled config always valid", func(t *testing.T) {
		assert.NoError(t, InfluxConfig{}.Validate())
	})

	t.Run("enabled config with all fields", func(t *testing.T) {
		assert.NoError(t, validInfluxConfig().Validate())
	})

	tests := []struct {
		name   string
		mutate func(c *InfluxConfig)
	}{
		{name: "missing url", mutate: func(c *InfluxConfig) { c.URL = "" }},
		{name: "missing token", mutate: func(c *InfluxConfig) { c.Token = "" }},
		{name: "missing org", mutate: func(c *InfluxConfig) { c.Org = "" }},
		{name: "missing bucket", mutate: func(c *InfluxConfig) { c.Bucket = "" }},
		{name: "missing measurement", mutate: func(c *InfluxConfig) { c.Measurement = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validInfluxConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewInfluxSink_Disabled(t *testing.T) {
	_, err := NewInfluxSink(DefaultInfluxConfig())
	assert.ErrorIs(t, err, ErrSinkDisabled)
}

func TestNewInfluxSink(t *testing.T) {
	// Construction is lazy: no connection is made until a write or a
	// health probe. Behavior against a live bucket is covered by
	// integration environments.
	sink, err := NewInfluxSink(validInfluxConfig())
	require.NoError(t, err)
	defer sink.Close()

	assert.Equal(t, uint64(0), sink.Points())
	assert.Equal(t, uint64(0), sink.Failures())
}
