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
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/plasmabus/bridge"
	"github.com/AleutianAI/plasmabus/crystal"
)

// Config is the root of the plasmabus configuration file.
type Config struct {
	// Bus configures lane capacities, fairness, and the evaluation
	// pipeline tuning.
	Bus BusConfig `yaml:"bus"`

	// Journal configures the durable admission record.
	Journal JournalConfig `yaml:"journal"`

	// Bridge configures the observability HTTP/websocket surfaces.
	Bridge BridgeConfig `yaml:"bridge"`

	// Telemetry configures the OpenTelemetry bootstrap.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// BusConfig is the YAML-facing shape of bus.Config.
type BusConfig struct {
	LaneCapacity    int    `yaml:"lane_capacity"`    // per-lane ring slots, power of two
	LineageCapacity int    `yaml:"lineage_capacity"` // supersession set slots, power of two
	TapCapacity     int    `yaml:"tap_capacity"`     // event tap slots, power of two
	StarvationQuota uint32 `yaml:"starvation_quota"` // pass-overs before a lane is served first

	Tuning TuningConfig `yaml:"tuning"`
}

// TuningConfig is the YAML-facing shape of bus.Tuning. Policy and
// combine mode are strings here; they resolve to their crystal types in
// ToTuning.
type TuningConfig struct {
	// Members list the resonance families, in order. The first member
	// is the lead family governing gate transitions.
	Members []MemberConfig `yaml:"members" validate:"min=1,dive"`

	// Policy combines per-family votes: any, all, majority,
	// weighted_average, or quorum. Empty means any.
	Policy string `yaml:"policy" validate:"omitempty,oneof=any all majority weighted_average quorum"`

	// Quorum is K for the quorum policy; ignored otherwise.
	Quorum int `yaml:"quorum" validate:"gte=0"`

	// AvgThreshold is the strength floor for weighted_average; ignored
	// otherwise.
	AvgThreshold float32 `yaml:"avg_threshold" validate:"gte=0,lte=1"`

	// Semantic declares the byte-level payload rules.
	Semantic crystal.SemanticConfig `yaml:"semantic"`

	// CombineMode joins the semantic result with the physics verdict:
	// and, or blend. Empty means and.
	CombineMode string `yaml:"combine_mode" validate:"omitempty,oneof=and blend"`

	// BlendAlpha weights the physics strength under blend.
	BlendAlpha float32 `yaml:"blend_alpha" validate:"gte=0,lte=1"`

	// DroughtWindow is the consecutive low-entropy tick count that
	// forces a conducting gate closed. 0 disables drought detection.
	DroughtWindow uint64 `yaml:"drought_window"`
}

// MemberConfig names one polycrystal member: either a built-in preset
// or an inline family, never both.
type MemberConfig struct {
	// Preset selects a built-in family by name (orbital, ground_station,
	// tar_pit, silent, adaptive).
	Preset string `yaml:"preset,omitempty" validate:"omitempty,preset"`

	// Family is an inline family definition for custom tunings.
	Family *crystal.Family `yaml:"family,omitempty"`

	// Weight is the member's vote weight. Omitted (0) means 1.
	Weight float32 `yaml:"weight,omitempty" validate:"gte=0"`
}

// JournalConfig is the YAML-facing shape of journal.Config plus the
// recorder batching knobs.
type JournalConfig struct {
	// Enabled turns admission journaling on.
	Enabled bool `yaml:"enabled"`

	// Path is the store directory. Supports ~ expansion. Required when
	// enabled unless InMemory.
	Path string `yaml:"path"`

	// SessionID scopes journal keys. Empty means the host mints one
	// per run.
	SessionID string `yaml:"session_id"`

	// InMemory backs the journal with RAM. Testing only.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites forces fsync per append batch.
	SyncWrites bool `yaml:"sync_writes"`

	// MaxJournalBytes fails appends past this size until a checkpoint
	// truncates. 0 disables the limit.
	MaxJournalBytes int64 `yaml:"max_journal_bytes" validate:"gte=0"`

	// AllowDegraded keeps the process up when the store cannot open;
	// appends are dropped and counted.
	AllowDegraded bool `yaml:"allow_degraded"`

	// SkipCorrupted makes replay log-and-skip bad records instead of
	// failing.
	SkipCorrupted bool `yaml:"skip_corrupted"`

	// CheckpointDir receives checkpoint backup files. Supports ~
	// expansion. Empty disables backups.
	CheckpointDir string `yaml:"checkpoint_dir"`

	// BatchSize flushes the recorder once this many events accumulate.
	BatchSize int `yaml:"batch_size" validate:"gte=0"`

	// FlushEvery flushes partial recorder batches on this interval.
	FlushEvery time.Duration `yaml:"flush_every"`
}

// BridgeConfig groups the bridge server address with the outbound
// publisher and Influx sink sections.
type BridgeConfig struct {
	// Addr is the bridge HTTP listen address.
	Addr string `yaml:"addr"`

	Publish PublishConfig `yaml:"publish"`
	Influx  InfluxConfig  `yaml:"influx"`
}

// PublishConfig is the YAML-facing shape of bridge.PublisherConfig.
type PublishConfig struct {
	// Enabled turns the outbound mirror publisher on.
	Enabled bool `yaml:"enabled"`

	// URL is the peer's websocket ingest endpoint. Required when
	// enabled.
	URL string `yaml:"url"`

	// Session identifies this publisher. Empty mints a fresh UUID.
	Session string `yaml:"session"`

	OutboxSize    int           `yaml:"outbox_size" validate:"gte=0"`
	SnapshotEvery time.Duration `yaml:"snapshot_every"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	RateBurst     int           `yaml:"rate_burst" validate:"gte=0"`
	ReconnectMin  time.Duration `yaml:"reconnect_min"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// InfluxConfig is the YAML-facing shape of bridge.InfluxConfig. The
// token is usually supplied via PLASMABUS_INFLUX_TOKEN instead of the
// file.
type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// TelemetryConfig is the YAML-facing shape of telemetry.Config.
type TelemetryConfig struct {
	// Enabled turns the OTel bootstrap on.
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusPort int    `yaml:"prometheus_port" validate:"gte=0,lte=65535"`
}

// LoggingConfig is the YAML-facing shape of logging.Config. The service
// name is supplied by the host, not the file.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogDir enables file logging. Supports ~ expansion.
	LogDir string `yaml:"log_dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`

	// Quiet disables stderr output (file and exporter only).
	Quiet bool `yaml:"quiet"`
}

// DefaultConfig returns the documented defaults: a single orbital
// family voting any, journaling and publishing off, telemetry on with
// a Prometheus endpoint.
//
// Outputs:
//   - Config: Default configuration, valid as-is.
func DefaultConfig() Config {
	pub := bridge.DefaultPublisherConfig()
	influx := bridge.DefaultInfluxConfig()
	return Config{
		Bus: BusConfig{
			LaneCapacity:    1024,
			LineageCapacity: 1024,
			TapCapacity:     4096,
			StarvationQuota: 32,
			Tuning: TuningConfig{
				Members:       []MemberConfig{{Preset: "orbital", Weight: 1}},
				Policy:        "any",
				CombineMode:   "and",
				DroughtWindow: 64,
			},
		},
		Journal: JournalConfig{
			Enabled:         false,
			Path:            "~/.plasmabus/journal",
			SyncWrites:      true,
			MaxJournalBytes: 1 << 30,
			BatchSize:       64,
			FlushEvery:      500 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			Addr: ":8081",
			Publish: PublishConfig{
				Enabled:       false,
				OutboxSize:    pub.OutboxSize,
				SnapshotEvery: pub.SnapshotEvery,
				RatePerSecond: pub.RatePerSecond,
				RateBurst:     pub.RateBurst,
				ReconnectMin:  pub.ReconnectMin,
				ReconnectMax:  pub.ReconnectMax,
				WriteTimeout:  pub.WriteTimeout,
			},
			Influx: InfluxConfig{
				Enabled:     false,
				URL:         influx.URL,
				Org:         influx.Org,
				Bucket:      influx.Bucket,
				Measurement: influx.Measurement,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			ServiceName:    "plasmabus",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
			PrometheusPort: 9090,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load merges configuration with priority: env > file > defaults.
//
// Inputs:
//   - path: Path to the YAML config file. Empty or missing means
//     defaults plus environment only.
//
// Outputs:
//   - Config: Merged, validated configuration.
//   - error: Non-nil if the file exists but cannot be parsed, or the
//     merged result fails validation (wraps ErrInvalidConfig).
func Load(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &config); err != nil {
			return config, err
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func loadConfigFromEnv(config *Config) {
	// Bus
	if v := os.Getenv("PLASMABUS_LANE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Bus.LaneCapacity = i
		}
	}
	if v := os.Getenv("PLASMABUS_STARVATION_QUOTA"); v != "" {
		if i, err := strconv.ParseUint(v, 10, 32); err == nil {
			config.Bus.StarvationQuota = uint32(i)
		}
	}
	if v := os.Getenv("PLASMABUS_PRESET"); v != "" {
		config.Bus.Tuning.Members = []MemberConfig{{Preset: v, Weight: 1}}
	}
	if v := os.Getenv("PLASMABUS_POLICY"); v != "" {
		config.Bus.Tuning.Policy = v
	}
	if v := os.Getenv("PLASMABUS_DROUGHT_WINDOW"); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Bus.Tuning.DroughtWindow = i
		}
	}

	// Journal
	if v := os.Getenv("PLASMABUS_JOURNAL_ENABLED"); v != "" {
		config.Journal.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PLASMABUS_JOURNAL_PATH"); v != "" {
		config.Journal.Path = v
	}

	// Bridge
	if v := os.Getenv("PLASMABUS_BRIDGE_ADDR"); v != "" {
		config.Bridge.Addr = v
	}
	if v := os.Getenv("PLASMABUS_MIRROR_URL"); v != "" {
		config.Bridge.Publish.URL = v
		config.Bridge.Publish.Enabled = true
	}
	if v := os.Getenv("PLASMABUS_INFLUX_TOKEN"); v != "" {
		config.Bridge.Influx.Token = v
	}

	// Logging
	if v := os.Getenv("PLASMABUS_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("PLASMABUS_LOG_DIR"); v != "" {
		config.Logging.LogDir = v
	}
}

// EnsureDefault writes a default config file at path when none exists,
// creating parent directories as needed. Used on first run so operators
// have a file to edit.
//
// Outputs:
//   - error: Non-nil if the path cannot be probed or written.
func EnsureDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config %s: %w", path, err)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
