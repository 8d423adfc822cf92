// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/plasmabus/authz"
	"github.com/AleutianAI/plasmabus/bridge"
	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/config"
	"github.com/AleutianAI/plasmabus/journal"
	"github.com/AleutianAI/plasmabus/pkg/extensions"
	"github.com/AleutianAI/plasmabus/pkg/logging"
	"github.com/AleutianAI/plasmabus/pkg/ux"
	"github.com/AleutianAI/plasmabus/pkg/validation"
	"github.com/AleutianAI/plasmabus/telemetry"
)

// resetTokenEnv supplies the reset credential to serve and reset. When
// unset, serve mints a random one and prints it once at startup.
const resetTokenEnv = "PLASMABUS_RESET_TOKEN"

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runServeCommand runs the bus host until SIGINT/SIGTERM.
//
// # Description
//
// Builds the whole stack from the config file: the bus, the admission
// journal and its batching recorder, the bridge server (REST, reset,
// mirror ingest), the optional mirror publisher and Influx sink, and
// the OTel/Prometheus bootstrap. One DrainTap goroutine fans the tap
// stream out to every sink; an errgroup ties the lifecycles together
// so any fatal component stops the rest.
//
// # Inputs
//
//   - cmd: Cobra command (unused)
//   - args: Command arguments (unused)
//
// # Limitations
//
//   - Exits with code 1 on any startup failure
func runServeCommand(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		ux.Error(fmt.Sprintf("Config rejected: %v", err))
		os.Exit(1)
	}
	if serveSession != "" {
		session, err := validation.SanitizeSessionID(serveSession)
		if err != nil {
			ux.Error(fmt.Sprintf("Invalid session id: %v", err))
			os.Exit(1)
		}
		cfg.Journal.SessionID = session
	}

	logCfg, err := cfg.Logging.ToLoggingConfig("serve")
	if err != nil {
		ux.Error(fmt.Sprintf("Logging config rejected: %v", err))
		os.Exit(1)
	}
	logger := logging.New(logCfg)
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ToTelemetryConfig())
		if err != nil {
			ux.Error(fmt.Sprintf("Telemetry bootstrap failed: %v", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slogger.Warn("Telemetry shutdown incomplete", "error", err)
			}
		}()
		metrics, err = telemetry.NewMetrics(otel.Meter("plasmabus"))
		if err != nil {
			ux.Error(fmt.Sprintf("Metric instruments failed: %v", err))
			os.Exit(1)
		}
	}

	busCfg, err := cfg.Bus.ToBusConfig()
	if err != nil {
		ux.Error(fmt.Sprintf("Bus config rejected: %v", err))
		os.Exit(1)
	}
	b, err := bus.New(busCfg)
	if err != nil {
		ux.Error(fmt.Sprintf("Bus construction failed: %v", err))
		os.Exit(1)
	}

	collector, err := telemetry.NewBusCollector(b)
	if err != nil {
		ux.Error(fmt.Sprintf("Bus collector failed: %v", err))
		os.Exit(1)
	}
	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
		slogger.Warn("Bus collector not registered", "error", err)
	}

	authority := buildAuthority()
	defer authority.Close()

	recorder, jnl := openJournal(cfg, slogger)
	if recorder != nil {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := recorder.Flush(flushCtx); err != nil {
				slogger.Warn("Final journal flush failed", "error", err)
			}
			recorder.Close()
			if err := jnl.Close(); err != nil {
				slogger.Warn("Journal close failed", "error", err)
			}
		}()
	}

	var influx *bridge.InfluxSink
	if cfg.Bridge.Influx.Enabled {
		influxCfg := cfg.Bridge.Influx.ToInfluxConfig()
		influxCfg.Logger = slogger
		influx, err = bridge.NewInfluxSink(influxCfg)
		if err != nil {
			ux.Error(fmt.Sprintf("Influx sink rejected: %v", err))
			os.Exit(1)
		}
		defer influx.Close()
		readyCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := influx.Ready(readyCtx); err != nil {
			slogger.Warn("Influx not reachable; writes will fail until it is", "error", err)
		}
		cancel()
	}

	var publisher *bridge.Publisher
	if cfg.Bridge.Publish.Enabled {
		pubCfg := cfg.Bridge.Publish.ToPublisherConfig()
		pubCfg.Logger = slogger
		pubCfg.Metrics = metrics
		publisher, err = bridge.NewPublisher(b, pubCfg)
		if err != nil {
			ux.Error(fmt.Sprintf("Publisher rejected: %v", err))
			os.Exit(1)
		}
		defer publisher.Close()
	}

	opts := extensions.DefaultOptions()
	server, err := bridge.NewServerWithOptions(b, authority, slogger, opts)
	if err != nil {
		ux.Error(fmt.Sprintf("Bridge server rejected: %v", err))
		os.Exit(1)
	}

	if serveConfigPath != "" {
		watcher, err := config.NewWatcher(serveConfigPath,
			reloadHandler(b, opts.AuditLogger, slogger), nil)
		if err != nil {
			slogger.Warn("Config watcher unavailable; hot reload disabled", "error", err)
		} else {
			defer watcher.Stop()
			if err := watcher.Start(ctx); err != nil {
				slogger.Warn("Config watch failed to start", "error", err)
			}
		}
	}

	ux.Success(fmt.Sprintf("Bus host up on %s (gate: %s)", cfg.Bridge.Addr, b.Snapshot().SDTState))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.DrainTap(gctx, func(ev bus.Event) {
			if recorder != nil {
				recorder.Offer(ev)
			}
			if publisher != nil {
				publisher.OfferEvent(ev)
			}
			if influx != nil {
				// The sink counts its own failures; a dead Influx must
				// not stop the drain.
				_ = influx.WriteEvent(gctx, ev)
			}
		})
	})
	g.Go(func() error {
		return server.Serve(gctx, cfg.Bridge.Addr)
	})
	if publisher != nil {
		g.Go(func() error {
			return publisher.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		ux.Error(fmt.Sprintf("Bus host failed: %v", err))
		os.Exit(1)
	}
	ux.Info("Bus host stopped")
}

// buildAuthority builds the reset authority from PLASMABUS_RESET_TOKEN,
// minting and printing a random credential when the env is empty.
func buildAuthority() authz.Authority {
	if encoded := os.Getenv(resetTokenEnv); encoded != "" {
		raw, err := authz.ParseToken(encoded)
		if err != nil {
			ux.Error(fmt.Sprintf("%s rejected: %v", resetTokenEnv, err))
			os.Exit(1)
		}
		authority, err := authz.NewAuthority(raw)
		if err != nil {
			ux.Error(fmt.Sprintf("Reset authority failed: %v", err))
			os.Exit(1)
		}
		return authority
	}

	authority, encoded, err := authz.NewRandomAuthority()
	if err != nil {
		ux.Error(fmt.Sprintf("Reset authority failed: %v", err))
		os.Exit(1)
	}
	// The one chance to capture the token; it is never logged.
	ux.WarningBox("Reset token (shown once)", encoded)
	return authority
}

// openJournal opens the admission journal and its recorder when
// enabled, verifying store continuity with a counting replay first.
// Returns nils when journaling is off.
func openJournal(cfg config.Config, slogger *slog.Logger) (*journal.Recorder, *journal.Badger) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}

	jCfg := cfg.Journal.ToJournalConfig()
	jCfg.Logger = slogger
	jnl, err := journal.New(jCfg)
	if err != nil {
		ux.Error(fmt.Sprintf("Journal open failed: %v", err))
		os.Exit(1)
	}

	if jnl.IsDegraded() {
		ux.Warning("Journal degraded: store unavailable, admissions will not be recorded")
	} else if n, err := replayCount(jnl); err != nil {
		ux.Error(fmt.Sprintf("Journal replay failed: %v", err))
		os.Exit(1)
	} else {
		slogger.Info("Journal continuity verified", "records", n, "session", jCfg.SessionID)
	}

	recorder, err := journal.NewRecorder(jnl, cfg.Journal.ToRecorderConfig())
	if err != nil {
		ux.Error(fmt.Sprintf("Journal recorder rejected: %v", err))
		os.Exit(1)
	}
	return recorder, jnl
}

// replayCount streams the stored session records, driving a progress
// spinner in interactive personalities.
func replayCount(jnl *journal.Badger) (int, error) {
	var spinner *ux.Spinner
	if ux.ShouldShowProgress() {
		spinner = ux.NewSpinner("Replaying journal").WithType(ux.SpinnerCharge)
		spinner.Start()
	}

	count := 0
	err := jnl.Replay(context.Background(), 0, func(journal.AdmissionRecord) error {
		count++
		if spinner != nil && count%1000 == 0 {
			spinner.UpdateMessage(fmt.Sprintf("Replaying journal (%d records)", count))
		}
		return nil
	})

	if spinner != nil {
		if err != nil {
			spinner.StopWithError("Journal replay failed")
		} else {
			spinner.StopWithSuccess(fmt.Sprintf("Journal continuity verified (%d records)", count))
		}
	}
	return count, err
}

// reloadHandler retunes the bus from each config that survives a reload
// and audits the outcome. Only the tuning section is hot-swappable;
// lane capacities and transport sections need a restart.
func reloadHandler(b *bus.Bus, audit extensions.AuditLogger, slogger *slog.Logger) config.ReloadHandler {
	retune := config.RetuneHandler(b)
	return func(cfg config.Config) error {
		event := extensions.AuditEvent{
			EventType: "config.reloaded",
			Timestamp: time.Now().UTC(),
			Actor:     "config-watcher",
			Outcome:   "applied",
		}
		if err := retune(cfg); err != nil {
			event.EventType = "config.rejected"
			event.Outcome = "rejected"
			event.Detail = map[string]string{"error": err.Error()}
			if logErr := audit.Log(context.Background(), event); logErr != nil {
				slogger.Warn("Audit log failed", "error", logErr)
			}
			return err
		}
		if logErr := audit.Log(context.Background(), event); logErr != nil {
			slogger.Warn("Audit log failed", "error", logErr)
		}
		slogger.Info("Tuning hot-swapped from config file")
		return nil
	}
}
