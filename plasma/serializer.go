// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plasma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/mod/semver"
)

// SchemaVersion tags every exported envelope. Fields may be appended
// within a major version; import refuses a different major.
const SchemaVersion = "v1.0.0"

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plasmabus_snapshot_export_duration_seconds",
		Help:    "Time to serialize a plasma snapshot envelope",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
	})

	exportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plasmabus_snapshot_exports_total",
		Help: "Total snapshot envelopes exported",
	})

	importsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plasmabus_snapshot_imports_total",
		Help: "Total snapshot envelopes imported",
	})

	importErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plasmabus_snapshot_import_errors_total",
		Help: "Total snapshot import failures by type",
	}, []string{"error_type"})
)

// -----------------------------------------------------------------------------
// Tracer
// -----------------------------------------------------------------------------

var serializerTracer = otel.Tracer("plasma.serializer")

// -----------------------------------------------------------------------------
// Envelope
// -----------------------------------------------------------------------------

var (
	// ErrSchemaIncompatible means the envelope's schema major version
	// differs from this build's.
	ErrSchemaIncompatible = errors.New("plasma: incompatible envelope schema")

	// ErrEnvelopeInvalid means the envelope failed structural validation.
	ErrEnvelopeInvalid = errors.New("plasma: invalid envelope")
)

// Envelope is the versioned JSON wrapper a snapshot travels in.
type Envelope struct {
	// Schema is the semver layout tag, e.g. "v1.0.0".
	Schema string `json:"schema"`

	// Session identifies the exporting process (UUID string).
	Session string `json:"session"`

	// Sequence increments per export within one session.
	Sequence uint64 `json:"sequence"`

	// CapturedAt is when the snapshot was taken (Unix milliseconds UTC).
	CapturedAt int64 `json:"captured_at"`

	// Snapshot is the wire-shaped state.
	Snapshot Snapshot `json:"snapshot"`
}

// -----------------------------------------------------------------------------
// Serializer
// -----------------------------------------------------------------------------

// Serializer stamps snapshots into versioned envelopes for the bridge and
// observability surfaces.
//
// Thread Safety: safe for concurrent use; the sequence is atomic.
type Serializer struct {
	logger  *slog.Logger
	session uuid.UUID
	seq     atomic.Uint64
}

// NewSerializer creates a serializer with a fresh session identity.
//
// Inputs:
//
//	logger - Logger for serialization events. Uses default if nil.
func NewSerializer(logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{
		logger:  logger.With(slog.String("component", "plasma_serializer")),
		session: uuid.New(),
	}
}

// Session returns the serializer's session identity.
func (s *Serializer) Session() uuid.UUID { return s.session }

// Export wraps a snapshot in a versioned envelope and serializes it.
//
// # Description
//
//	Stamps the envelope with the session UUID, the next sequence number,
//	and the capture time, then marshals to JSON. Strictly out-of-band:
//	callers hand in a snapshot already taken off the hot path.
//
// # Outputs
//
//   - []byte: the JSON envelope.
//   - error: non-nil if ctx is nil or marshaling fails.
func (s *Serializer) Export(ctx context.Context, snap Snapshot) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	start := time.Now()
	_, span := serializerTracer.Start(ctx, "plasma.Serializer.Export")
	defer span.End()

	env := Envelope{
		Schema:     SchemaVersion,
		Session:    s.session.String(),
		Sequence:   s.seq.Add(1),
		CapturedAt: time.Now().UnixMilli(),
		Snapshot:   snap,
	}

	data, err := json.Marshal(env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}

	exportsTotal.Inc()
	exportDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int64("sequence", int64(env.Sequence)),
		attribute.Int("bytes", len(data)),
	)

	s.logger.Debug("exported snapshot envelope",
		slog.Uint64("sequence", env.Sequence),
		slog.Int("bytes", len(data)),
	)
	return data, nil
}

// Import parses and validates a received envelope.
//
// # Description
//
//	Rejects envelopes whose schema major version differs from
//	SchemaVersion (minor/patch additions are accepted so peers can append
//	fields without breaking older readers) and envelopes whose session is
//	not a UUID. The snapshot itself is carried as-is; remote state is
//	display-only and never feeds local admission.
func (s *Serializer) Import(ctx context.Context, data []byte) (*Envelope, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	_, span := serializerTracer.Start(ctx, "plasma.Serializer.Import")
	defer span.End()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		importErrorsTotal.WithLabelValues("decode").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeInvalid, err)
	}

	if !semver.IsValid(env.Schema) {
		importErrorsTotal.WithLabelValues("schema").Inc()
		span.SetStatus(codes.Error, "malformed schema tag")
		return nil, fmt.Errorf("%w: malformed schema tag %q", ErrEnvelopeInvalid, env.Schema)
	}
	if semver.Major(env.Schema) != semver.Major(SchemaVersion) {
		importErrorsTotal.WithLabelValues("schema_major").Inc()
		span.SetStatus(codes.Error, "schema major mismatch")
		return nil, fmt.Errorf("%w: envelope %s, this build reads %s",
			ErrSchemaIncompatible, env.Schema, SchemaVersion)
	}

	if _, err := uuid.Parse(env.Session); err != nil {
		importErrorsTotal.WithLabelValues("session").Inc()
		span.SetStatus(codes.Error, "bad session id")
		return nil, fmt.Errorf("%w: session %q is not a UUID", ErrEnvelopeInvalid, env.Session)
	}

	importsTotal.Inc()
	span.SetAttributes(attribute.Int64("sequence", int64(env.Sequence)))
	return &env, nil
}
