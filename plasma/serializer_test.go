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
	"testing"

	"github.com/google/uuid"

	"github.com/AleutianAI/plasmabus/gate"
)

func TestSerializer_ExportImportRoundTrip(t *testing.T) {
	s := NewSerializer(nil)
	ctx := context.Background()

	snap := Snapshot{
		DeltaAngle:       8192,
		Entropy:          5000,
		Excited:          true,
		SDTState:         gate.Conducting,
		LastRingStrength: 0.75,
		TriggerCount:     12,
		LastTriggerTick:  99,
	}

	data, err := s.Export(ctx, snap)
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	env, err := s.Import(ctx, data)
	if err != nil {
		t.Fatalf("Import error: %v", err)
	}

	if env.Schema != SchemaVersion {
		t.Errorf("Schema = %q, want %q", env.Schema, SchemaVersion)
	}
	if env.Snapshot != snap {
		t.Errorf("Snapshot = %+v, want %+v", env.Snapshot, snap)
	}
	if env.Session != s.Session().String() {
		t.Errorf("Session = %q, want %q", env.Session, s.Session())
	}
	if _, err := uuid.Parse(env.Session); err != nil {
		t.Errorf("Session %q is not a UUID: %v", env.Session, err)
	}
}

func TestSerializer_SequenceIncrements(t *testing.T) {
	s := NewSerializer(nil)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 3; i++ {
		data, err := s.Export(ctx, Snapshot{})
		if err != nil {
			t.Fatalf("Export error: %v", err)
		}
		env, err := s.Import(ctx, data)
		if err != nil {
			t.Fatalf("Import error: %v", err)
		}
		if env.Sequence != last+1 {
			t.Errorf("Sequence = %d, want %d", env.Sequence, last+1)
		}
		last = env.Sequence
	}
}

func TestSerializer_ImportValidation(t *testing.T) {
	s := NewSerializer(nil)
	ctx := context.Background()

	envelope := func(mutate func(*Envelope)) []byte {
		env := Envelope{
			Schema:   SchemaVersion,
			Session:  uuid.NewString(),
			Sequence: 1,
		}
		mutate(&env)
		data, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal fixture: %v", err)
		}
		return data
	}

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{
			"malformed json",
			[]byte(`{"schema":`),
			ErrEnvelopeInvalid,
		},
		{
			"schema tag without v prefix",
			envelope(func(e *Envelope) { e.Schema = "1.0.0" }),
			ErrEnvelopeInvalid,
		},
		{
			"different major version",
			envelope(func(e *Envelope) { e.Schema = "v2.0.0" }),
			ErrSchemaIncompatible,
		},
		{
			"session is not a uuid",
			envelope(func(e *Envelope) { e.Session = "nobody" }),
			ErrEnvelopeInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Import(ctx, tc.data); !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("newer minor within the same major is accepted", func(t *testing.T) {
		data := envelope(func(e *Envelope) { e.Schema = "v1.9.3" })
		if _, err := s.Import(ctx, data); err != nil {
			t.Errorf("Import error: %v, want nil (fields may be appended within a major)", err)
		}
	})
}
