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
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/plasmabus/gate"
)

// BinarySize is the exact encoded length of a Snapshot.
//
// The layout is fixed-width little-endian with a leading schema byte and a
// reserved tail, so fields can be appended by bumping the schema byte
// without moving existing offsets.
const BinarySize = 40

// binarySchema is the current binary layout version.
const binarySchema = 1

var (
	// ErrSnapshotSize means the buffer is not exactly BinarySize bytes.
	ErrSnapshotSize = errors.New("plasma: snapshot buffer size mismatch")

	// ErrSnapshotSchema means the leading schema byte is from a layout
	// this build does not read.
	ErrSnapshotSchema = errors.New("plasma: unknown snapshot schema")

	// ErrSnapshotCorrupt means a decoded field holds a value no encoder
	// produces.
	ErrSnapshotCorrupt = errors.New("plasma: snapshot corrupt")
)

// Snapshot is the wire-shaped view of a State.
//
// # Description
//
//	A plain value struct carrying the observable fields of the record.
//	Field skew follows the State composite-read contract: SDTState and
//	LastRingStrength are mutually consistent, the rest are last-known
//	values. Snapshot has no behavior beyond encoding.
type Snapshot struct {
	// DeltaAngle is the drift angle in raw u16 units (0-65535 maps to
	// 0-360 degrees).
	DeltaAngle uint16 `json:"delta_angle"`

	// Entropy is the environmental entropy reading.
	Entropy uint32 `json:"entropy"`

	// Excited reports whether the gate admitted on the most recent
	// attempt.
	Excited bool `json:"excited"`

	// SDTState is the gate state as its u8 wire value.
	SDTState gate.State `json:"sdt_state"`

	// LastRingStrength is the strength recorded by the most recent
	// attempt.
	LastRingStrength float32 `json:"last_ring_strength"`

	// TriggerCount counts admissions.
	TriggerCount uint32 `json:"trigger_count"`

	// SupersessionCount counts explicit lineage kills.
	SupersessionCount uint32 `json:"supersession_count"`

	// LastTriggerTick is the logical tick of the most recent admission.
	LastTriggerTick uint64 `json:"last_trigger_tick"`
}

// Binary layout offsets. The two pad ranges and the reserved tail are
// written as zero and ignored on read.
const (
	offSchema       = 0
	offState        = 1
	offExcited      = 2
	offDeltaAngle   = 4
	offEntropy      = 8
	offStrength     = 12
	offTriggerCount = 16
	offSupersession = 20
	offTriggerTick  = 24
)

// MarshalBinary encodes the snapshot into the fixed 40-byte layout.
//
// Encode followed by UnmarshalBinary reproduces every field bit-exactly;
// the strength round-trips through math.Float32bits so NaN payloads and
// signed zeros survive unchanged.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BinarySize)
	buf[offSchema] = binarySchema
	buf[offState] = byte(s.SDTState)
	if s.Excited {
		buf[offExcited] = 1
	}
	binary.LittleEndian.PutUint16(buf[offDeltaAngle:], s.DeltaAngle)
	binary.LittleEndian.PutUint32(buf[offEntropy:], s.Entropy)
	binary.LittleEndian.PutUint32(buf[offStrength:], math.Float32bits(s.LastRingStrength))
	binary.LittleEndian.PutUint32(buf[offTriggerCount:], s.TriggerCount)
	binary.LittleEndian.PutUint32(buf[offSupersession:], s.SupersessionCount)
	binary.LittleEndian.PutUint64(buf[offTriggerTick:], s.LastTriggerTick)
	return buf, nil
}

// UnmarshalBinary decodes the fixed 40-byte layout into s.
//
// The buffer must be exactly BinarySize bytes, carry a known schema byte,
// and hold field values an encoder can produce; otherwise s is left
// unmodified and a sentinel error is returned.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	if len(data) != BinarySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSnapshotSize, len(data), BinarySize)
	}
	if data[offSchema] != binarySchema {
		return fmt.Errorf("%w: schema byte %d", ErrSnapshotSchema, data[offSchema])
	}

	state := gate.State(data[offState])
	if !state.IsValid() {
		return fmt.Errorf("%w: state byte %d", ErrSnapshotCorrupt, data[offState])
	}
	if data[offExcited] > 1 {
		return fmt.Errorf("%w: excited byte %d", ErrSnapshotCorrupt, data[offExcited])
	}

	s.SDTState = state
	s.Excited = data[offExcited] == 1
	s.DeltaAngle = binary.LittleEndian.Uint16(data[offDeltaAngle:])
	s.Entropy = binary.LittleEndian.Uint32(data[offEntropy:])
	s.LastRingStrength = math.Float32frombits(binary.LittleEndian.Uint32(data[offStrength:]))
	s.TriggerCount = binary.LittleEndian.Uint32(data[offTriggerCount:])
	s.SupersessionCount = binary.LittleEndian.Uint32(data[offSupersession:])
	s.LastTriggerTick = binary.LittleEndian.Uint64(data[offTriggerTick:])
	return nil
}
