// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crystal

// DeltaClass is the coarse bucket derived from the drift angle.
type DeltaClass uint8

const (
	// DeltaNone: drift below 2 degrees; the payload tracks the baseline.
	DeltaNone DeltaClass = iota

	// DeltaMicro: 2 to 10 degrees.
	DeltaMicro

	// DeltaSoft: 10 to 45 degrees.
	DeltaSoft

	// DeltaHard: 45 to 90 degrees.
	DeltaHard

	// DeltaCritical: beyond 90 degrees; the payload has left the
	// behavioral envelope.
	DeltaCritical
)

// String returns the lowercase class name.
func (c DeltaClass) String() string {
	switch c {
	case DeltaNone:
		return "none"
	case DeltaMicro:
		return "micro"
	case DeltaSoft:
		return "soft"
	case DeltaHard:
		return "hard"
	case DeltaCritical:
		return "critical"
	default:
		return "invalid"
	}
}

// degreesPerUnit converts the raw 16-bit drift encoding (0-65535 maps to
// 0-360 degrees) into degrees.
const degreesPerUnit = 360.0 / 65535.0

// Classify buckets a raw drift angle into its DeltaClass.
//
// Bins are fixed, monotonic and non-overlapping:
//
//	none     [ 0,  2) degrees
//	micro    [ 2, 10)
//	soft     [10, 45)
//	hard     [45, 90]
//	critical (90, 360]
//
// Thread Safety: Pure function.
func Classify(deltaAngle uint16) DeltaClass {
	deg := float32(deltaAngle) * degreesPerUnit
	switch {
	case deg < 2:
		return DeltaNone
	case deg < 10:
		return DeltaMicro
	case deg < 45:
		return DeltaSoft
	case deg <= 90:
		return DeltaHard
	default:
		return DeltaCritical
	}
}
