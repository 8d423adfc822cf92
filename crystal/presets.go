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

// The five named presets from the source lineage, expressed as plain data.
// Each is a starting point: operators clone and tune via configuration.
// Seeds are arbitrary fixed constants chosen for bit diversity; equal
// seeds would make two families score coherence identically.

// PresetOrbital is the balanced default: tracks the baseline with equal
// emphasis on entropy and drift, modest coherence term.
func PresetOrbital() Family {
	return Family{
		ID:                      "orbital",
		EntropyWeight:           0.40,
		DeltaWeight:             0.40,
		HashWeight:              0.20,
		GateThresh:              0.55,
		HoldingThresh:           0.35,
		LatchThresh:             0.90,
		EntropyDroughtThreshold: 4096,
		Seed:                    0xA5C3_96E1_4B2D_7F08,
	}
}

// PresetGroundStation is entropy-led: rings while the system is hot,
// tolerates drift, drops quickly in quiet periods.
func PresetGroundStation() Family {
	return Family{
		ID:                      "ground_station",
		EntropyWeight:           0.70,
		DeltaWeight:             0.20,
		HashWeight:              0.10,
		GateThresh:              0.50,
		HoldingThresh:           0.40,
		LatchThresh:             0.95,
		EntropyDroughtThreshold: 16384,
		Seed:                    0x1D0F_BA5E_D00D_C4E3,
	}
}

// PresetTarPit rings on deviation: the invert flag flips the score so
// off-baseline traffic conducts and conforming traffic is held off.
func PresetTarPit() Family {
	return Family{
		ID:                      "tar_pit",
		EntropyWeight:           0.30,
		DeltaWeight:             0.55,
		HashWeight:              0.15,
		GateThresh:              0.60,
		HoldingThresh:           0.45,
		LatchThresh:             0.97,
		EntropyDroughtThreshold: 2048,
		Invert:                  true,
		Seed:                    0x7E11_55D1_CE55_A7B2,
	}
}

// PresetSilent conducts only under near-perfect resonance and never
// latches below certainty; the strictest of the shipped profiles.
func PresetSilent() Family {
	return Family{
		ID:                      "silent",
		EntropyWeight:           0.25,
		DeltaWeight:             0.25,
		HashWeight:              0.50,
		GateThresh:              0.92,
		HoldingThresh:           0.85,
		LatchThresh:             0.995,
		EntropyDroughtThreshold: 1024,
		Seed:                    0xF00D_2BAD_5EED_913C,
	}
}

// PresetAdaptive is coherence-led with a wide conducting band: favors
// payloads that match its seed profile, holds on through drift swings.
func PresetAdaptive() Family {
	return Family{
		ID:                      "adaptive",
		EntropyWeight:           0.20,
		DeltaWeight:             0.30,
		HashWeight:              0.50,
		GateThresh:              0.45,
		HoldingThresh:           0.25,
		LatchThresh:             0.93,
		EntropyDroughtThreshold: 8192,
		Seed:                    0x5A17_E9D4_0C6B_38F1,
	}
}

// PresetByName resolves a preset identifier.
//
// # Inputs
//
//   - name: One of "orbital", "ground_station", "tar_pit", "silent",
//     "adaptive".
//
// # Outputs
//
//   - Family: The preset value.
//   - bool: False if the name is unknown.
func PresetByName(name string) (Family, bool) {
	switch name {
	case "orbital":
		return PresetOrbital(), true
	case "ground_station":
		return PresetGroundStation(), true
	case "tar_pit":
		return PresetTarPit(), true
	case "silent":
		return PresetSilent(), true
	case "adaptive":
		return PresetAdaptive(), true
	default:
		return Family{}, false
	}
}

// PresetNames lists the shipped preset identifiers in stable order.
func PresetNames() []string {
	return []string{"orbital", "ground_station", "tar_pit", "silent", "adaptive"}
}
