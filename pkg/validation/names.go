// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for operator- and peer-supplied names
// that are used in storage keys, file names, and metric tags. Using these
// validators prevents injection attacks (key-prefix collision, path
// traversal, line-protocol injection into Influx tags).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// sessionPattern matches valid session identifiers.
// Allows: letters, digits, dots, underscores, hyphens; must start with a
// letter or digit. Max length: 64 characters (a UUID is 36).
//
// The allow-list has no path separators and no leading dot, so a session
// id can never traverse out of a checkpoint directory, and no colon, so
// it can never collide with another session's "rec:{session}:" key
// prefix in the journal store.
var sessionPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,63}$`)

// familyPattern matches valid resonance family names (built-in presets
// and inline definitions share the namespace).
// Allows: lowercase letters, digits, underscores; must start with a
// letter. Max length: 64 characters.
var familyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateSessionID validates a session identifier before it reaches
// journal keys, checkpoint file names, or mirror frame tags.
//
// Valid session ids:
//   - 1-64 characters
//   - Letters a-z A-Z, digits 0-9
//   - Dots (.), underscores (_), hyphens (-) after the first character
//
// Returns an error if the id is invalid.
//
// Example:
//
//	if err := validation.ValidateSessionID(id); err != nil {
//	    return fmt.Errorf("invalid session id: %w", err)
//	}
//	// Safe to embed in a store key or checkpoint file name
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	if !sessionPattern.MatchString(id) {
		return fmt.Errorf("invalid session id: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens, starting alphanumeric)", id)
	}

	return nil
}

// SanitizeSessionID trims and validates a session identifier.
// Returns the trimmed id if valid, or an error if invalid. Case is
// preserved; session ids are case-sensitive.
//
// Use this on ids arriving from flags or environment:
//
//	session, err := validation.SanitizeSessionID(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeSessionID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateSessionID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateFamilyName validates a resonance family name before it
// reaches log fields and metric labels.
//
// Valid family names:
//   - 1-64 characters
//   - Lowercase letters a-z, digits 0-9
//   - Underscores (_) after the first character
//
// Returns an error if the name is invalid.
func ValidateFamilyName(name string) error {
	if name == "" {
		return fmt.Errorf("family name cannot be empty")
	}

	if !familyPattern.MatchString(name) {
		return fmt.Errorf("invalid family name: %q (must be 1-64 lowercase alphanumeric chars or underscores, starting with a letter)", name)
	}

	return nil
}

// ValidateFamilyNames validates multiple family names.
// Returns an error listing all invalid names if any fail validation.
func ValidateFamilyNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateFamilyName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid family names: %v", invalid)
	}
	return nil
}
