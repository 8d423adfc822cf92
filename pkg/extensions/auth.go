// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when mirror ingest authentication fails.
// Enterprise implementations should wrap this error with additional context.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// Principal contains identity information returned after successful
// authentication of a mirror publisher.
//
// This struct is designed to be extensible via the Metadata field, allowing
// enterprise implementations to include additional claims without modifying
// the core type.
//
// Required fields (always populated):
//   - Subject: Unique identifier for the connecting party
//
// Optional fields (may be empty):
//   - Name: Human-readable display name
//   - Roles: List of roles the principal holds
//   - Metadata: Arbitrary key-value pairs for enterprise extensions
//
// Example:
//
//	principal := &Principal{
//	    Subject: "publisher-orbital-7",
//	    Name:    "Orbital relay 7",
//	    Roles:   []string{"publisher"},
//	    Metadata: map[string]string{
//	        "site": "ground-station-2",
//	    },
//	}
type Principal struct {
	// Subject is the unique identifier for the authenticated party.
	// This is the only required field and must never be empty.
	Subject string

	// Name is a human-readable display name.
	// May be empty if not provided by the identity provider.
	Name string

	// Roles contains the principal's role memberships.
	// Common roles: "publisher", "observer", "operator"
	Roles []string

	// Metadata holds additional claims from the identity provider.
	// Enterprise implementations can store provider-specific data here
	// without requiring changes to the core struct.
	//
	// Common metadata keys:
	//   - "site": originating deployment site
	//   - "session_id": identity provider session ID
	//   - "mfa_verified": whether MFA was used
	Metadata map[string]string
}

// HasRole checks if the principal holds a specific role.
//
// This is a convenience method for authorization checks:
//
//	if !principal.HasRole("publisher") {
//	    return ErrUnauthorized
//	}
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenValidator authenticates mirror ingest connections.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default NopTokenValidator always returns a valid local operator.
// This allows two plasmabus processes on a trusted network to mirror
// each other without any authentication infrastructure.
//
// # Enterprise Implementation
//
// Enterprise versions implement this interface to validate tokens against
// identity providers like Okta, Auth0, or an internal OIDC issuer.
//
// Example enterprise implementation:
//
//	type OIDCValidator struct {
//	    verifier *oidc.IDTokenVerifier
//	}
//
//	func (v *OIDCValidator) ValidateToken(ctx context.Context, token string) (*Principal, error) {
//	    claims, err := v.verifier.Verify(ctx, token)
//	    if err != nil {
//	        return nil, fmt.Errorf("oidc validation failed: %w", ErrUnauthorized)
//	    }
//	    return &Principal{
//	        Subject: claims.Subject,
//	        Roles:   claims.Groups,
//	    }, nil
//	}
//
// # Scope
//
// TokenValidator guards the websocket ingest only. It has no authority
// over the gate reset route; reset custody belongs to the authz package
// and cannot be granted by a Principal, whatever its roles.
type TokenValidator interface {
	// ValidateToken checks if the token is valid and returns the
	// connecting party's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The bearer token from the dial request (may be empty)
	//
	// Returns:
	//   - *Principal: Identity information if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors
	//     for validator failures
	//
	// The token format is implementation-specific:
	//   - JWT: "eyJhbGciOiJSUzI1NiIs..."
	//   - API Key: "pk_live_..."
	ValidateToken(ctx context.Context, token string) (*Principal, error)
}

// NopTokenValidator is the default validator for open source.
//
// It always returns a valid local operator, enabling mirroring between
// trusted processes without any authentication infrastructure.
//
// Thread-safe: This implementation has no mutable state.
//
// Example:
//
//	validator := &NopTokenValidator{}
//	principal, err := validator.ValidateToken(ctx, "")
//	// principal.Subject == "local-operator"
//	// principal.Roles == []string{"publisher", "observer"}
//	// err == nil
type NopTokenValidator struct{}

// ValidateToken always returns a valid local operator.
//
// The token parameter is ignored - any value (including empty string)
// results in successful authentication. This is intentional for
// deployments where the bridge listens on a trusted interface.
func (v *NopTokenValidator) ValidateToken(_ context.Context, _ string) (*Principal, error) {
	return &Principal{
		Subject: "local-operator",
		Roles:   []string{"publisher", "observer"},
	}, nil
}

// Compile-time interface compliance check.
// This ensures NopTokenValidator implements TokenValidator.
var _ TokenValidator = (*NopTokenValidator)(nil)
