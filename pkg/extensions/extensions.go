// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines interfaces for enterprise functionality.
//
// This package provides extension points that allow PlasmaBus Enterprise
// to add capabilities without modifying the core bus codebase. The open
// source version uses no-op defaults for all interfaces.
//
// # Design Philosophy
//
// PlasmaBus is designed as a fully functional local command bus that
// works without any external infrastructure. Enterprise features are
// implemented by providing concrete implementations of these interfaces
// and injecting them via ServiceOptions.
//
// Every extension point lives on a cold surface: the bridge server, the
// mirror publisher, and the CLI. The admission hot path never calls an
// extension interface, so no implementation can add latency, allocation,
// or blocking to Submit.
//
// # Extension Categories
//
// The package is organized by domain:
//
//   - auth.go: Mirror ingest authentication (TokenValidator)
//   - audit.go: Compliance audit logging (AuditLogger)
//   - filter.go: Off-box event redaction (EventFilter)
//
// Reset custody is deliberately NOT an extension point. The capability
// token that authorizes a gate reset is owned by the authz package and
// compared in locked memory; no injected implementation can widen it.
//
// # Usage in PlasmaBus (Open Source)
//
// The open source version uses no-op implementations:
//
//	opts := extensions.DefaultOptions()
//	server, err := bridge.NewServerWithOptions(b, authority, logger, opts)
//
// # Usage in PlasmaBus Enterprise
//
// Enterprise provides concrete implementations:
//
//	opts := extensions.ServiceOptions{
//	    TokenValidator: enterprise.NewOIDCValidator(config),
//	    AuditLogger:    enterprise.NewSIEMAuditor(config),
//	    EventFilter:    enterprise.NewLanePolicyFilter(policy),
//	}
//	server, err := bridge.NewServerWithOptions(b, authority, logger, opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceOptions groups all extension points for bridge configuration.
//
// Pass this to bridge constructors to enable enterprise features.
// All fields are optional; nil values are replaced with no-op defaults
// when DefaultOptions() is called or when components check for nil.
//
// Example:
//
//	// Open source: use defaults
//	opts := extensions.DefaultOptions()
//
//	// Enterprise: inject implementations
//	opts := extensions.ServiceOptions{
//	    TokenValidator: oidcValidator,
//	    AuditLogger:    siemAuditor,
//	    EventFilter:    laneFilter,
//	}
type ServiceOptions struct {
	// TokenValidator authenticates mirror ingest connections.
	// Default: NopTokenValidator (always returns a local operator)
	TokenValidator TokenValidator

	// AuditLogger records security-relevant events.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger

	// EventFilter redacts or blocks event frames before they leave
	// the box. Default: NopEventFilter (passes through unchanged)
	EventFilter EventFilter
}

// DefaultOptions returns ServiceOptions with no-op defaults.
//
// This is the configuration used by the open source version.
// All connections are allowed, no audit trail, no redaction.
//
// Returns:
//   - ServiceOptions with all fields set to no-op implementations
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		TokenValidator: &NopTokenValidator{},
		AuditLogger:    &NopAuditLogger{},
		EventFilter:    &NopEventFilter{},
	}
}

// WithTokenValidator returns a copy of opts with the given TokenValidator.
// Useful for fluent configuration.
func (opts ServiceOptions) WithTokenValidator(validator TokenValidator) ServiceOptions {
	opts.TokenValidator = validator
	return opts
}

// WithAuditLogger returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAuditLogger(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithEventFilter returns a copy of opts with the given EventFilter.
func (opts ServiceOptions) WithEventFilter(filter EventFilter) ServiceOptions {
	opts.EventFilter = filter
	return opts
}
