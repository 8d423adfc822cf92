// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrEventBlocked is returned when an event frame is rejected by the
// filter. Enterprise implementations should wrap this error with the
// reason.
//
// Example:
//
//	if view.Lane == "critical" {
//	    return nil, fmt.Errorf("critical lane is site-local: %w", ErrEventBlocked)
//	}
var ErrEventBlocked = errors.New("event blocked by filter")

// EventView is the neutral projection of an admission event handed to
// filters.
//
// It deliberately duplicates the bridge's wire shape instead of
// importing it: extension implementations depend only on this package,
// and the bridge maps frames to and from views at its single
// interception point. Command payloads never appear here - they live in
// ring slots and are not part of any off-box surface.
//
// Example:
//
//	view := EventView{
//	    Kind:      "admitted",
//	    Lane:      "deferred",
//	    CommandID: "7d44…",
//	    Admitted:  true,
//	}
type EventView struct {
	// Kind is the event kind name ("admitted", "rejected", ...).
	Kind string

	// Lane is the lane name.
	Lane string

	// CommandID is the subject command's UUID string, where one exists.
	CommandID string

	// Reason details rejections.
	Reason string

	// Status details completions.
	Status string

	// Admitted reports whether the attempt admitted.
	Admitted bool
}

// FilterResult contains the outcome of a filter operation.
//
// This struct provides detailed information about what the filter did,
// useful for debugging, audit trails, and operator feedback.
//
// Example:
//
//	result := FilterResult{
//	    Original:    view,
//	    Filtered:    redacted,
//	    WasModified: true,
//	    Detections: []Detection{
//	        {Type: "command_id", Field: "CommandID", Action: "redacted"},
//	    },
//	}
type FilterResult struct {
	// Original is the input view before filtering.
	Original EventView

	// Filtered is the view after filtering transformations.
	// If WasModified is false, this equals Original.
	Filtered EventView

	// WasModified indicates if any transformations were applied.
	WasModified bool

	// WasBlocked indicates if the event was completely withheld.
	// If true, Filtered should not be used.
	WasBlocked bool

	// BlockReason explains why the event was withheld (if WasBlocked).
	BlockReason string

	// Detections lists what the filter found in the event.
	// Useful for audit logging and debugging.
	Detections []Detection
}

// Detection describes a single item found by the filter.
//
// Example:
//
//	detection := Detection{
//	    Type:   "correlation_handle",
//	    Field:  "CommandID",
//	    Action: "redacted",
//	}
type Detection struct {
	// Type categorizes what was detected.
	// Common types: "correlation_handle", "lane_policy", "reason_detail"
	Type string

	// Field names the EventView field the item was found in.
	Field string

	// Action describes what was done with the detected item.
	// Values: "redacted", "masked", "replaced", "blocked", "flagged"
	Action string

	// Replacement is what the content was replaced with (if Action is
	// "replaced").
	Replacement string
}

// EventFilter transforms admission events before they leave the box.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Interception Point
//
// Events flow through the filter at exactly one point: after the tap
// event is projected into its wire shape and before it enters the mirror
// publisher's outbox. A blocked event is counted and never enqueued; a
// modified event is mirrored in its redacted form. Local surfaces (the
// journal, the REST reads, the TUI) see the unfiltered event.
//
// # Open Source Behavior
//
// The default NopEventFilter passes all events through unchanged. This
// is appropriate for deployments where both ends of the bridge sit in
// the same trust domain.
//
// # Enterprise Implementation
//
// Enterprise versions implement site policies: which lanes may be
// mirrored, whether command UUIDs cross the boundary, whether rejection
// reasons are considered diagnostic detail.
//
// Example enterprise implementation:
//
//	type LanePolicyFilter struct {
//	    blockedLanes map[string]bool
//	}
//
//	func (f *LanePolicyFilter) FilterEvent(ctx context.Context, view EventView) (*FilterResult, error) {
//	    result := &FilterResult{Original: view, Filtered: view}
//
//	    if f.blockedLanes[view.Lane] {
//	        result.WasBlocked = true
//	        result.BlockReason = "lane is site-local"
//	        return result, nil
//	    }
//
//	    if view.CommandID != "" {
//	        result.Filtered.CommandID = ""
//	        result.WasModified = true
//	        result.Detections = append(result.Detections, Detection{
//	            Type:   "correlation_handle",
//	            Field:  "CommandID",
//	            Action: "redacted",
//	        })
//	    }
//
//	    return result, nil
//	}
//
// # Blocking vs Transforming
//
// Filters can either:
//   - Transform: Modify fields and let the event through (e.g., strip the UUID)
//   - Block: Withhold the entire event (e.g., lane policy)
//
// To block, return a FilterResult with WasBlocked=true and BlockReason
// set. A filter error withholds the event too: the publisher fails
// closed, since the alternative is leaking a frame the policy never saw.
type EventFilter interface {
	// FilterEvent processes one admission event before mirroring.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - view: The projected event
	//
	// Returns:
	//   - *FilterResult: The filtered event and metadata
	//   - error: Non-nil only for filter failures (not for blocks)
	FilterEvent(ctx context.Context, view EventView) (*FilterResult, error)
}

// NopEventFilter is the default event filter for open source.
//
// It passes all events through unchanged without any transformation or
// blocking. This is appropriate for deployments where both ends of the
// bridge sit in the same trust domain.
//
// Thread-safe: This implementation has no mutable state.
//
// Example:
//
//	filter := &NopEventFilter{}
//	result, err := filter.FilterEvent(ctx, view)
//	// result.Filtered == view (unchanged)
//	// result.WasModified == false
//	// err == nil
type NopEventFilter struct{}

// FilterEvent returns the event unchanged.
//
// No transformations or blocking are applied.
func (f *NopEventFilter) FilterEvent(ctx context.Context, view EventView) (*FilterResult, error) {
	return &FilterResult{
		Original:    view,
		Filtered:    view,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// Compile-time interface compliance check.
// This ensures NopEventFilter implements EventFilter.
var _ EventFilter = (*NopEventFilter)(nil)
