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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/plasmabus/bridge"
	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/plasma"
)

// maxExportBytes caps the /v1/state/export body read. The envelope is a
// few hundred bytes; anything near this limit is not one.
const maxExportBytes = 1 << 20

// bridgeClient talks to a running bus host's REST surface. Used by the
// monitor, reset, and snapshot commands.
type bridgeClient struct {
	base string
	http *http.Client
}

func newBridgeClient(base string) *bridgeClient {
	return &bridgeClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// State fetches the live plasma snapshot.
func (c *bridgeClient) State(ctx context.Context) (plasma.Snapshot, error) {
	var snap plasma.Snapshot
	err := c.getJSON(ctx, "/v1/state", &snap)
	return snap, err
}

// Counters fetches the bus counter snapshot.
func (c *bridgeClient) Counters(ctx context.Context) (bus.Counters, error) {
	var counters bus.Counters
	err := c.getJSON(ctx, "/v1/counters", &counters)
	return counters, err
}

// MirrorState fetches the last mirrored peer snapshot. Returns nil with
// no error when no peer has published yet.
func (c *bridgeClient) MirrorState(ctx context.Context) (*bridge.MirrorStateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/mirror/state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.asError(resp)
	}
	var state bridge.MirrorStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode mirror state: %w", err)
	}
	return &state, nil
}

// MirrorEvents fetches the most recent mirrored event frames, newest
// first.
func (c *bridgeClient) MirrorEvents(ctx context.Context, limit int) ([]bridge.EventFrame, error) {
	var events bridge.MirrorEventsResponse
	path := fmt.Sprintf("/v1/mirror/events?limit=%d", limit)
	if err := c.getJSON(ctx, path, &events); err != nil {
		return nil, err
	}
	return events.Events, nil
}

// Reset forces the gate to Off with the operator token.
func (c *bridgeClient) Reset(ctx context.Context, token string) (bridge.ResetResponse, error) {
	var out bridge.ResetResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/reset", nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, c.asError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode reset response: %w", err)
	}
	return out, nil
}

// Export fetches the versioned snapshot envelope as raw JSON.
func (c *bridgeClient) Export(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/state/export", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.asError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes))
	if err != nil {
		return nil, fmt.Errorf("read export body: %w", err)
	}
	return data, nil
}

func (c *bridgeClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.asError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// asError flattens a bridge ErrorResponse body into an error, falling
// back to the bare status when the body is not one.
func (c *bridgeClient) asError(resp *http.Response) error {
	var e bridge.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("%s (%s, HTTP %d)", e.Error, e.Code, resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d from %s", resp.StatusCode, c.base)
}
