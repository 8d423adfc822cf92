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
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/plasmabus/bridge"
	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/gate"
	"github.com/AleutianAI/plasmabus/plasma"
)

// The dashboard chrome above and below the event viewport is a fixed
// number of lines; the renderers must match these or the layout tears.
const (
	monitorChromeLines = 13
	monitorFooterLines = 2

	// eventFeedLimit is how many mirrored frames each poll requests.
	eventFeedLimit = 100
)

// =============================================================================
// Messages
// =============================================================================

// tickMsg schedules the next poll.
type tickMsg time.Time

// dashboardMsg carries one poll's worth of bridge state.
type dashboardMsg struct {
	snap     plasma.Snapshot
	counters bus.Counters
	mirror   *bridge.MirrorStateResponse
	events   []bridge.EventFrame
	at       time.Time
	err      error
}

// =============================================================================
// Model
// =============================================================================

// monitorModel is the bubbletea model for the live bus dashboard.
//
// # Description
//
// Polls the bridge REST surface on a fixed interval and renders the
// gate, the lane counters, the mirrored peer, and a scrolling event
// feed. Single-threaded within the bubbletea event loop.
type monitorModel struct {
	client   *bridgeClient
	interval time.Duration

	// Last successful poll
	snap     plasma.Snapshot
	counters bus.Counters
	mirror   *bridge.MirrorStateResponse
	events   []bridge.EventFrame
	polledAt time.Time

	// Connecting spinner and event feed viewport
	spin     spinner.Model
	viewport viewport.Model

	// Terminal dimensions
	width  int
	height int

	// State flags
	ready    bool
	loaded   bool
	quitting bool
	lastErr  error
}

// newMonitorModel creates a dashboard model polling client every
// interval.
func newMonitorModel(client *bridgeClient, interval time.Duration) monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle
	return monitorModel{
		client:   client,
		interval: interval,
		spin:     sp,
	}
}

// Init implements tea.Model.
func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, fetchDashboard(m.client), scheduleTick(m.interval))
}

func scheduleTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchDashboard polls the four read-only routes off the event loop.
func fetchDashboard(client *bridgeClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()

		msg := dashboardMsg{at: time.Now()}
		if msg.snap, msg.err = client.State(ctx); msg.err != nil {
			return msg
		}
		if msg.counters, msg.err = client.Counters(ctx); msg.err != nil {
			return msg
		}
		if msg.mirror, msg.err = client.MirrorState(ctx); msg.err != nil {
			return msg
		}
		msg.events, msg.err = client.MirrorEvents(ctx, eventFeedLimit)
		return msg
	}
}

// Update implements tea.Model.
func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		viewportHeight := m.height - monitorChromeLines - monitorFooterLines
		if viewportHeight < 1 {
			viewportHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.viewport.YPosition = monitorChromeLines
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}

		m.updateViewportContent()

	case tickMsg:
		return m, tea.Batch(fetchDashboard(m.client), scheduleTick(m.interval))

	case dashboardMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			break
		}
		m.snap = msg.snap
		m.counters = msg.counters
		m.mirror = msg.mirror
		m.events = msg.events
		m.polledAt = msg.at
		m.loaded = true
		m.lastErr = nil
		m.updateViewportContent()

	case spinner.TickMsg:
		if !m.loaded {
			m.spin, cmd = m.spin.Update(msg)
			return m, cmd
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "r", "R":
			return m, fetchDashboard(m.client)

		case "j", "down":
			m.viewport.LineDown(1)

		case "k", "up":
			m.viewport.LineUp(1)

		case "ctrl+d":
			m.viewport.HalfViewDown()

		case "ctrl+u":
			m.viewport.HalfViewUp()

		case "g", "home":
			m.viewport.GotoTop()

		case "G", "end":
			m.viewport.GotoBottom()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	if !m.ready || !m.loaded {
		status := fmt.Sprintf("%s Connecting to %s...", m.spin.View(), m.client.base)
		if m.lastErr != nil {
			status += "\n" + errTextStyle.Render(m.lastErr.Error())
		}
		return status + "\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderGate())
	b.WriteString(m.renderLanes())
	b.WriteString(m.renderMirror())
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// =============================================================================
// Rendering
// =============================================================================

// renderHeader is 2 lines: the title bar and a blank.
func (m monitorModel) renderHeader() string {
	left := monitorTitleStyle.Render("⚡ plasmabus monitor")
	right := mutedTextStyle.Render(m.client.base)
	if m.lastErr != nil {
		right = errTextStyle.Render("poll failed: " + m.lastErr.Error())
	} else if !m.polledAt.IsZero() {
		right = mutedTextStyle.Render(fmt.Sprintf("%s  polled %s",
			m.client.base, m.polledAt.Format("15:04:05")))
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right + "\n\n"
}

// renderGate is 3 lines: the gate row, the telemetry row, and a blank.
func (m monitorModel) renderGate() string {
	excited := mutedTextStyle.Render("idle")
	if m.snap.Excited {
		excited = admittedTextStyle.Render("excited")
	}
	row1 := fmt.Sprintf(" %s  strength %s %.2f  %s",
		gateBadge(m.snap.SDTState),
		strengthBar(m.snap.LastRingStrength),
		m.snap.LastRingStrength,
		excited)

	drift := float64(m.snap.DeltaAngle) / 65535 * 360
	row2 := mutedTextStyle.Render(fmt.Sprintf(
		" entropy %d   drift %.1f°   triggers %d   supersessions %d   tick %d",
		m.snap.Entropy, drift, m.snap.TriggerCount, m.snap.SupersessionCount,
		m.counters.Tick))

	return row1 + "\n" + row2 + "\n\n"
}

// renderLanes is 6 lines: a column header, three lane rows, the totals
// row, and a blank.
func (m monitorModel) renderLanes() string {
	var b strings.Builder
	b.WriteString(tableHeadStyle.Render(fmt.Sprintf(
		" %-9s %7s %8s %8s %9s %6s %6s",
		"LANE", "DEPTH", "PUSHED", "POPPED", "REJECTED", "FULL", "DROPS")))
	b.WriteString("\n")

	for p := bus.Critical; p <= bus.Normal; p++ {
		lane := m.counters.Lanes[p]
		b.WriteString(fmt.Sprintf(" %-9s %7d %8d %8d %9d %6d %6d\n",
			p, lane.Depth(), lane.Pushed, lane.Popped, lane.Rejected,
			lane.Full, lane.SupersededDrops))
	}

	b.WriteString(mutedTextStyle.Render(fmt.Sprintf(
		" completions %d   invalid %d   tap dropped %d   evictions %d",
		m.counters.Completions, m.counters.InvalidPushes,
		m.counters.TapDropped, m.counters.LineageEvictions)))
	b.WriteString("\n\n")
	return b.String()
}

// renderMirror is 2 lines: the peer row and a blank.
func (m monitorModel) renderMirror() string {
	if m.mirror == nil {
		return mutedTextStyle.Render(" mirror: no peer connected") + "\n\n"
	}
	age := time.Since(time.UnixMilli(m.mirror.CapturedAt)).Round(time.Second)
	session := m.mirror.Session
	if len(session) > 8 {
		session = session[:8]
	}
	return fmt.Sprintf(" mirror: peer %s  seq %d  %s  (%s ago)\n\n",
		monitorTitleStyle.Render(session), m.mirror.Seq,
		gateBadge(m.mirror.Snapshot.SDTState), age)
}

// renderFooter is the key help line.
func (m monitorModel) renderFooter() string {
	return helpTextStyle.Render(" q quit · r refresh · j/k scroll · g/G top/bottom")
}

// updateViewportContent rebuilds the event feed. Frames arrive newest
// first from the mirror.
func (m *monitorModel) updateViewportContent() {
	if !m.ready {
		return
	}

	if len(m.events) == 0 {
		m.viewport.SetContent(mutedTextStyle.Render(" no mirrored events yet"))
		return
	}

	lines := make([]string, 0, len(m.events))
	for _, frame := range m.events {
		lines = append(lines, eventLine(frame))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

// eventLine renders one mirrored frame for the feed.
func eventLine(frame bridge.EventFrame) string {
	id := frame.CommandID
	if len(id) > 8 {
		id = id[:8]
	}

	var icon, detail string
	switch frame.Kind {
	case "admitted":
		icon = admittedTextStyle.Render("✓")
		detail = fmt.Sprintf("strength %.2f", frame.Strength)
	case "rejected":
		icon = rejectedTextStyle.Render("✗")
		detail = frame.Reason
	case "lane_full":
		icon = warnTextStyle.Render("⚠")
		detail = "lane full"
	case "completed":
		icon = completedTextStyle.Render("●")
		detail = frame.Status
	case "reset":
		icon = warnTextStyle.Render("↺")
		detail = "gate forced off"
		if frame.Drought {
			detail = "drought reset"
		}
	default:
		icon = warnTextStyle.Render("⚠")
		detail = frame.Kind
	}

	edge := ""
	if frame.From != frame.To {
		edge = mutedTextStyle.Render(fmt.Sprintf("  %s->%s", frame.From, frame.To))
	}

	return fmt.Sprintf(" %s %-8d %-10s %-9s %-8s %s%s",
		icon, frame.Tick, frame.Kind, frame.Lane, id, detail, edge)
}

// gateBadge colors the state the way the physics reads: Off is inert,
// Primed is charging, Conducting is flow, Latched holds on regardless.
func gateBadge(s gate.State) string {
	label := strings.ToUpper(s.String())
	switch s {
	case gate.Off:
		return offBadge.Render(label)
	case gate.Primed:
		return primedBadge.Render(label)
	case gate.Conducting:
		return conductingBadge.Render(label)
	case gate.Latched:
		return latchedBadge.Render(label)
	default:
		return offBadge.Render(label)
	}
}

// strengthBar renders an 8-cell charge ramp filled to the strength.
func strengthBar(strength float32) string {
	const cells = 8
	ramp := []rune("▁▂▃▄▅▆▇█")

	filled := int(strength*cells + 0.5)
	if filled > cells {
		filled = cells
	}

	var b strings.Builder
	for i := 0; i < cells; i++ {
		glyph := string(ramp[i])
		if i < filled {
			b.WriteString(barOnStyle.Render(glyph))
		} else {
			b.WriteString(barOffStyle.Render(glyph))
		}
	}
	return b.String()
}

// =============================================================================
// Styles
// =============================================================================

var (
	monitorTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))

	mutedTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	helpTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	errTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	admittedTextStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42"))

	rejectedTextStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))

	completedTextStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("75"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	tableHeadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Bold(true)

	barOnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	barOffStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	offBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Background(lipgloss.Color("238")).
			Padding(0, 1)

	primedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Background(lipgloss.Color("58")).
			Padding(0, 1)

	conductingBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)

	latchedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("201")).
			Background(lipgloss.Color("53")).
			Padding(0, 1)
)
