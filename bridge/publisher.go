// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/pkg/extensions"
	"github.com/AleutianAI/plasmabus/plasma"
	"github.com/AleutianAI/plasmabus/telemetry"
)

// ErrPublisherClosed means Run or OfferEvent was called after Close.
var ErrPublisherClosed = errors.New("bridge: publisher closed")

// Publisher defaults.
const (
	defaultOutboxSize    = 1024
	defaultSnapshotEvery = time.Second
	defaultRatePerSecond = 200
	defaultRateBurst     = 50
	defaultReconnectMin  = 250 * time.Millisecond
	defaultReconnectMax  = 8 * time.Second
	defaultWriteTimeout  = 5 * time.Second
)

// SnapshotSource supplies the periodic state mirror. *bus.Bus satisfies
// it.
type SnapshotSource interface {
	Snapshot() plasma.Snapshot
}

// PublisherConfig controls the outbound half of the bridge.
type PublisherConfig struct {
	// URL is the peer's websocket ingest endpoint (ws:// or wss://).
	URL string `json:"url"`

	// Session identifies this publisher. A fresh UUID when empty.
	Session string `json:"session"`

	// OutboxSize bounds the unacked frame buffer. When full, the oldest
	// frame is evicted and counted. Default 1024.
	OutboxSize int `json:"outbox_size"`

	// SnapshotEvery is the period between snapshot frames while
	// connected. Zero means the default (1s); negative disables
	// snapshots.
	SnapshotEvery time.Duration `json:"snapshot_every"`

	// RatePerSecond caps outbound frames per second. Default 200.
	RatePerSecond float64 `json:"rate_per_second"`

	// RateBurst is the limiter burst. Default 50.
	RateBurst int `json:"rate_burst"`

	// ReconnectMin and ReconnectMax bound the doubling redial backoff.
	// Defaults 250ms and 8s.
	ReconnectMin time.Duration `json:"reconnect_min"`
	ReconnectMax time.Duration `json:"reconnect_max"`

	// WriteTimeout is the per-frame write deadline. Default 5s.
	WriteTimeout time.Duration `json:"write_timeout"`

	// Header is sent with the dial request (auth, routing).
	Header http.Header `json:"-"`

	// Filter redacts or withholds event frames before they enter the
	// outbox. Nil passes everything through. Snapshot frames carry
	// aggregate state only and bypass the filter.
	Filter extensions.EventFilter `json:"-"`

	// Metrics receives frame/resend/reconnect/drop counts when set.
	Metrics *telemetry.Metrics `json:"-"`

	// Logger receives connection lifecycle events. Default if nil.
	Logger *slog.Logger `json:"-"`
}

// DefaultPublisherConfig returns the defaults. URL must still be set.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		OutboxSize:    defaultOutboxSize,
		SnapshotEvery: defaultSnapshotEvery,
		RatePerSecond: defaultRatePerSecond,
		RateBurst:     defaultRateBurst,
		ReconnectMin:  defaultReconnectMin,
		ReconnectMax:  defaultReconnectMax,
		WriteTimeout:  defaultWriteTimeout,
	}
}

// Validate checks the required fields.
func (c PublisherConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("publisher URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("publisher URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("publisher URL scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.OutboxSize < 0 {
		return fmt.Errorf("outbox size must not be negative, got %d", c.OutboxSize)
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate must not be negative, got %f", c.RatePerSecond)
	}
	return nil
}

// PublisherStats is a point-in-time read of the publisher's counters.
type PublisherStats struct {
	// Session is the publisher's session id.
	Session string `json:"session"`

	// Seq is the last assigned sequence number.
	Seq uint64 `json:"seq"`

	// Acked is the highest sequence the peer has confirmed.
	Acked uint64 `json:"acked"`

	// Pending counts frames waiting in the outbox.
	Pending uint64 `json:"pending"`

	// Offered counts frames ever enqueued.
	Offered uint64 `json:"offered"`

	// Drops counts frames evicted from a full outbox.
	Drops uint64 `json:"drops"`

	// Resends counts frames written more than once.
	Resends uint64 `json:"resends"`

	// Reconnects counts redial cycles.
	Reconnects uint64 `json:"reconnects"`

	// Filtered counts events withheld by the event filter.
	Filtered uint64 `json:"filtered"`
}

// Publisher pushes admission events and periodic snapshots to a remote
// bridge server.
//
// # Description
//
//	Frames enter through OfferEvent (wired as a bus.DrainTap sink) and
//	the internal snapshot ticker. Run dials the peer and keeps two pumps
//	per connection: a write pump that walks the outbox in sequence
//	order under a rate limiter, and a read pump that applies acks and
//	prunes the outbox. On reconnect the write pump resumes from the
//	last acked sequence, so unacked frames go again (at-least-once).
//
// # Thread Safety
//
//	OfferEvent and Stats are safe from any goroutine. Run is a single
//	long-lived loop; start it once.
type Publisher struct {
	config  PublisherConfig
	source  SnapshotSource
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	outbox []Frame
	seq    uint64

	acked    atomic.Uint64
	sentHigh atomic.Uint64

	offered    atomic.Uint64
	drops      atomic.Uint64
	resends    atomic.Uint64
	reconnects atomic.Uint64
	filtered   atomic.Uint64
	closed     atomic.Bool

	// notify wakes the write pump after an enqueue. Buffered with one
	// slot so bursts coalesce into a single wakeup.
	notify chan struct{}
}

// NewPublisher builds a publisher over the given snapshot source.
// Zero config fields take defaults; URL is required.
func NewPublisher(source SnapshotSource, config PublisherConfig) (*Publisher, error) {
	if source == nil {
		return nil, errors.New("bridge: snapshot source must not be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("publisher config: %w", err)
	}

	if config.Session == "" {
		config.Session = uuid.NewString()
	}
	if config.OutboxSize == 0 {
		config.OutboxSize = defaultOutboxSize
	}
	if config.SnapshotEvery == 0 {
		config.SnapshotEvery = defaultSnapshotEvery
	}
	if config.RatePerSecond == 0 {
		config.RatePerSecond = defaultRatePerSecond
	}
	if config.RateBurst == 0 {
		config.RateBurst = defaultRateBurst
	}
	if config.ReconnectMin == 0 {
		config.ReconnectMin = defaultReconnectMin
	}
	if config.ReconnectMax == 0 {
		config.ReconnectMax = defaultReconnectMax
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.Filter == nil {
		config.Filter = &extensions.NopEventFilter{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		config: config,
		source: source,
		limiter: rate.NewLimiter(
			rate.Limit(config.RatePerSecond), config.RateBurst),
		logger: logger.With(
			slog.String("component", "bridge_publisher"),
			slog.String("session", config.Session)),
		outbox: make([]Frame, 0, config.OutboxSize),
		notify: make(chan struct{}, 1),
	}, nil
}

// Session returns the publisher's session id.
func (p *Publisher) Session() string {
	return p.config.Session
}

// OfferEvent enqueues one tap event for mirroring. Never blocks; a full
// outbox evicts its oldest frame.
//
// The event runs through the configured filter first. A blocked event is
// counted and never enqueued; a filter error withholds the event too,
// since the alternative is mirroring a frame the policy never saw.
func (p *Publisher) OfferEvent(ev bus.Event) {
	if p.closed.Load() {
		return
	}
	evf := NewEventFrame(ev)

	result, err := p.config.Filter.FilterEvent(context.Background(), frameView(evf))
	if err != nil {
		p.filtered.Add(1)
		p.logger.Warn("Event filter failed; frame withheld", slog.Any("error", err))
		return
	}
	if result.WasBlocked {
		p.filtered.Add(1)
		return
	}
	if result.WasModified {
		applyView(&evf, result.Filtered)
	}

	p.enqueue(FrameKindEvent, &evf, nil)
}

// frameView projects a wire frame into the neutral shape filters see.
func frameView(f EventFrame) extensions.EventView {
	return extensions.EventView{
		Kind:      f.Kind,
		Lane:      f.Lane,
		CommandID: f.CommandID,
		Reason:    f.Reason,
		Status:    f.Status,
		Admitted:  f.Admitted,
	}
}

// applyView copies the filterable fields back onto the frame. Gate edge,
// strength, and tick are observability facts, not redactable content.
func applyView(f *EventFrame, v extensions.EventView) {
	f.Kind = v.Kind
	f.Lane = v.Lane
	f.CommandID = v.CommandID
	f.Reason = v.Reason
	f.Status = v.Status
	f.Admitted = v.Admitted
}

// offerSnapshot enqueues a snapshot frame.
func (p *Publisher) offerSnapshot(snap plasma.Snapshot) {
	if p.closed.Load() {
		return
	}
	p.enqueue(FrameKindSnapshot, nil, &snap)
}

func (p *Publisher) enqueue(kind string, event *EventFrame, snap *plasma.Snapshot) {
	p.offered.Add(1)

	p.mu.Lock()
	p.seq++
	frame := Frame{
		Schema:     plasma.SchemaVersion,
		Session:    p.config.Session,
		Seq:        p.seq,
		Kind:       kind,
		CapturedAt: time.Now().UnixMilli(),
		Event:      event,
		Snapshot:   snap,
	}
	dropped := false
	if len(p.outbox) >= p.config.OutboxSize {
		copy(p.outbox, p.outbox[1:])
		p.outbox[len(p.outbox)-1] = frame
		dropped = true
	} else {
		p.outbox = append(p.outbox, frame)
	}
	p.mu.Unlock()

	if dropped {
		p.drops.Add(1)
		if p.config.Metrics != nil {
			p.config.Metrics.BridgeOutboxDrops.Add(context.Background(), 1)
		}
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// next returns the first outbox frame with a sequence above after.
func (p *Publisher) next(after uint64) (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.outbox {
		if f.Seq > after {
			return f, true
		}
	}
	return Frame{}, false
}

// applyAck records the peer's cumulative ack and prunes the outbox.
func (p *Publisher) applyAck(seq uint64) {
	for {
		cur := p.acked.Load()
		if seq <= cur {
			return
		}
		if p.acked.CompareAndSwap(cur, seq) {
			break
		}
	}

	p.mu.Lock()
	n := 0
	for _, f := range p.outbox {
		if f.Seq > seq {
			p.outbox[n] = f
			n++
		}
	}
	p.outbox = p.outbox[:n]
	p.mu.Unlock()
}

// Run dials the peer and serves connections until ctx is canceled.
//
// # Description
//
//	Dial failures and lost connections retry under a doubling backoff
//	bounded by ReconnectMin/ReconnectMax. A successful connection resets
//	the backoff. Each retry cycle counts as a reconnect.
//
// # Outputs
//
//	error - The ctx error on cancellation, ErrPublisherClosed after
//	Close. Run never returns nil while the publisher is live.
func (p *Publisher) Run(ctx context.Context) error {
	if ctx == nil {
		return errNilContext
	}
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	backoff := p.config.ReconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.config.URL, p.config.Header)
		if err == nil {
			backoff = p.config.ReconnectMin
			p.logger.Info("Bridge connected", slog.String("url", p.config.URL))

			serveErr := p.serve(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("Bridge connection lost", slog.Any("error", serveErr))
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("Bridge dial failed",
				slog.Any("error", err),
				slog.Duration("retry_in", backoff))
		}

		p.reconnects.Add(1)
		if p.config.Metrics != nil {
			p.config.Metrics.BridgeReconnectsTotal.Add(ctx, 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.config.ReconnectMax {
			backoff = p.config.ReconnectMax
		}
	}
}

// serve runs the per-connection pumps and returns when any of them
// fails or ctx is canceled.
func (p *Publisher) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	// Closing the conn is what unblocks the pumps when the group winds
	// down; their read/write errors are already recorded by then.
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	g.Go(func() error { return p.writePump(gctx, conn) })
	g.Go(func() error { return p.readPump(conn) })

	if p.config.SnapshotEvery > 0 {
		g.Go(func() error { return p.snapshotLoop(gctx) })
	}

	return g.Wait()
}

// writePump walks the outbox in sequence order, resuming after the last
// acked frame.
func (p *Publisher) writePump(ctx context.Context, conn *websocket.Conn) error {
	lastSent := p.acked.Load()

	for {
		frame, ok := p.next(lastSent)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.notify:
			}
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		if err := conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("write frame %d: %w", frame.Seq, err)
		}

		if frame.Seq <= p.sentHigh.Load() {
			p.resends.Add(1)
			if p.config.Metrics != nil {
				p.config.Metrics.BridgeResendsTotal.Add(ctx, 1)
			}
		} else {
			p.sentHigh.Store(frame.Seq)
		}
		if p.config.Metrics != nil {
			p.config.Metrics.BridgeFramesTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("kind", frame.Kind)))
		}

		lastSent = frame.Seq
	}
}

// readPump applies cumulative acks until the connection drops.
func (p *Publisher) readPump(conn *websocket.Conn) error {
	for {
		var ack Ack
		if err := conn.ReadJSON(&ack); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("read ack: %w", err)
			}
			return err
		}
		p.applyAck(ack.Seq)
	}
}

// snapshotLoop enqueues a snapshot frame each period while connected.
func (p *Publisher) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.config.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.offerSnapshot(p.source.Snapshot())
		}
	}
}

// Stats reads the publisher counters.
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	seq := p.seq
	pending := uint64(len(p.outbox))
	p.mu.Unlock()

	return PublisherStats{
		Session:    p.config.Session,
		Seq:        seq,
		Acked:      p.acked.Load(),
		Pending:    pending,
		Offered:    p.offered.Load(),
		Drops:      p.drops.Load(),
		Resends:    p.resends.Load(),
		Reconnects: p.reconnects.Load(),
		Filtered:   p.filtered.Load(),
	}
}

// Close stops accepting frames. A running Run loop exits through its
// context; Close only fences new offers. Idempotent.
func (p *Publisher) Close() {
	p.closed.Store(true)
}
