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
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/plasmabus/authz"
	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/pkg/extensions"
	"github.com/AleutianAI/plasmabus/plasma"
	"github.com/AleutianAI/plasmabus/telemetry"
)

// ServiceVersion is the bridge server version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the wire shape of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the GET /healthz body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the GET /readyz body.
type ReadyResponse struct {
	Ready           bool   `json:"ready"`
	GateState       string `json:"gate_state"`
	SecureAuthority bool   `json:"secure_authority"`
}

// ResetResponse is the POST /v1/reset body on success.
type ResetResponse struct {
	Status    string `json:"status"`
	GateState string `json:"gate_state"`
}

// MirrorStateResponse is the GET /v1/mirror/state body.
type MirrorStateResponse struct {
	Session    string          `json:"session"`
	Seq        uint64          `json:"seq"`
	CapturedAt int64           `json:"captured_at"`
	Snapshot   plasma.Snapshot `json:"snapshot"`
}

// MirrorEventsResponse is the GET /v1/mirror/events body.
type MirrorEventsResponse struct {
	Events []EventFrame `json:"events"`
	Count  int          `json:"count"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// Server hosts the receiving end of the bridge: the websocket ingest
// that feeds the Mirror, and a read-only REST surface over the local
// bus. The only mutating route is the token-guarded reset.
type Server struct {
	bus        *bus.Bus
	authority  authz.Authority
	mirror     *Mirror
	serializer *plasma.Serializer
	opts       extensions.ServiceOptions
	logger     *slog.Logger
}

// NewServer builds a server over the given bus and reset authority,
// using the open source no-op extension points. The server owns its
// Mirror; reach it through Mirror().
func NewServer(b *bus.Bus, authority authz.Authority, logger *slog.Logger) (*Server, error) {
	return NewServerWithOptions(b, authority, logger, extensions.DefaultOptions())
}

// NewServerWithOptions builds a server with injected extension points:
// ingest authentication, audit logging. Nil option fields take the
// no-op defaults.
func NewServerWithOptions(b *bus.Bus, authority authz.Authority, logger *slog.Logger, opts extensions.ServiceOptions) (*Server, error) {
	if b == nil {
		return nil, errors.New("bridge: bus must not be nil")
	}
	if authority == nil {
		return nil, errors.New("bridge: authority must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TokenValidator == nil {
		opts.TokenValidator = &extensions.NopTokenValidator{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &extensions.NopAuditLogger{}
	}

	return &Server{
		bus:        b,
		authority:  authority,
		mirror:     NewMirror(DefaultRecentEvents, logger),
		serializer: plasma.NewSerializer(logger),
		opts:       opts,
		logger:     logger.With(slog.String("component", "bridge_server")),
	}, nil
}

// Mirror returns the server's mirror for direct reads.
func (s *Server) Mirror() *Mirror {
	return s.mirror
}

// RegisterRoutes registers the bridge routes with the router group.
//
// Description:
//
//	Registers all /v1 bridge endpoints with the given Gin router group.
//	Health and metrics live on the root router; see Router.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	s - The server instance
//
// Endpoints:
//
//	GET  /v1/state - Live plasma snapshot of the local bus
//	GET  /v1/state/export - Live snapshot in its versioned envelope
//	GET  /v1/counters - Live bus counters
//	POST /v1/reset - Authorized gate reset (Bearer token)
//	GET  /v1/mirror - Websocket ingest for remote publishers
//	GET  /v1/mirror/state - Last mirrored remote snapshot
//	GET  /v1/mirror/events - Recent mirrored remote events
//
// Example:
//
//	server, _ := bridge.NewServer(b, authority, logger)
//	v1 := router.Group("/v1")
//	bridge.RegisterRoutes(v1, server)
func RegisterRoutes(rg *gin.RouterGroup, s *Server) {
	rg.GET("/state", s.HandleState)
	rg.GET("/state/export", s.HandleStateExport)
	rg.GET("/counters", s.HandleCounters)
	rg.POST("/reset", s.HandleReset)

	mirror := rg.Group("/mirror")
	{
		mirror.GET("", s.HandleMirror)
		mirror.GET("/state", s.HandleMirrorState)
		mirror.GET("/events", s.HandleMirrorEvents)
	}
}

// Router builds the production router: otelgin tracing, health and
// metrics on the root, the bridge surface under /v1.
//
// Call telemetry.Init before Router so the /metrics handler exists.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("plasmabus-bridge"))

	router.GET("/healthz", s.HandleHealth)
	router.GET("/readyz", s.HandleReady)
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, s)

	return router
}

// Serve runs the server on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if ctx == nil {
		return errNilContext
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("Bridge server listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("bridge server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	return ctx.Err()
}

// audit records a control-plane audit event. Audit failure never fails
// the request; it is logged and dropped.
func (s *Server) audit(ev extensions.AuditEvent) {
	ev.Timestamp = time.Now().UTC()
	if err := s.opts.AuditLogger.Log(context.Background(), ev); err != nil {
		s.logger.Warn("Audit log failed",
			slog.String("event_type", ev.EventType),
			slog.Any("error", err))
	}
}

// HandleState handles GET /v1/state.
func (s *Server) HandleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.bus.Snapshot())
}

// HandleStateExport handles GET /v1/state/export: the live snapshot
// wrapped in its versioned envelope, stamped with this server's session
// and export sequence.
func (s *Server) HandleStateExport(c *gin.Context) {
	data, err := s.serializer.Export(c.Request.Context(), s.bus.Snapshot())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "EXPORT_FAILED",
		})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// HandleCounters handles GET /v1/counters.
func (s *Server) HandleCounters(c *gin.Context) {
	c.JSON(http.StatusOK, s.bus.Counters())
}

// HandleReset handles POST /v1/reset.
//
// Description:
//
//	Forces the gate to Off after validating the operator's hex token
//	against the authority. The only route that mutates the bus.
//
// Response:
//
//	200 OK: ResetResponse
//	401 Unauthorized: Missing, malformed, or wrong token
//	503 Service Unavailable: Authority closed
func (s *Server) HandleReset(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleReset"))

	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		logger.Warn("Reset without bearer token")
		s.audit(extensions.AuditEvent{
			EventType: "reset.denied",
			Actor:     c.ClientIP(),
			Outcome:   "denied",
			Detail:    map[string]string{"request_id": requestID, "reason": "missing_token"},
		})
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error: "Missing bearer token",
			Code:  "MISSING_TOKEN",
		})
		return
	}

	raw, err := authz.ParseToken(token)
	if err != nil {
		logger.Warn("Reset token malformed", slog.Any("error", err))
		s.audit(extensions.AuditEvent{
			EventType: "reset.denied",
			Actor:     c.ClientIP(),
			Outcome:   "denied",
			Detail:    map[string]string{"request_id": requestID, "reason": "malformed_token"},
		})
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error: "Malformed token",
			Code:  "MALFORMED_TOKEN",
		})
		return
	}

	proof, err := s.authority.Grant(raw)
	for i := range raw {
		raw[i] = 0
	}
	if err != nil {
		statusCode := http.StatusUnauthorized
		errCode := "INVALID_TOKEN"
		reason := "invalid_token"
		if errors.Is(err, authz.ErrAuthorityClosed) {
			statusCode = http.StatusServiceUnavailable
			errCode = "AUTHORITY_CLOSED"
			reason = "authority_closed"
		}

		logger.Warn("Reset token rejected", slog.Any("error", err))
		s.audit(extensions.AuditEvent{
			EventType: "reset.denied",
			Actor:     c.ClientIP(),
			Outcome:   "denied",
			Detail:    map[string]string{"request_id": requestID, "reason": reason},
		})
		c.JSON(statusCode, ErrorResponse{
			Error: "Unauthorized",
			Code:  errCode,
		})
		return
	}

	if err := s.bus.Reset(proof); err != nil {
		logger.Error("Reset failed", slog.Any("error", err))
		s.audit(extensions.AuditEvent{
			EventType: "reset.denied",
			Actor:     c.ClientIP(),
			Outcome:   "error",
			Detail:    map[string]string{"request_id": requestID, "reason": "reset_failed"},
		})
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RESET_FAILED",
		})
		return
	}

	snap := s.bus.Snapshot()
	logger.Info("Gate reset", slog.String("gate_state", snap.SDTState.String()))
	s.audit(extensions.AuditEvent{
		EventType: "reset.granted",
		Actor:     c.ClientIP(),
		Outcome:   "granted",
		Detail:    map[string]string{"request_id": requestID, "gate_state": snap.SDTState.String()},
	})
	c.JSON(http.StatusOK, ResetResponse{
		Status:    "reset",
		GateState: snap.SDTState.String(),
	})
}

// HandleMirror handles GET /v1/mirror: the websocket ingest.
//
// Description:
//
//	Validates the publisher's credential through the TokenValidator
//	extension point, upgrades the connection, and applies incoming
//	frames to the mirror, acking each applied (or deduplicated) frame
//	by sequence. Frames that fail validation are not acked; a schema
//	major mismatch closes the connection, since that peer can never
//	produce an acceptable frame.
func (s *Server) HandleMirror(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleMirror"))

	token := extractBearerToken(c.GetHeader("Authorization"))
	principal, err := s.opts.TokenValidator.ValidateToken(c.Request.Context(), token)
	if err != nil {
		logger.Warn("Publisher credential rejected", slog.Any("error", err))
		s.audit(extensions.AuditEvent{
			EventType: "mirror.rejected",
			Actor:     c.ClientIP(),
			Outcome:   "denied",
			Detail:    map[string]string{"request_id": requestID},
		})
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error: "Unauthorized",
			Code:  "INVALID_TOKEN",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade the websocket", slog.Any("error", err))
		return
	}
	defer ws.Close()
	logger.Info("Publisher connected", slog.String("subject", principal.Subject))
	s.audit(extensions.AuditEvent{
		EventType: "mirror.connected",
		Actor:     principal.Subject,
		Outcome:   "connected",
		Detail:    map[string]string{"request_id": requestID},
	})

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Publisher connection lost", slog.Any("error", err))
			} else {
				logger.Info("Publisher disconnected")
			}
			return
		}

		if err := s.mirror.Apply(frame); err != nil {
			logger.Warn("Frame refused",
				slog.Uint64("seq", frame.Seq),
				slog.Any("error", err))
			if errors.Is(err, ErrSchemaMismatch) {
				s.audit(extensions.AuditEvent{
					EventType: "mirror.refused",
					Actor:     principal.Subject,
					Session:   frame.Session,
					Outcome:   "refused",
					Detail:    map[string]string{"request_id": requestID, "reason": "schema_mismatch", "schema": frame.Schema},
				})
				msg := websocket.FormatCloseMessage(
					websocket.ClosePolicyViolation, "incompatible schema")
				_ = ws.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			continue
		}

		if err := ws.WriteJSON(Ack{Seq: frame.Seq}); err != nil {
			logger.Warn("Failed to write ack", slog.Any("error", err))
			return
		}
	}
}

// HandleMirrorState handles GET /v1/mirror/state.
//
// Response:
//
//	200 OK: MirrorStateResponse
//	404 Not Found: No snapshot mirrored yet
func (s *Server) HandleMirrorState(c *gin.Context) {
	snap, capturedAt, ok := s.mirror.State()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "No snapshot mirrored yet",
			Code:  "NO_SNAPSHOT",
		})
		return
	}

	stats := s.mirror.Stats()
	c.JSON(http.StatusOK, MirrorStateResponse{
		Session:    stats.Session,
		Seq:        stats.LastSeq,
		CapturedAt: capturedAt,
		Snapshot:   snap,
	})
}

// HandleMirrorEvents handles GET /v1/mirror/events.
//
// Query Parameters:
//
//	limit: Maximum number of events, newest retained (optional, default 50)
func (s *Server) HandleMirrorEvents(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid limit",
			Code:  "INVALID_LIMIT",
		})
		return
	}

	events := s.mirror.Recent(limit)
	c.JSON(http.StatusOK, MirrorEventsResponse{
		Events: events,
		Count:  len(events),
	})
}

// HandleHealth handles GET /healthz.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /readyz. The bus is nonblocking and ready
// from construction; the body carries the live gate state and whether
// the reset credential sits in locked memory.
func (s *Server) HandleReady(c *gin.Context) {
	snap := s.bus.Snapshot()
	c.JSON(http.StatusOK, ReadyResponse{
		Ready:           true,
		GateState:       snap.SDTState.String(),
		SecureAuthority: s.authority.Secure(),
	})
}

// getOrCreateRequestID returns the X-Request-ID header, minting one
// when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// extractBearerToken pulls the credential out of an Authorization
// header. Empty when the header is missing or not a Bearer scheme.
func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
