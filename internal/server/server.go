// Package server implements the HTTP front end of mcpbridge.
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/dorcha-inc/mcpbridge/internal/config"
	"github.com/dorcha-inc/mcpbridge/internal/core"
)

const (
	HealthPath      = "/healthz"
	RequestIDHeader = "X-Request-Id"

	maxBodyBytes = 4 << 20

	statQueries  = "queries"
	statFailures = "failures"
)

// Querier sends one query to the running server and returns its reply line.
type Querier interface {
	Query(ctx context.Context, payload any) (string, error)
	EOF() bool
}

// ProcessInfo identifies the running server for health reporting.
type ProcessInfo interface {
	Server() string
	Pid() int
}

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned to the request carrying ctx.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// BridgeServer exposes a running MCP server over HTTP.
type BridgeServer struct {
	settings    *config.Settings
	process     ProcessInfo
	channel     Querier
	stats       *xsync.MapOf[string, *xsync.Counter] // query and failure counters, failures also per kind
	publicPaths mapset.Set[string]                   // paths reachable without a bearer token
	handler     http.Handler
}

// NewBridgeServer creates a server that forwards queries on settings.Route to channel.
func NewBridgeServer(settings *config.Settings, process ProcessInfo, channel Querier) *BridgeServer {
	s := &BridgeServer{
		settings:    settings,
		process:     process,
		channel:     channel,
		stats:       xsync.NewMapOf[string, *xsync.Counter](),
		publicPaths: mapset.NewSet(HealthPath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+settings.Route, s.handleQuery)
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)

	s.handler = s.withRequestID(s.withRecovery(s.withAuth(mux)))
	return s
}

// Handler returns the HTTP handler with all middleware applied.
func (s *BridgeServer) Handler() http.Handler {
	return s.handler
}

func (s *BridgeServer) counter(name string) *xsync.Counter {
	c, _ := s.stats.LoadOrCompute(name, func() *xsync.Counter {
		return xsync.NewCounter()
	})
	return c
}

// Stats returns a snapshot of the counters.
func (s *BridgeServer) Stats() map[string]int64 {
	snapshot := map[string]int64{statQueries: 0, statFailures: 0}
	s.stats.Range(func(name string, c *xsync.Counter) bool {
		snapshot[name] = c.Value()
		return true
	})
	return snapshot
}

func (s *BridgeServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// withRecovery turns a handler panic into a 500
func (s *BridgeServer) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				core.LogPanicRecovery("http handler "+r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *BridgeServer) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.settings.AuthEnabled() || s.publicPaths.Contains(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.settings.AuthToken)) != 1 {
			zap.L().Warn("Rejected unauthorized request",
				zap.String("path", r.URL.Path),
				zap.String("request_id", RequestIDFromContext(r.Context())))
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcpbridge"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleQuery forwards the request body to the server as one line and returns its reply
func (s *BridgeServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if field := s.settings.RequestField; field != "" {
		if _, ok := fields[field]; !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("missing field %q", field))
			return
		}
	}

	var payload bytes.Buffer
	if err := json.Compact(&payload, body); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	s.counter(statQueries).Inc()
	start := time.Now()
	reply, err := s.channel.Query(r.Context(), json.RawMessage(payload.Bytes()))
	if err == nil && !json.Valid([]byte(reply)) {
		err = core.NewError(core.KindProtocolViolation, "decode reply", errors.New("reply is not valid JSON"))
	}
	core.LogQuery(s.process.Server(), requestID, time.Since(start).Seconds(), err)

	if err != nil {
		s.counter(statFailures).Inc()
		if core.IsQueryFailure(err) {
			s.counter(statFailures + "." + string(core.KindOf(err))).Inc()
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, reply); err != nil {
		zap.L().Debug("Failed to write reply", zap.String("request_id", requestID), zap.Error(err))
	}
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status   string           `json:"status"`
	Server   string           `json:"server"`
	Pid      int              `json:"pid"`
	Queries  int64            `json:"queries"`
	Failures int64            `json:"failures"`
	ByKind   map[string]int64 `json:"failures_by_kind,omitempty"`
}

func (s *BridgeServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.Stats()
	health := HealthResponse{
		Status:   "ok",
		Server:   s.process.Server(),
		Pid:      s.process.Pid(),
		Queries:  stats[statQueries],
		Failures: stats[statFailures],
	}
	for name, value := range stats {
		if kind, ok := strings.CutPrefix(name, statFailures+"."); ok {
			if health.ByKind == nil {
				health.ByKind = map[string]int64{}
			}
			health.ByKind[kind] = value
		}
	}

	status := http.StatusOK
	if s.channel.EOF() {
		health.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Serve starts the HTTP server on addr and shuts it down gracefully when ctx ends
func (s *BridgeServer) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zap.L().Info("Server listening",
		zap.String("address", addr),
		zap.String("route", s.settings.Route),
		zap.Bool("auth", s.settings.AuthEnabled()))

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		grace := s.settings.ShutdownGrace
		if grace <= 0 {
			grace = core.DefaultShutdownGrace
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("Server shutdown error", zap.Error(err))
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}

	<-shutdownDone
	return nil
}
