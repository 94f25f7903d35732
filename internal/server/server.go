// Package server implements spec.md §4.7's HTTP/SSE session machine:
// the GET/PUT/POST /api/v2/conversations[...] surface, /step,
// /tool/confirm, /interrupt, and the server-sent-event stream that
// mirrors a Session's broadcast Events. It is grounded on the donor's
// internal/gateway/http_server.go for process lifecycle (ServeMux,
// promhttp.Handler() mount, graceful Shutdown) and on
// internal/session for everything FSM-related.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilnai/kiln/internal/observability"
	"github.com/kilnai/kiln/internal/session"
)

// EventReplay is the narrow slice of internal/eventlog.Store that the
// server needs: replaying events after a given seq for SSE reconnects.
// Declaring it here (rather than importing eventlog directly) keeps
// the dependency one-directional — server depends on both session and
// eventlog's capability via this interface, without importing eventlog.
type EventReplay interface {
	Since(ctx context.Context, sessionID string, afterSeq int64) ([]session.Event, error)
}

// Config wires a Server's collaborators.
type Config struct {
	Host string
	Port int

	// LogsHome is the directory under which conversation logs live
	// (spec.md §6's GPTME_LOGS_HOME).
	LogsHome string

	// MetricsEnabled gates mounting /metrics (config.ServerConfig's
	// metrics_enabled, true by default).
	MetricsEnabled bool

	Engine   *session.Engine
	Sessions *session.Manager
	Events   EventReplay

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Server owns the process's HTTP listener and every open conversation
// log handle.
type Server struct {
	cfg    Config
	convos *convoRegistry
	mux    *http.ServeMux

	http     *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// New builds a Server from cfg; call Start to begin serving.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		convos: newConvoRegistry(cfg.LogsHome),
		logger: logger,
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	if s.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("GET /api/v2", s.handleAPIRoot)
	mux.HandleFunc("GET /api/v2/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/v2/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PUT /api/v2/conversations/{id}", s.handleCreateConversation)
	mux.HandleFunc("POST /api/v2/conversations/{id}", s.handleAppendMessage)
	mux.HandleFunc("POST /api/v2/conversations/{id}/session", s.handleCreateSession)
	mux.HandleFunc("GET /api/v2/conversations/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /api/v2/conversations/{id}/step", s.handleStep)
	mux.HandleFunc("POST /api/v2/conversations/{id}/tool/confirm", s.handleConfirmTool)
	mux.HandleFunc("POST /api/v2/conversations/{id}/interrupt", s.handleInterrupt)

	return mux
}

// Start binds the listener and serves in a background goroutine,
// mirroring the donor's startHTTPServer (ServeMux + http.Server +
// net.Listen + Serve-in-a-goroutine pattern).
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}

	s.http = httpServer
	s.listener = listener

	if s.cfg.Sessions != nil {
		s.cfg.Sessions.StartSweep(ctx)
	}

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down, falling back to a 5s timeout
// if ctx is nil.
func (s *Server) Stop(ctx context.Context) {
	if s.http == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.http = nil
	s.listener = nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.cfg.Sessions != nil {
		resp["active_sessions"] = s.cfg.Sessions.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v2",
		"endpoints": []string{
			"/api/v2/conversations",
			"/api/v2/conversations/{id}",
			"/api/v2/conversations/{id}/session",
			"/api/v2/conversations/{id}/events",
			"/api/v2/conversations/{id}/step",
			"/api/v2/conversations/{id}/tool/confirm",
			"/api/v2/conversations/{id}/interrupt",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
