// Package server exposes the chat backend over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/scheduler"
	"github.com/parleychat/parley/internal/service"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/token"
)

// Store is the administrative slice of the conversation store the server
// needs beyond what ChatService already wraps.
type Store interface {
	Delete(ctx context.Context, conversationID string) error
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface: the chat endpoint plus health, stats and
// scheduler administration.
type Server struct {
	chat   *service.ChatService
	store  Store
	sched  *scheduler.Scheduler
	stats  *metrics.Collector
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates the HTTP server surface.
func New(chat *service.ChatService, st Store, sched *scheduler.Scheduler, stats *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		chat:   chat,
		store:  st,
		sched:  sched,
		stats:  stats,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /scheduler/status", s.handleSchedulerStatus)
	s.mux.HandleFunc("POST /scheduler/sweep", s.handleSweep)
	s.mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)

	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.logger)(s.mux)
}

type chatRequestBody struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
	Domain  string `json:"domain,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required and must be a non-empty string")
		return
	}

	domain := body.Domain
	if domain == "" {
		domain = originDomain(r)
	}
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain could not be determined")
		return
	}

	resp, err := s.chat.ProcessChat(r.Context(), service.ChatRequest{
		Message: body.Message,
		Token:   body.Token,
		Domain:  domain,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.sched.HealthCheck(r.Context())

	status := http.StatusOK
	if !health.StoreConnected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("manual archival sweep triggered")
	writeJSON(w, http.StatusOK, s.sched.RunOnce(r.Context()))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// writeServiceError maps domain errors onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "conversation token has expired, start a new conversation")
	case errors.Is(err, token.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid conversation token")
	case errors.Is(err, store.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found or expired")
	case errors.Is(err, service.ErrOrganizationNotFound):
		writeError(w, http.StatusNotFound, "no organization found for domain")
	case errors.Is(err, store.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "conversation store unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// originDomain extracts the host from the Origin (or Referer) header.
func originDomain(r *http.Request) string {
	for _, header := range []string{"Origin", "Referer"} {
		raw := r.Header.Get(header)
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return ""
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}
