// Package server exposes the host-facing HTTP surface: the comment-event
// webhook and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"comment-notifier/pkg/notifier"
	"comment-notifier/policy"
)

const maxEventSize = 1 << 20 // 1 MiB request body cap

// Notifier runs the notification pipeline for one comment event.
type Notifier interface {
	Notify(ctx context.Context, event *notifier.CommentEvent, original *notifier.OriginalComment) error
}

// Envelope is the webhook payload the host CMS posts after persisting a
// comment. The CMS resolves the parent comment from its own store and
// includes it when the event is a reply.
type Envelope struct {
	Event    *notifier.CommentEvent    `json:"event"`
	Original *notifier.OriginalComment `json:"original,omitempty"`
}

// Server handles HTTP requests.
type Server struct {
	engine Notifier
	logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(engine Notifier, logger *slog.Logger) *Server {
	return &Server{
		engine: engine,
		logger: logger,
	}
}

// ListenAndServe sets up all routes and starts the server.
func (s *Server) ListenAndServe(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/comment", s.handleComment)

	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"service":"comment-notifier"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

// handleComment accepts the comment-save webhook. Delivery failures are
// absorbed by the engine; only a malformed payload or missing provider
// credentials surface as HTTP errors.
func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.logger.Warn("Malformed comment event payload", "error", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if env.Event == nil {
		http.Error(w, "Missing event", http.StatusBadRequest)
		return
	}
	if env.Event.Status == "" {
		http.Error(w, "Missing event status", http.StatusBadRequest)
		return
	}

	s.logger.Info("Comment event received",
		"comment_id", env.Event.ID,
		"parent_id", env.Event.ParentID,
		"status", env.Event.Status,
		"is_reply", env.Original != nil)

	if err := s.engine.Notify(r.Context(), env.Event, env.Original); err != nil {
		if policy.IsConfigError(err) {
			s.logger.Error("Notifier misconfigured", "error", err)
			http.Error(w, "Notifier misconfigured", http.StatusInternalServerError)
			return
		}
		s.logger.Error("Notification pipeline failed", "comment_id", env.Event.ID, "error", err)
		http.Error(w, "Notification failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if _, err := fmt.Fprint(w, `{"status":"accepted"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
