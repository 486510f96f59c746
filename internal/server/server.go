// internal/server/server.go

// Package server exposes the council pipeline over HTTP.
//
// Endpoints:
//   - GET    /health                          - Health check
//   - GET    /api/conversations               - List conversations
//   - POST   /api/conversations               - Create a conversation
//   - GET    /api/conversations/{id}          - Fetch a conversation
//   - DELETE /api/conversations/{id}          - Delete a conversation
//   - GET    /api/conversations/{id}/export   - Markdown transcript
//   - POST   /api/conversations/{id}/message  - Send a message, SSE progress stream
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"council/internal/config"
	"council/internal/council"
	"council/internal/export"
	"council/internal/models"
	"council/internal/notify"
	"council/internal/store"
)

const (
	// maxRequestBody bounds request payloads.
	maxRequestBody = 1 << 20

	// maxContentLength bounds a single user message.
	maxContentLength = 100000
)

// Server wires the HTTP surface to the pipeline, store and notifier. The
// config watcher is consulted per request so council membership and timeouts
// follow file edits without a restart.
type Server struct {
	cfg      *config.Watcher
	client   models.Client
	store    store.Store
	notifier *notify.Client

	mux  *http.ServeMux
	http *http.Server
}

func New(cfg *config.Watcher, client models.Client, st store.Store, notifier *notify.Client) *Server {
	s := &Server{
		cfg:      cfg,
		client:   client,
		store:    st,
		notifier: notifier,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/conversations", s.handleList)
	s.mux.HandleFunc("POST /api/conversations", s.handleCreate)
	s.mux.HandleFunc("GET /api/conversations/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/conversations/{id}/export", s.handleExport)
	s.mux.HandleFunc("POST /api/conversations/{id}/message", s.handleMessage)
}

// Handler returns the routed handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
// WriteTimeout stays unset: message streams are open-ended by design.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	log.Printf("[server] listening on %s", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	log.Printf("[server] shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing conversations failed")
		return
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

type createRequest struct {
	ID            string   `json:"id,omitempty"`
	ExecutionMode string   `json:"execution_mode,omitempty"`
	Models        []string `json:"models,omitempty"`
	Chairman      string   `json:"chairman,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	// An empty body creates a conversation with configured defaults.
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if mode := council.NormalizeMode(req.ExecutionMode); req.ExecutionMode != "" && mode != req.ExecutionMode {
		s.writeError(w, http.StatusBadRequest, "unknown execution_mode")
		return
	}
	if len(req.Models) > config.MaxCouncilModels {
		s.writeError(w, http.StatusBadRequest, "too many council models")
		return
	}

	conv, err := s.store.Create(req.ID, store.CreateOptions{
		ExecutionMode: req.ExecutionMode,
		Models:        req.Models,
		Chairman:      req.Chairman,
	})
	switch {
	case errors.Is(err, store.ErrExists):
		s.writeError(w, http.StatusConflict, "conversation already exists")
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.Get(r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "reading conversation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.store.Delete(r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "deleting conversation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.Get(r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "reading conversation failed")
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(export.Markdown(conv)))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

