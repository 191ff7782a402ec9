// Package api provides HTTP handlers for the fieldagent API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fieldagent/internal/session"
	"github.com/ashureev/fieldagent/internal/store"
)

const maxBodyBytes = 1 << 20

// Synthesizer converts agent text into a stored audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, sessionID string) (string, error)
}

// Handler provides the REST endpoints around agents and conversations.
type Handler struct {
	repo store.Repository
	sm   *session.Manager
	tts  Synthesizer
	now  func() time.Time
}

// NewHandler creates a new Handler with common dependencies. tts may be nil.
func NewHandler(repo store.Repository, sm *session.Manager, tts Synthesizer) *Handler {
	return &Handler{
		repo: repo,
		sm:   sm,
		tts:  tts,
		now:  time.Now,
	}
}

// Routes mounts the API under /api on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", h.CreateAgent)
			r.Get("/", h.ListAgents)
			r.Get("/public/{link}", h.GetPublicAgent)
			r.Get("/{agentID}", h.GetAgent)
			r.Get("/{agentID}/conversations", h.ListConversations)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/start/{link}", h.StartConversation)
			r.Get("/{id}/summary", h.ConversationSummary)
			r.Post("/{id}/speech", h.Speech)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// storeError maps repository errors to responses. notFound is the message
// used for store.ErrNotFound.
func storeError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, notFound)
		return
	}
	slog.Error("Repository error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
