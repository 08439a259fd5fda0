// Package api provides HTTP handlers for the chatrelay daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/chatrelay/internal/relay"
	"github.com/chatrelay/chatrelay/internal/store"
)

// Relay is the single-flight ask pipeline consumed by the HTTP layer.
type Relay interface {
	Ask(ctx context.Context, req relay.Request) (string, error)
}

// Handler serves the relay endpoints.
type Handler struct {
	relay Relay
	repo  store.Repository
}

// NewHandler creates a new Handler.
func NewHandler(rel Relay, repo store.Repository) *Handler {
	return &Handler{relay: rel, repo: repo}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"ok": false, "error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{"ok": false, "error": message})
}

// RegisterRoutes registers the relay routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ask", h.Ask)
	r.Get("/history", h.History)
}

type askRequest struct {
	Prompt  string `json:"prompt"`
	Timeout int64  `json:"timeout"` // milliseconds
	NewChat bool   `json:"newChat"`
}

type askResponse struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

// Ask relays a prompt through the browser session and returns the finished
// reply. Blocks until the request settles.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if body.Timeout < 0 {
		Error(w, http.StatusBadRequest, "timeout must be positive")
		return
	}

	req := relay.Request{
		Prompt:  body.Prompt,
		Timeout: time.Duration(body.Timeout) * time.Millisecond,
		NewChat: body.NewChat,
	}

	text, err := h.relay.Ask(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, relay.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		Error(w, status, err.Error())
		return
	}

	JSON(w, http.StatusOK, askResponse{OK: true, Text: text})
}

type historyEntry struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt"`
	Status      string `json:"status"`
	ErrorDetail string `json:"error_detail,omitempty"`
	ResponseLen int    `json:"response_len"`
	DurationMs  int64  `json:"duration_ms"`
	CreatedAt   int64  `json:"created_at"`
}

// History returns recent settled requests, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.repo.RecentRequests(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to load request history", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, historyEntry{
			ID:          rec.ID,
			Prompt:      rec.Prompt,
			Status:      rec.Status,
			ErrorDetail: rec.ErrorDetail,
			ResponseLen: rec.ResponseLen,
			DurationMs:  rec.Duration.Milliseconds(),
			CreatedAt:   rec.CreatedAt.Unix(),
		})
	}

	JSON(w, http.StatusOK, map[string]interface{}{"ok": true, "requests": entries})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Health reports daemon readiness. Always 200 once startup has completed;
// dependency state is advisory detail in the payload.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Health check: database unreachable", "error", err)
			checks["database"] = "unreachable"
		} else {
			checks["database"] = "ok"
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": "ready",
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
