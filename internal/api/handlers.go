package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/chat"
	"github.com/syncspace-live/syncspace/internal/control/event"
	"github.com/syncspace-live/syncspace/internal/models"
	"github.com/syncspace-live/syncspace/internal/session"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	chat     *chat.Pipeline
	registry *session.Registry
	log      zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(pipeline *chat.Pipeline, registry *session.Registry, logger zerolog.Logger) *Handler {
	return &Handler{chat: pipeline, registry: registry, log: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Health reports liveness and the active session count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: h.registry.Len(),
	})
}

// RoomMessages handles the chat history read: the most recent messages
// for a room in chronological order. limit defaults to 50.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = l
	}

	messages, err := h.chat.History(r.Context(), roomID, limit)
	if err != nil {
		if errors.Is(err, chat.ErrBadID) {
			h.Error(w, http.StatusBadRequest, "invalid room ID format")
			return
		}
		h.log.Error().Err(err).Str("room", roomID).Msg("history read failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, toWireMessages(messages))
}

func toWireMessages(messages []models.ChatMessage) []event.ChatMessagePayload {
	out := make([]event.ChatMessagePayload, len(messages))
	for i, msg := range messages {
		out[i] = event.ChatMessagePayload{
			ID:        msg.ID.String(),
			RoomID:    msg.RoomID.String(),
			UserID:    msg.UserID.String(),
			Username:  msg.Username,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	return out
}
