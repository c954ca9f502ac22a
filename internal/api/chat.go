package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/heavyhunt/internal/chatlog"
	"github.com/ashureev/heavyhunt/internal/conversation"
	"github.com/ashureev/heavyhunt/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// MessageRequest is the body of POST /api/chat/sessions/{id}/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat/sessions", func(r chi.Router) {
		r.Post("/", h.HandleCreateSession)
		r.Get("/{id}", h.HandleGetSession)
		r.Post("/{id}/messages", h.HandleSubmitMessage)
		r.Post("/{id}/reset", h.HandleReset)
	})
	r.Get("/api/health", h.HandleHealth)
	r.Get("/ws/chat", h.HandleWebSocket)
}

// HandleCreateSession handles POST /api/chat/sessions.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	snap := h.sessions.Start(r.Context(), visitorID)
	JSON(w, http.StatusCreated, snap)
}

// HandleGetSession handles GET /api/chat/sessions/{id}.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	snap, err := h.sessions.Snapshot(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// HandleSubmitMessage handles POST /api/chat/sessions/{id}/messages.
func (h *Handler) HandleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}

	visitorID := identity.VisitorIDFromContext(r.Context())
	if !h.limiter.Allow(rateKey(visitorID, r)) {
		Error(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}

	h.logger.Info("Chat message",
		"session_id", id,
		"visitor_id", visitorID,
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	ctx := chatlog.WithChannel(r.Context(), chatlog.ChannelHTTP)
	result, err := h.sessions.Submit(ctx, id, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// HandleReset handles POST /api/chat/sessions/{id}/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	ctx := chatlog.WithChannel(r.Context(), chatlog.ChannelHTTP)
	snap, err := h.sessions.Reset(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "database unreachable"})
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !identity.IsValidSessionID(id) {
		Error(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("session %s: %s", id, conversation.ErrSessionNotFound))
		return "", false
	}
	return id, true
}

func rateKey(visitorID string, r *http.Request) string {
	if visitorID != "" {
		return visitorID
	}
	return "ip:" + identity.IPFromRequest(r)
}
