// Package api provides HTTP handlers for the HeavyHunt chat API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/heavyhunt/internal/conversation"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (64KB).
const defaultMaxRequestBodySize = 64 << 10

// Sessions is the conversation surface the handlers drive.
type Sessions interface {
	Start(ctx context.Context, visitorID string) conversation.Snapshot
	Submit(ctx context.Context, id, text string) (*conversation.TurnResult, error)
	Reset(ctx context.Context, id string) (conversation.Snapshot, error)
	Snapshot(ctx context.Context, id string) (conversation.Snapshot, error)
}

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the chat API.
type Handler struct {
	sessions    Sessions
	store       Pinger
	limiter     *RateLimiter
	maxBodySize int64
	origins     []string
	isDev       bool
	logger      *slog.Logger
}

// Options tunes a Handler.
type Options struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxBodySize       int64
	AllowedOrigins    []string // WebSocket upgrade origins; "*" allows any
	IsDev             bool
	Logger            *slog.Logger
}

// NewHandler creates a new Handler. store may be nil.
func NewHandler(sessions Sessions, store Pinger, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxRequestBodySize
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 20
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	return &Handler{
		sessions:    sessions,
		store:       store,
		limiter:     NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		maxBodySize: opts.MaxBodySize,
		origins:     opts.AllowedOrigins,
		isDev:       opts.IsDev,
		logger:      opts.Logger,
	}
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Error: message, Code: code})
}

// Error codes returned to clients.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeEmptyMessage     = "empty_message"
	CodeNotFound         = "session_not_found"
	CodeTurnInFlight     = "turn_in_flight"
	CodeSessionCompleted = "session_completed"
	CodeSessionReset     = "session_reset"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal_error"
)

// classify maps a conversation error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		return http.StatusBadRequest, CodeEmptyMessage
	case errors.Is(err, conversation.ErrSessionNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, conversation.ErrTurnInFlight):
		return http.StatusConflict, CodeTurnInFlight
	case errors.Is(err, conversation.ErrSessionCompleted):
		return http.StatusConflict, CodeSessionCompleted
	case errors.Is(err, conversation.ErrSessionReset):
		return http.StatusConflict, CodeSessionReset
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Chat request failed", "error", err)
		Error(w, status, code, "internal error")
		return
	}
	Error(w, status, code, err.Error())
}
