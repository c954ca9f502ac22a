package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ashureev/heavyhunt/internal/chatlog"
	"github.com/ashureev/heavyhunt/internal/conversation"
	"github.com/ashureev/heavyhunt/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Frame types on /ws/chat.
const (
	FrameMessage  = "message"
	FrameReset    = "reset"
	FrameTurn     = "turn"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// wsInbound is a client frame.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsOutbound is a server frame. Exactly one payload field is set.
type wsOutbound struct {
	Type     string                   `json:"type"`
	Turn     *conversation.TurnResult `json:"turn,omitempty"`
	Snapshot *conversation.Snapshot   `json:"snapshot,omitempty"`
	Error    *ErrorBody               `json:"error,omitempty"`
}

// HandleWebSocket serves GET /ws/chat. The connection attaches to the
// session named by ?session_id=, or to a new one when it is absent, and
// sends that session's snapshot first.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, CodeInvalidRequest, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	ctx := chatlog.WithChannel(r.Context(), chatlog.ChannelWebSocket)

	var snap conversation.Snapshot
	if id := r.URL.Query().Get("session_id"); identity.IsValidSessionID(id) {
		snap, err = h.sessions.Snapshot(ctx, id)
		if err != nil && !errors.Is(err, conversation.ErrSessionNotFound) {
			h.writeFrameError(ctx, ws, err)
			return
		}
	}
	if snap.SessionID == "" {
		snap = h.sessions.Start(ctx, visitorID)
	}
	sessionID := snap.SessionID

	if err := wsjson.Write(ctx, ws, wsOutbound{Type: FrameSnapshot, Snapshot: &snap}); err != nil {
		h.logger.Debug("WebSocket write failed", "error", err)
		return
	}
	h.logger.Info("Chat WebSocket connected", "session_id", sessionID, "visitor_id", visitorID)

	for {
		var in wsInbound
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var out wsOutbound
		switch in.Type {
		case FrameMessage:
			if !h.limiter.Allow(rateKey(visitorID, r)) {
				out = wsOutbound{Type: FrameError, Error: &ErrorBody{Error: "rate limit exceeded", Code: CodeRateLimited}}
				break
			}
			result, err := h.sessions.Submit(ctx, sessionID, in.Content)
			if err != nil {
				out = errorFrame(err)
				break
			}
			out = wsOutbound{Type: FrameTurn, Turn: result}

		case FrameReset:
			fresh, err := h.sessions.Reset(ctx, sessionID)
			if err != nil {
				out = errorFrame(err)
				break
			}
			sessionID = fresh.SessionID
			out = wsOutbound{Type: FrameSnapshot, Snapshot: &fresh}

		default:
			out = wsOutbound{Type: FrameError, Error: &ErrorBody{Error: "unknown frame type " + in.Type, Code: CodeInvalidRequest}}
		}

		if err := wsjson.Write(ctx, ws, out); err != nil {
			h.logger.Debug("WebSocket write failed", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.origins)
	return false
}

func errorFrame(err error) wsOutbound {
	_, code := classify(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal error"
	}
	return wsOutbound{Type: FrameError, Error: &ErrorBody{Error: msg, Code: code}}
}

func (h *Handler) writeFrameError(ctx context.Context, ws *websocket.Conn, err error) {
	h.logger.Error("Chat WebSocket failed", "error", err)
	if writeErr := wsjson.Write(ctx, ws, errorFrame(err)); writeErr != nil {
		h.logger.Debug("WebSocket write failed", "error", writeErr)
	}
}
