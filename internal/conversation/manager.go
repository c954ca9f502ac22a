package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/heavyhunt/internal/chatlog"
	"github.com/ashureev/heavyhunt/internal/store"
)

// Manager owns the live sessions, keyed strictly by session ID. It mirrors
// every change to the conversation store so an unknown ID can be
// rehydrated after a restart.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg    SessionConfig
	store  store.ConversationStore
	log    chatlog.Logger
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConversationStore mirrors sessions to s.
func WithConversationStore(s store.ConversationStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithTranscript writes every turn to l.
func WithTranscript(l chatlog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager whose sessions share cfg.
func NewManager(cfg SessionConfig, opts ...ManagerOption) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		log:      chatlog.Noop{},
		logger:   cfg.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a new session for visitorID.
func (m *Manager) Start(ctx context.Context, visitorID string) Snapshot {
	sess := NewSession(m.cfg, visitorID)
	snap := sess.Snapshot()

	m.mu.Lock()
	m.sessions[snap.SessionID] = sess
	m.mu.Unlock()

	m.mirror(ctx, sess, snap.SessionID)
	m.logger.Info("Session started", "session_id", snap.SessionID, "visitor_id", visitorID)
	return snap
}

// Submit runs one turn on the session identified by id.
func (m *Manager) Submit(ctx context.Context, id, text string) (*TurnResult, error) {
	sess, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := sess.Submit(ctx, text)
	if err != nil {
		return nil, err
	}

	m.transcribe(ctx, sess, result)
	m.mirror(ctx, sess, result.SessionID)
	return result, nil
}

// Reset replaces the session identified by id with a fresh one. The
// registry is re-keyed under the new ID and the old mirror is dropped.
func (m *Manager) Reset(ctx context.Context, id string) (Snapshot, error) {
	sess, err := m.lookup(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	oldID, newID := sess.reset()

	m.mu.Lock()
	for _, key := range []string{oldID, id} {
		if m.sessions[key] == sess {
			delete(m.sessions, key)
		}
	}
	m.sessions[newID] = sess
	m.mu.Unlock()

	if m.store != nil {
		// A turn that finished just before the reset may still be writing
		// the old mirror; mirrorMu orders it before the delete.
		sess.mirrorMu.Lock()
		if err := m.store.DeleteConversation(context.WithoutCancel(ctx), oldID); err != nil {
			m.logger.Warn("failed to delete conversation mirror", "session_id", oldID, "error", err)
		}
		sess.mirrorMu.Unlock()
	}
	m.mirror(ctx, sess, newID)

	m.log.Log(chatlog.Event{
		VisitorID: sess.visitorID,
		SessionID: newID,
		Channel:   chatlog.ChannelFromContext(ctx),
		Direction: "internal",
		EventType: chatlog.EventReset,
		Meta:      map[string]any{"previous_session_id": oldID},
	})
	return sess.Snapshot(), nil
}

// Snapshot returns the state of the session identified by id.
func (m *Manager) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	sess, err := m.lookup(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle drops in-memory sessions idle for longer than ttl. Their mirrors
// remain, so a returning visitor is rehydrated on the next request.
//
// A session with an extraction call outstanding is never evicted: a
// rehydrated copy would accept turns the live one is still answering.
func (m *Manager) EvictIdle(ttl time.Duration) int {
	threshold := m.cfg.Now().Add(-ttl)

	m.mu.RLock()
	candidates := make(map[string]*Session, len(m.sessions))
	for id, sess := range m.sessions {
		candidates[id] = sess
	}
	m.mu.RUnlock()

	// Session locks are taken without m.mu held.
	for id, sess := range candidates {
		if !sess.idleSince(threshold) {
			delete(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, sess := range candidates {
		if m.sessions[id] == sess {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Close flushes every live session to the mirror.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		live = append(live, sess)
	}
	m.mu.RUnlock()

	for _, sess := range live {
		m.mirror(ctx, sess, sess.ID())
	}
	m.logger.Info("Conversation manager closed", "sessions", len(live))
}

func (m *Manager) lookup(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	if m.store == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have rehydrated it while the store was queried.
	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}
	sess = RestoreSession(m.cfg, conv)
	m.sessions[id] = sess
	m.logger.Info("Session rehydrated", "session_id", id, "completed", conv.Completed)
	return sess, nil
}

// mirror writes the session to the store under id. The write is skipped
// when the session has been reset away from id in the meantime.
func (m *Manager) mirror(ctx context.Context, sess *Session, id string) {
	if m.store == nil {
		return
	}
	sess.mirrorMu.Lock()
	defer sess.mirrorMu.Unlock()

	conv := sess.Conversation()
	if conv.SessionID != id {
		m.logger.Debug("Skipping stale conversation mirror", "session_id", id, "current_session_id", conv.SessionID)
		return
	}
	if err := m.store.UpsertConversation(context.WithoutCancel(ctx), conv); err != nil {
		m.logger.Warn("failed to mirror conversation", "session_id", conv.SessionID, "error", err)
	}
}

func (m *Manager) transcribe(ctx context.Context, sess *Session, r *TurnResult) {
	channel := chatlog.ChannelFromContext(ctx)

	m.log.Log(chatlog.Event{
		VisitorID:  sess.visitorID,
		SessionID:  r.SessionID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  chatlog.EventUserMessage,
		ContentRaw: r.UserMessage.Text,
		Meta:       map[string]any{"message_id": r.UserMessage.ID},
	})

	replyEvent := chatlog.EventAgentReply
	meta := map[string]any{
		"message_id":     r.Reply.ID,
		"missing_fields": r.Missing,
		"unserviceable":  r.Unserviceable,
	}
	if r.Fallback {
		replyEvent = chatlog.EventFallback
		if r.ExtractErr != nil {
			meta["error"] = r.ExtractErr.Error()
		}
	}
	m.log.Log(chatlog.Event{
		VisitorID:  sess.visitorID,
		SessionID:  r.SessionID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  replyEvent,
		ContentRaw: r.Reply.Text,
		Meta:       meta,
	})

	if r.NewlyCompleted {
		m.log.Log(chatlog.Event{
			VisitorID:  sess.visitorID,
			SessionID:  r.SessionID,
			Channel:    channel,
			Direction:  "internal",
			EventType:  chatlog.EventCompleted,
			ContentRaw: r.Summary,
			Meta:       map[string]any{"lead_context": r.Context},
		})
	}
}
