package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/ashureev/heavyhunt/internal/extraction"
	"github.com/ashureev/heavyhunt/internal/identity"
	"github.com/google/uuid"
)

// FallbackReply is appended when the extraction collaborator fails.
const FallbackReply = "Sorry, I encountered an error. Please try again."

var (
	// ErrEmptyInput rejects blank submissions.
	ErrEmptyInput = errors.New("message is empty")
	// ErrTurnInFlight rejects a submission while an extraction call is outstanding.
	ErrTurnInFlight = errors.New("a turn is already in progress")
	// ErrSessionCompleted rejects input after the lead has been handed off.
	ErrSessionCompleted = errors.New("conversation already completed")
	// ErrSessionReset reports that the session was reset while a turn was in flight.
	ErrSessionReset = errors.New("session was reset during the turn")
	// ErrSessionNotFound reports an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
)

// State is the turn coordinator state.
type State int

const (
	StateIdle State = iota
	StateAwaitingExtraction
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingExtraction:
		return "awaiting_extraction"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionConfig carries the collaborators shared by every session.
type SessionConfig struct {
	Extractor      extraction.Extractor
	Handoff        Handoff
	RequiredFields []domain.Field
	Logger         *slog.Logger

	// NewSessionID and NewLeadID are swappable for tests.
	NewSessionID func() string
	NewLeadID    func() string
	Now          func() time.Time
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.RequiredFields == nil {
		c.RequiredFields = domain.DefaultRequiredFields
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewSessionID == nil {
		c.NewSessionID = identity.NewSessionID
	}
	if c.NewLeadID == nil {
		c.NewLeadID = func() string { return "lead_" + uuid.NewString() }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// TurnResult describes the outcome of one accepted submission.
type TurnResult struct {
	SessionID      string             `json:"session_id"`
	UserMessage    domain.Message     `json:"user_message"`
	Reply          domain.Message     `json:"reply"`
	Context        domain.LeadContext `json:"lead_context"`
	Missing        []domain.Field     `json:"missing_fields"`
	State          State              `json:"state"`
	Fallback       bool               `json:"fallback"`
	Completed      bool               `json:"completed"`
	NewlyCompleted bool               `json:"newly_completed"`
	Unserviceable  bool               `json:"unserviceable"`
	Summary        string             `json:"summary,omitempty"`
	ExtractErr     error              `json:"-"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	SessionID string             `json:"session_id"`
	State     State              `json:"state"`
	Messages  []domain.Message   `json:"messages"`
	Context   domain.LeadContext `json:"lead_context"`
	Missing   []domain.Field     `json:"missing_fields"`
	Completed bool               `json:"completed"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Session coordinates the turns of one conversation. All state is owned by
// the session and guarded by its mutex; the extraction call runs unlocked
// while the state machine sits in StateAwaitingExtraction.
type Session struct {
	mu sync.Mutex
	// mirrorMu orders writes of this session's mirror; it is never taken
	// while mu is held.
	mirrorMu   sync.Mutex
	cfg        SessionConfig
	id         string
	visitorID  string
	timeline   *Timeline
	lead       domain.LeadContext
	state      State
	gate       *Gate
	generation uint64
	createdAt  time.Time
	updatedAt  time.Time
}

// NewSession starts a conversation with a fresh identity.
func NewSession(cfg SessionConfig, visitorID string) *Session {
	cfg = cfg.withDefaults()
	now := cfg.Now().UTC()
	s := &Session{
		cfg:       cfg,
		id:        cfg.NewSessionID(),
		visitorID: visitorID,
		timeline:  &Timeline{now: cfg.Now},
		lead:      domain.LeadContext{},
		state:     StateIdle,
		createdAt: now,
		updatedAt: now,
	}
	s.gate = NewGate(cfg.Handoff, cfg.Logger)
	return s
}

// RestoreSession rebuilds a session from its persisted mirror. A completed
// conversation comes back latched so its handoff can never fire again.
func RestoreSession(cfg SessionConfig, conv *domain.Conversation) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		id:        conv.SessionID,
		visitorID: conv.VisitorID,
		timeline:  &Timeline{now: cfg.Now},
		lead:      conv.Context.Clone(),
		state:     StateIdle,
		createdAt: conv.CreatedAt,
		updatedAt: conv.UpdatedAt,
	}
	s.timeline.restore(conv.Messages)
	s.gate = NewGate(cfg.Handoff, cfg.Logger)
	if conv.Completed {
		s.state = StateCompleted
		s.gate.latch()
	}
	return s
}

// ID returns the current session identity.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Submit runs one turn: record the user's text, ask the extraction
// collaborator, record its reply, merge the partial context and evaluate
// completion. Rejected submissions leave the session untouched.
func (s *Session) Submit(ctx context.Context, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	switch s.state {
	case StateAwaitingExtraction:
		s.mu.Unlock()
		return nil, ErrTurnInFlight
	case StateCompleted:
		s.mu.Unlock()
		return nil, ErrSessionCompleted
	}
	userMsg := s.timeline.Append(domain.SpeakerUser, text)
	s.state = StateAwaitingExtraction
	s.updatedAt = s.cfg.Now().UTC()
	generation := s.generation
	sessionID := s.id
	req := extraction.Request{
		SessionID:      sessionID,
		LatestUserText: text,
		Timeline:       s.timeline.Snapshot(),
		Context:        s.lead.Clone(),
		RequiredFields: s.cfg.RequiredFields,
	}
	s.mu.Unlock()

	// The state machine has no cancellation transition: a caller going away
	// does not abort the call. Transport timeouts live in the extractor.
	resp, extractErr := s.cfg.Extractor.Extract(context.WithoutCancel(ctx), req)

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		s.cfg.Logger.Info("Discarding turn result for reset session", "session_id", sessionID)
		return nil, ErrSessionReset
	}
	result, lead, gate := s.finishTurn(userMsg, resp, extractErr)
	s.mu.Unlock()

	// The handoff is scheduled outside the lock so a slow or full queue
	// never stalls readers of this session.
	if lead != nil {
		gate.dispatch(context.WithoutCancel(ctx), *lead)
	}
	return result, nil
}

// finishTurn applies the extraction outcome. It must be called with s.mu
// held. When this turn wins the completion gate it returns the lead and the
// gate to dispatch it through.
func (s *Session) finishTurn(userMsg domain.Message, resp *extraction.Response, extractErr error) (*TurnResult, *domain.Lead, *Gate) {
	result := &TurnResult{SessionID: s.id, UserMessage: userMsg}
	if extractErr != nil {
		s.cfg.Logger.Warn("Extraction failed, sending fallback reply", "session_id", s.id, "error", extractErr)
		result.Reply = s.timeline.Append(domain.SpeakerAgent, FallbackReply)
		result.Fallback = true
		result.ExtractErr = extractErr
		s.state = StateIdle
		s.updatedAt = s.cfg.Now().UTC()
		s.fillResult(result)
		return result, nil, nil
	}

	result.Reply = s.timeline.Append(domain.SpeakerAgent, resp.ReplyText)
	result.Unserviceable = resp.Unserviceable
	s.lead = domain.Merge(s.lead, resp.Partial)
	s.updatedAt = s.cfg.Now().UTC()

	contact := resp.ContactIdentifier
	if contact == "" {
		contact, _ = s.lead.Get(domain.FieldEmail)
	}
	_, hasEmail := s.lead.Get(domain.FieldEmail)

	if !domain.IsComplete(s.lead, s.cfg.RequiredFields) || contact == "" || !hasEmail {
		s.state = StateIdle
		if resp.IsComplete {
			s.cfg.Logger.Info("Collaborator reported completion with fields still missing",
				"session_id", s.id,
				"missing", s.lead.Missing(s.cfg.RequiredFields),
			)
		}
		s.fillResult(result)
		return result, nil, nil
	}

	summary := resp.Summary
	if summary == "" {
		summary = s.lead.Summary()
	}
	s.state = StateCompleted
	result.Summary = summary

	var lead *domain.Lead
	if s.gate.claim() {
		lead = &domain.Lead{
			ID:                s.cfg.NewLeadID(),
			SessionID:         s.id,
			ContactIdentifier: contact,
			Summary:           summary,
			Context:           s.lead.Clone(),
			CreatedAt:         s.updatedAt,
		}
		result.NewlyCompleted = true
		s.cfg.Logger.Info("Lead completed", "session_id", s.id, "lead_id", lead.ID)
	}
	s.fillResult(result)
	return result, lead, s.gate
}

func (s *Session) fillResult(r *TurnResult) {
	r.Context = s.lead.Clone()
	r.Missing = s.lead.Missing(s.cfg.RequiredFields)
	r.State = s.state
	r.Completed = s.state == StateCompleted
}

// Reset discards the timeline, context and completion state and starts over
// under a new identity. It returns the new session ID.
func (s *Session) Reset() string {
	_, newID := s.reset()
	return newID
}

func (s *Session) reset() (oldID, newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.id
	s.timeline.Clear()
	s.lead = domain.LeadContext{}
	s.gate = NewGate(s.cfg.Handoff, s.cfg.Logger)
	s.state = StateIdle
	s.generation++
	s.id = s.cfg.NewSessionID()
	now := s.cfg.Now().UTC()
	s.createdAt = now
	s.updatedAt = now

	s.cfg.Logger.Info("Session reset", "old_session_id", old, "session_id", s.id)
	return old, s.id
}

// idleSince reports whether the session has had no accepted change since
// threshold and has no extraction call outstanding.
func (s *Session) idleSince(threshold time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateAwaitingExtraction && s.updatedAt.Before(threshold)
}

// Completed reports whether the completion gate has fired.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Fired()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID: s.id,
		State:     s.state,
		Messages:  s.timeline.Snapshot(),
		Context:   s.lead.Clone(),
		Missing:   s.lead.Missing(s.cfg.RequiredFields),
		Completed: s.gate.Fired(),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// Conversation returns the persistable mirror of the session.
func (s *Session) Conversation() *domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.Conversation{
		SessionID: s.id,
		VisitorID: s.visitorID,
		Messages:  s.timeline.Snapshot(),
		Context:   s.lead.Clone(),
		Completed: s.gate.Fired(),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}
