package domain

import (
	"time"
)

// Speaker identifies who produced a message.
type Speaker string

const (
	// SpeakerUser marks visitor input.
	SpeakerUser Speaker = "user"
	// SpeakerAgent marks assistant replies, including fallbacks.
	SpeakerAgent Speaker = "agent"
)

// Message is a single turn in a conversation timeline.
type Message struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the persisted mirror of one session, keyed by session ID.
type Conversation struct {
	SessionID string
	VisitorID string
	Messages  []Message
	Context   LeadContext
	Completed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
