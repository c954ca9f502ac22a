// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
)

// LeadWriter persists completed leads. It is all the handoff path needs.
type LeadWriter interface {
	// SaveLead writes a completed lead. Saving the same lead ID twice
	// overwrites the earlier record.
	SaveLead(ctx context.Context, lead *domain.Lead) error
}

// LeadStore is a LeadWriter that can also read leads back. GetLead is the
// recovery path for operators re-sending a lead whose notification failed;
// the request path never reads leads.
type LeadStore interface {
	LeadWriter

	// GetLead retrieves a lead by ID. It returns nil, nil when no lead exists.
	GetLead(ctx context.Context, leadID string) (*domain.Lead, error)
}

// ConversationStore mirrors in-memory sessions so a restart can rehydrate them.
type ConversationStore interface {
	// UpsertConversation creates or replaces the mirror of a session.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a mirrored session. It returns nil, nil when
	// the session is unknown.
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// DeleteConversation removes the mirror of a session.
	DeleteConversation(ctx context.Context, sessionID string) error

	// CleanupExpiredConversations removes mirrors not updated within ttl.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)
}

// Repository is the full local store: leads plus the conversation mirror.
type Repository interface {
	LeadStore
	ConversationStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
