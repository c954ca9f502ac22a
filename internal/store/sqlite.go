package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/ashureev/heavyhunt/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db             *sql.DB
	conversationMu sync.Mutex // serializes mirror writes to keep SQLITE_BUSY rare
	retry          shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS leads (
		lead_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		contact_identifier TEXT NOT NULL,
		summary TEXT NOT NULL,
		lead_context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_session ON leads(session_id);

	CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		visitor_id TEXT,
		messages_json TEXT NOT NULL,
		lead_context_json TEXT NOT NULL,
		completed INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveLead writes a completed lead.
func (s *SQLiteStore) SaveLead(ctx context.Context, lead *domain.Lead) error {
	contextJSON, err := json.Marshal(lead.Context)
	if err != nil {
		return fmt.Errorf("encode lead context: %w", err)
	}

	query := `
	INSERT INTO leads (lead_id, session_id, contact_identifier, summary, lead_context_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(lead_id) DO UPDATE SET
		contact_identifier = excluded.contact_identifier,
		summary = excluded.summary,
		lead_context_json = excluded.lead_context_json`

	err = shared.RetryOnConflict(ctx, s.retry, "save_lead", func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			lead.ID, lead.SessionID, lead.ContactIdentifier, lead.Summary,
			string(contextJSON), lead.CreatedAt.UnixMilli(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("save lead %s: %w", lead.ID, err)
	}
	return nil
}

// GetLead retrieves a lead by ID.
func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	query := `
		SELECT lead_id, session_id, contact_identifier, summary, lead_context_json, created_at
		FROM leads WHERE lead_id = ?`

	var lead domain.Lead
	var contextJSON string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, leadID).Scan(
		&lead.ID, &lead.SessionID, &lead.ContactIdentifier, &lead.Summary,
		&contextJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead row: %w", err)
	}

	if err := json.Unmarshal([]byte(contextJSON), &lead.Context); err != nil {
		return nil, fmt.Errorf("decode lead context: %w", err)
	}
	lead.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &lead, nil
}

// UpsertConversation creates or replaces the mirror of a session.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return fmt.Errorf("encode lead context: %w", err)
	}

	query := `
		INSERT INTO conversations (
			session_id, visitor_id, messages_json, lead_context_json,
			completed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			lead_context_json = excluded.lead_context_json,
			completed = MAX(conversations.completed, excluded.completed),
			updated_at = excluded.updated_at`

	var visitorID any
	if conv.VisitorID != "" {
		visitorID = conv.VisitorID
	}

	err = shared.RetryOnConflict(ctx, s.retry, "upsert_conversation", func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			conv.SessionID, visitorID, string(messagesJSON), string(contextJSON),
			conv.Completed, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a mirrored session.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	query := `
		SELECT session_id, visitor_id, messages_json, lead_context_json,
		       completed, created_at, updated_at
		FROM conversations WHERE session_id = ?`

	var conv domain.Conversation
	var visitorID sql.NullString
	var messagesJSON, contextJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&conv.SessionID, &visitorID, &messagesJSON, &contextJSON,
		&conv.Completed, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &conv.Context); err != nil {
		return nil, fmt.Errorf("decode lead context: %w", err)
	}
	conv.VisitorID = visitorID.String
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &conv, nil
}

// DeleteConversation removes the mirror of a session, retrying on SQLITE_BUSY.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, sessionID string) error {
	err := shared.RetryOnConflict(ctx, s.retry, "delete_conversation", func() error {
		s.conversationMu.Lock()
		defer s.conversationMu.Unlock()
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", sessionID, err)
	}
	return nil
}

// CleanupExpiredConversations removes mirrors older than ttl.
func (s *SQLiteStore) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		slog.Debug("Pruned conversation mirrors", "count", rows)
	}
	return rows, nil
}
