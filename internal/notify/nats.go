package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject completed leads are published on.
const DefaultSubject = "leads.completed"

// LeadCompleted is the payload published for each completed lead.
type LeadCompleted struct {
	LeadID            string             `json:"lead_id"`
	SessionID         string             `json:"session_id"`
	ContactIdentifier string             `json:"contact_identifier"`
	Summary           string             `json:"summary"`
	LeadContext       domain.LeadContext `json:"lead_context"`
	CompletedAt       time.Time          `json:"completed_at"`
}

// NATSPublisher publishes LeadCompleted events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to url with automatic reconnection.
func NewNATSPublisher(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("heavyhunt"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

// Notify implements Notifier.
func (p *NATSPublisher) Notify(_ context.Context, lead domain.Lead) error {
	data, err := json.Marshal(LeadCompleted{
		LeadID:            lead.ID,
		SessionID:         lead.SessionID,
		ContactIdentifier: lead.ContactIdentifier,
		Summary:           lead.Summary,
		LeadContext:       lead.Context,
		CompletedAt:       lead.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling lead event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	return nil
}
