package conversation

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ashureev/heavyhunt/internal/domain"
)

// Handoff receives a completed lead for persistence and notification.
type Handoff interface {
	Submit(ctx context.Context, lead domain.Lead) error
}

// Gate is the one-shot completion latch of a session.
type Gate struct {
	fired   atomic.Bool
	handoff Handoff
	logger  *slog.Logger
}

// NewGate creates an unfired gate.
func NewGate(handoff Handoff, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{handoff: handoff, logger: logger}
}

// FireOnce schedules the handoff if and only if the gate has not fired yet.
// The flag stays set even when scheduling fails; the lead is then logged in
// full so it can be recovered by hand.
func (g *Gate) FireOnce(ctx context.Context, lead domain.Lead) bool {
	if !g.claim() {
		return false
	}
	g.dispatch(ctx, lead)
	return true
}

// claim flips the flag and reports whether this caller won it. The winner
// must call dispatch.
func (g *Gate) claim() bool {
	return g.fired.CompareAndSwap(false, true)
}

func (g *Gate) dispatch(ctx context.Context, lead domain.Lead) {
	if g.handoff == nil {
		g.logger.Error("Completion gate has no handoff configured", leadAttrs(lead)...)
		return
	}
	if err := g.handoff.Submit(ctx, lead); err != nil {
		g.logger.Error("Failed to schedule lead handoff", append(leadAttrs(lead), "error", err)...)
	}
}

// Fired reports whether the gate has fired.
func (g *Gate) Fired() bool {
	return g.fired.Load()
}

func (g *Gate) latch() {
	g.fired.Store(true)
}

func leadAttrs(lead domain.Lead) []any {
	return []any{
		"lead_id", lead.ID,
		"session_id", lead.SessionID,
		"contact", lead.ContactIdentifier,
		"summary", lead.Summary,
		"lead_context", lead.Context,
	}
}
