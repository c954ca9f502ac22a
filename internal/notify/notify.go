// Package notify delivers completed leads to people and systems outside the
// chat: transactional email through Mandrill and an event on NATS.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/heavyhunt/internal/domain"
)

// Notifier announces a completed lead.
type Notifier interface {
	Notify(ctx context.Context, lead domain.Lead) error
}

// Noop is a Notifier that does nothing (used when nothing is configured).
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, domain.Lead) error { return nil }

// Multi fans a lead out to every notifier. All notifiers run even when an
// earlier one fails; the failures are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, lead domain.Lead) error {
	var errs []error
	for i, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, lead); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d (%T): %w", i, n, err))
		}
	}
	return errors.Join(errs...)
}
