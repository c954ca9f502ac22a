// Package handoff persists and announces completed leads off the request
// path. A Dispatcher accepts leads from the completion gate, then saves and
// notifies them on a single background worker.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/ashureev/heavyhunt/internal/notify"
	"github.com/ashureev/heavyhunt/internal/store"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("handoff dispatcher closed")
	// ErrQueueFull is returned by Submit when no slot is free.
	ErrQueueFull = errors.New("handoff queue full")
)

// Config controls the dispatcher.
type Config struct {
	QueueSize   int
	TaskTimeout time.Duration
}

// Dispatcher runs lead handoffs asynchronously. Failures are logged with the
// full lead and never retried.
type Dispatcher struct {
	leads    store.LeadWriter
	notifier notify.Notifier
	logger   *slog.Logger
	timeout  time.Duration

	queue chan domain.Lead
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the worker. Either collaborator may be nil.
func NewDispatcher(leads store.LeadWriter, notifier notify.Notifier, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		leads:    leads,
		notifier: notifier,
		logger:   logger,
		timeout:  cfg.TaskTimeout,
		queue:    make(chan domain.Lead, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Submit queues a lead without waiting. A full queue rejects the lead with
// ErrQueueFull and logs it in full so it can be recovered by hand.
func (d *Dispatcher) Submit(ctx context.Context, lead domain.Lead) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("queue lead %s: %w", lead.ID, err)
	}

	select {
	case d.queue <- lead:
		d.logger.Debug("Lead queued for handoff", "lead_id", lead.ID, "queue_len", len(d.queue))
		return nil
	default:
		d.logger.Error("Handoff queue full, dropping lead", append(leadAttrs(lead), "queue_cap", cap(d.queue))...)
		return fmt.Errorf("queue lead %s: %w", lead.ID, ErrQueueFull)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	d.logger.Info("Handoff worker started")

	for lead := range d.queue {
		d.process(lead)
	}
	d.logger.Info("Handoff worker stopped")
}

func (d *Dispatcher) process(lead domain.Lead) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	// Notification still goes out when persistence fails; the log line
	// carries the full lead either way.
	if d.leads != nil {
		if err := d.leads.SaveLead(ctx, &lead); err != nil {
			d.logger.Error("Failed to persist lead", append(leadAttrs(lead), "error", err)...)
		} else {
			d.logger.Info("Lead persisted", "lead_id", lead.ID, "session_id", lead.SessionID)
		}
	}

	if err := d.notifier.Notify(ctx, lead); err != nil {
		d.logger.Error("Failed to notify lead", append(leadAttrs(lead), "error", err)...)
		return
	}
	d.logger.Info("Lead handed off", "lead_id", lead.ID, "session_id", lead.SessionID)
}

// Close stops accepting leads and waits for queued ones to finish, up to
// ctx's deadline.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	go func() {
		d.wg.Wait()
		close(d.done)
	}()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("Handoff drain interrupted", "pending", len(d.queue))
		return fmt.Errorf("drain handoff queue: %w", ctx.Err())
	}
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
