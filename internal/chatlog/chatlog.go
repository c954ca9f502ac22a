// Package chatlog records conversation transcripts as newline-delimited JSON,
// one file per session, written by a background goroutine.
package chatlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event types written to the transcript.
const (
	EventUserMessage = "chat_user_message"
	EventAgentReply  = "chat_agent_reply"
	EventFallback    = "chat_fallback_reply"
	EventCompleted   = "lead_completed"
	EventReset       = "session_reset"
)

// Channels a turn can arrive on.
const (
	ChannelHTTP      = "chat_http"
	ChannelWebSocket = "chat_ws"
)

// Event is one line of a transcript.
type Event struct {
	Timestamp  string         `json:"ts"`
	VisitorID  string         `json:"visitor_id,omitempty"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel,omitempty"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger accepts transcript events. Log never blocks the caller.
type Logger interface {
	Log(event Event)
	Close() error
}

// Noop discards every event.
type Noop struct{}

// Log implements Logger.
func (Noop) Log(Event) {}

// Close implements Logger.
func (Noop) Close() error { return nil }

// Config controls NDJSON transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// NDJSONLogger writes each session to <Dir>/<session_id>.ndjson and, when
// enabled, every event to a single global file as well.
type NDJSONLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	files     map[string]*os.File
	global    *os.File
}

// NewConversationLogger returns Noop when logging is disabled.
func NewConversationLogger(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &NDJSONLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}

	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

// Log queues an event. When the queue is full the event is dropped and a
// warning is logged instead.
func (l *NDJSONLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType)
	}
}

func (l *NDJSONLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode conversation log event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := l.writeSession(event.SessionID, line); err != nil {
			l.logger.Warn("failed to write conversation log", "session_id", event.SessionID, "error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *NDJSONLogger) writeSession(sessionID string, line []byte) error {
	if sessionID == "" {
		sessionID = "unknown"
	}
	f, ok := l.files[sessionID]
	if !ok {
		name := filepath.Base(filepath.Clean(sessionID)) + ".ndjson"
		var err error
		f, err = os.OpenFile(filepath.Join(l.cfg.Dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.files[sessionID] = f
	}
	_, err := f.Write(line)
	return err
}

// Close drains queued events and closes every open file.
func (l *NDJSONLogger) Close() error {
	var errs []error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()

		<-l.done

		for id, f := range l.files {
			if err := f.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close log for %s: %w", id, err))
			}
		}
		if l.global != nil {
			if err := l.global.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close global log: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
)

// cleanForReadability strips escape sequences and control characters and
// collapses runs of blanks so transcripts read as plain text.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

type channelKey struct{}

// WithChannel tags ctx with the transport a turn arrived on.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

// ChannelFromContext returns the channel set by WithChannel, or "".
func ChannelFromContext(ctx context.Context) string {
	ch, _ := ctx.Value(channelKey{}).(string)
	return ch
}
