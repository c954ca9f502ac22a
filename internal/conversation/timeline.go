// Package conversation implements the per-session turn coordinator: the
// message timeline, the lead context it accumulates, and the one-shot
// completion gate that hands the finished lead off.
package conversation

import (
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/google/uuid"
)

// Timeline is the append-only, insertion-ordered message log of one session.
// It is not safe for concurrent use; the owning Session serializes access.
type Timeline struct {
	messages []domain.Message
	now      func() time.Time
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{now: time.Now}
}

// Append records a new message at the end of the timeline and returns it.
func (t *Timeline) Append(speaker domain.Speaker, text string) domain.Message {
	msg := domain.Message{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		CreatedAt: t.now().UTC(),
	}
	t.messages = append(t.messages, msg)
	return msg
}

// Snapshot returns a copy of the full history.
func (t *Timeline) Snapshot() []domain.Message {
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	return len(t.messages)
}

// Clear empties the timeline.
func (t *Timeline) Clear() {
	t.messages = nil
}

func (t *Timeline) restore(messages []domain.Message) {
	t.messages = make([]domain.Message, len(messages))
	copy(t.messages, messages)
}
