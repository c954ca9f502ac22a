package extraction

import (
	"errors"
	"testing"

	"github.com/ashureev/heavyhunt/internal/domain"
)

func TestParseResponseText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantErr   bool
		wantReply string
		wantCtx   domain.LeadContext
		complete  bool
		contact   string
	}{
		{
			name:      "plain json",
			text:      `{"message":"Got it","leadContext":{"machineType":"crane"}}`,
			wantReply: "Got it",
			wantCtx:   domain.LeadContext{domain.FieldMachineType: "crane"},
		},
		{
			name:      "fenced json with completion",
			text:      "```json\n{\"message\":\"Thanks\",\"isQueryCompleted\":true,\"userEmail\":\" x@y.com \",\"summary\":\"Used crane\"}\n```",
			wantReply: "Thanks",
			wantCtx:   domain.LeadContext{},
			complete:  true,
			contact:   "x@y.com",
		},
		{
			name:      "lead context of wrong shape is ignored",
			text:      `{"message":"Hi","leadContext":"bulldozer"}`,
			wantReply: "Hi",
			wantCtx:   domain.LeadContext{},
		},
		{
			name:      "non-bool completion flag is ignored",
			text:      `{"message":"Hi","isQueryCompleted":"yes"}`,
			wantReply: "Hi",
			wantCtx:   domain.LeadContext{},
		},
		{name: "prose", text: "Hello there", wantErr: true},
		{name: "empty", text: "  ", wantErr: true},
		{name: "missing message", text: `{"leadContext":{"machineType":"crane"}}`, wantErr: true},
		{name: "array", text: `[{"message":"hi"}]`, wantErr: true},
		{name: "null", text: `null`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponseText(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ReplyText != tt.wantReply {
				t.Errorf("ReplyText = %q, want %q", got.ReplyText, tt.wantReply)
			}
			if len(got.Partial) != len(tt.wantCtx) {
				t.Errorf("Partial = %v, want %v", got.Partial, tt.wantCtx)
			}
			for f, v := range tt.wantCtx {
				if got.Partial[f] != v {
					t.Errorf("Partial[%s] = %q, want %q", f, got.Partial[f], v)
				}
			}
			if got.IsComplete != tt.complete {
				t.Errorf("IsComplete = %v, want %v", got.IsComplete, tt.complete)
			}
			if got.ContactIdentifier != tt.contact {
				t.Errorf("ContactIdentifier = %q, want %q", got.ContactIdentifier, tt.contact)
			}
		})
	}
}
