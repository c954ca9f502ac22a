package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/heavyhunt/internal/domain"
)

var codeFence = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")

// ParseResponseText decodes a model's text answer. Markdown code fences
// around the JSON are tolerated.
func ParseResponseText(text string) (*Response, error) {
	clean := strings.TrimSpace(codeFence.ReplaceAllString(text, ""))
	if clean == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return parseResponseMap(raw)
}

// parseResponseMap reads the response object shared by every backend:
//
//	{"message": "...", "leadContext": {...}, "isQueryCompleted": bool,
//	 "summary": "...", "userEmail": "...", "unServicable": bool}
//
// Only a missing reply is fatal. Fields of the wrong shape are dropped.
func parseResponseMap(raw map[string]any) (*Response, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedResponse)
	}

	reply, _ := raw["message"].(string)
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, fmt.Errorf("%w: missing message", ErrMalformedResponse)
	}

	resp := &Response{
		ReplyText: reply,
		Partial:   domain.LeadContext{},
	}
	if lc, ok := raw["leadContext"].(map[string]any); ok {
		resp.Partial = domain.DecodeLeadContext(lc)
	}
	resp.IsComplete, _ = raw["isQueryCompleted"].(bool)
	resp.Unserviceable, _ = raw["unServicable"].(bool)
	if s, ok := raw["summary"].(string); ok {
		resp.Summary = strings.TrimSpace(s)
	}
	if s, ok := raw["userEmail"].(string); ok {
		resp.ContactIdentifier = strings.TrimSpace(s)
	}
	return resp, nil
}
