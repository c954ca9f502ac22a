// Package extraction talks to the collaborator that turns free-text
// conversation into a reply plus a structured partial lead update.
package extraction

import (
	"context"
	"errors"

	"github.com/ashureev/heavyhunt/internal/domain"
)

// ErrMalformedResponse marks a collaborator response that could not be read
// as structured data. It is a communications failure, never an empty update.
var ErrMalformedResponse = errors.New("malformed extraction response")

// Request is what the collaborator sees on every turn.
type Request struct {
	SessionID      string
	LatestUserText string
	Timeline       []domain.Message
	Context        domain.LeadContext
	RequiredFields []domain.Field
}

// Response is a successfully parsed collaborator answer.
type Response struct {
	ReplyText         string
	Partial           domain.LeadContext
	IsComplete        bool
	ContactIdentifier string
	Summary           string
	Unserviceable     bool
}

// Extractor is implemented by every extraction backend.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Response, error)
	Close() error
}
