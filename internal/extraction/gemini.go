package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"google.golang.org/genai"
)

// DefaultGeminiModel matches the model the widget was tuned against.
const DefaultGeminiModel = "gemini-2.0-flash"

// contentGenerator is the slice of genai.Models the extractor uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds configuration for the Gemini extractor.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
}

// GeminiExtractor asks a Gemini model for the next reply and the fields it
// can infer from the whole timeline.
type GeminiExtractor struct {
	gen         contentGenerator
	model       string
	timeout     time.Duration
	temperature float32
	logger      *slog.Logger
}

// NewGeminiExtractor creates a Gemini-backed extractor.
func NewGeminiExtractor(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiExtractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiExtractor(client.Models, cfg, logger), nil
}

func newGeminiExtractor(gen contentGenerator, cfg GeminiConfig, logger *slog.Logger) *GeminiExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &GeminiExtractor{
		gen:         gen,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Extract implements Extractor.
func (g *GeminiExtractor) Extract(ctx context.Context, req Request) (*Response, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	required := req.RequiredFields
	if len(required) == 0 {
		required = domain.DefaultRequiredFields
	}

	temperature := g.temperature
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(BuildSystemPrompt(required, req.Context), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
	}

	start := time.Now()
	result, err := g.gen.GenerateContent(ctx, g.model, timelineContents(req), config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := result.Text()
	g.logger.Debug("Gemini response received",
		"session_id", req.SessionID,
		"model", g.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_len", len(text),
	)

	resp, err := ParseResponseText(text)
	if err != nil {
		g.logger.Warn("Gemini response did not parse", "session_id", req.SessionID, "raw", text, "error", err)
		return nil, err
	}
	return resp, nil
}

// timelineContents maps the conversation onto Gemini's user/model turns.
// The latest user text is appended when the timeline does not already end with it.
func timelineContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Timeline)+1)
	for _, m := range req.Timeline {
		role := genai.Role(genai.RoleUser)
		if m.Speaker == domain.SpeakerAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	n := len(req.Timeline)
	if req.LatestUserText != "" && (n == 0 || req.Timeline[n-1].Speaker != domain.SpeakerUser || req.Timeline[n-1].Text != req.LatestUserText) {
		contents = append(contents, genai.NewContentFromText(req.LatestUserText, genai.RoleUser))
	}
	return contents
}

// Close implements Extractor.
func (g *GeminiExtractor) Close() error {
	return nil
}
