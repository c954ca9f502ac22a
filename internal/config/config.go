// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	DBPath         string

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	Extraction ExtractionConfig
	Dynamo     DynamoConfig
	Mandrill   MandrillConfig
	NATS       NATSConfig

	RateLimitRequests int
	RateLimitWindow   time.Duration
	HandoffQueueSize  int

	ConversationLog ConversationLogConfig
}

// ExtractionConfig selects the extraction backend. Exactly one of GRPCAddr
// and GoogleAPIKey must be set.
type ExtractionConfig struct {
	GRPCAddr     string
	GoogleAPIKey string
	GeminiModel  string
	Timeout      time.Duration
}

// UseGRPC reports whether extraction is delegated to a remote service.
func (c ExtractionConfig) UseGRPC() bool {
	return c.GRPCAddr != ""
}

// DynamoConfig enables the DynamoDB lead store when TableName is set.
type DynamoConfig struct {
	Region    string
	TableName string
	Endpoint  string
}

// Enabled reports whether leads go to DynamoDB instead of SQLite.
func (c DynamoConfig) Enabled() bool {
	return c.TableName != ""
}

// MandrillConfig enables email notifications when APIKey is set.
type MandrillConfig struct {
	APIKey       string
	FromEmail    string
	FromName     string
	AdminEmail   string
	DashboardURL string
}

// Enabled reports whether lead emails are sent.
func (c MandrillConfig) Enabled() bool {
	return c.APIKey != ""
}

// NATSConfig enables lead events when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	frontendURL := getEnv("FRONTEND_URL", "")
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    frontendURL,
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", defaultOrigins(frontendURL)),
		DBPath:         getEnv("DB_PATH", "./data/heavyhunt.db"),

		SessionTTL:           getEnvDuration("SESSION_TTL", 60*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),

		Extraction: ExtractionConfig{
			GRPCAddr:     getEnv("EXTRACTOR_GRPC_ADDR", ""),
			GoogleAPIKey: getEnv("GOOGLE_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_MODEL", ""),
			Timeout:      getEnvDuration("EXTRACTION_TIMEOUT", 30*time.Second),
		},
		Dynamo: DynamoConfig{
			Region:    getEnv("AWS_REGION", ""),
			TableName: getEnv("DYNAMODB_TABLE_NAME", ""),
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
		},
		Mandrill: MandrillConfig{
			APIKey:       getEnv("MANDRILL_API_KEY", ""),
			FromEmail:    getEnv("MANDRILL_FROM_EMAIL", "noreply@heavyhunt.com"),
			FromName:     getEnv("MANDRILL_FROM_NAME", "HeavyHunt"),
			AdminEmail:   getEnv("ADMIN_EMAIL", ""),
			DashboardURL: getEnv("ADMIN_DASHBOARD_URL", ""),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "leads.completed"),
		},

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		HandoffQueueSize:  getEnvInt("HANDOFF_QUEUE_SIZE", 64),

		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	switch {
	case c.Extraction.GRPCAddr == "" && c.Extraction.GoogleAPIKey == "":
		return errors.New("one of EXTRACTOR_GRPC_ADDR or GOOGLE_API_KEY must be set")
	case c.Extraction.GRPCAddr != "" && c.Extraction.GoogleAPIKey != "":
		return errors.New("EXTRACTOR_GRPC_ADDR and GOOGLE_API_KEY are mutually exclusive")
	}
	if c.Extraction.Timeout <= 0 {
		return errors.New("EXTRACTION_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be > 0")
	}
	if c.SessionSweepInterval <= 0 {
		return errors.New("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimitRequests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.HandoffQueueSize <= 0 {
		return errors.New("HANDOFF_QUEUE_SIZE must be > 0")
	}
	if c.Mandrill.Enabled() && c.Mandrill.FromEmail == "" {
		return errors.New("MANDRILL_FROM_EMAIL cannot be empty when MANDRILL_API_KEY is set")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.New("NATS_SUBJECT cannot be empty when NATS_URL is set")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(frontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
