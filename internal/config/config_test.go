package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate clears every variable Load reads so the host environment cannot
// leak into a test.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "FRONTEND_URL", "ALLOWED_ORIGINS", "DB_PATH", "SESSION_TTL",
		"SESSION_SWEEP_INTERVAL", "GOOGLE_API_KEY", "GEMINI_MODEL", "EXTRACTOR_GRPC_ADDR",
		"EXTRACTION_TIMEOUT", "AWS_REGION", "DYNAMODB_TABLE_NAME", "DYNAMODB_ENDPOINT",
		"MANDRILL_API_KEY", "MANDRILL_FROM_EMAIL", "MANDRILL_FROM_NAME", "ADMIN_EMAIL",
		"ADMIN_DASHBOARD_URL", "NATS_URL", "NATS_SUBJECT", "RATE_LIMIT_REQUESTS",
		"RATE_LIMIT_WINDOW", "HANDOFF_QUEUE_SIZE", "CONVERSATION_LOG_ENABLED",
		"CONVERSATION_LOG_DIR", "CONVERSATION_LOG_GLOBAL_ENABLED",
		"CONVERSATION_LOG_GLOBAL_PATH", "CONVERSATION_LOG_QUEUE_SIZE",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 60*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 20, cfg.RateLimitRequests)
	assert.False(t, cfg.Extraction.UseGRPC())
	assert.False(t, cfg.Dynamo.Enabled())
	assert.False(t, cfg.Mandrill.Enabled())
	assert.Equal(t, "leads.completed", cfg.NATS.Subject)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("EXTRACTOR_GRPC_ADDR", "extractor:50051")
	t.Setenv("FRONTEND_URL", "https://heavyhunt.example/")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("DYNAMODB_TABLE_NAME", "leads")
	t.Setenv("MANDRILL_API_KEY", "md-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Extraction.UseGRPC())
	assert.Equal(t, []string{"https://heavyhunt.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.True(t, cfg.Dynamo.Enabled())
	assert.True(t, cfg.Mandrill.Enabled())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadAllowedOriginsList(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example, ,https://b.example ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestValidateExtractorChoice(t *testing.T) {
	isolate(t)
	_, err := Load()
	require.ErrorContains(t, err, "must be set")

	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("EXTRACTOR_GRPC_ADDR", "localhost:50051")
	_, err = Load()
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestInvalidDurationFallsBack(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("SESSION_SWEEP_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SessionSweepInterval)
}

func TestValidateRejectsNonPositive(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("HANDOFF_QUEUE_SIZE", "0")

	_, err := Load()
	require.ErrorContains(t, err, "HANDOFF_QUEUE_SIZE")
}
