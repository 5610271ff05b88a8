package obslog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Redaction.Enabled)
}

func TestValidateRejectsBadFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRedactionPattern(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Redaction.Patterns = []string{"("}
	require.Error(t, cfg.Validate())
}

func TestNewLoggerBuildsFromDefaults(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
}

func TestRedactAllMasksConfiguredKeys(t *testing.T) {
	cfg := RedactionConfig{Enabled: true, Fields: []string{"api_key"}}
	out := redactAll(cfg, []zap.Field{
		zap.String("api_key", "sk-12345"),
		zap.String("task", "a"),
	})
	assert.Equal(t, "[REDACTED]", out[0].String)
	assert.Equal(t, "a", out[1].String)
}

func TestRedactAllMasksPatternMatches(t *testing.T) {
	cfg := RedactionConfig{Enabled: true, Patterns: []string{`(?i)bearer\s+\S+`}}
	out := redactAll(cfg, []zap.Field{zap.String("header", "Bearer abc123")})
	assert.Equal(t, "[REDACTED:pattern]", out[0].String)
}

func TestRedactAllDisabledPassesThrough(t *testing.T) {
	cfg := RedactionConfig{Enabled: false, Fields: []string{"api_key"}}
	out := redactAll(cfg, []zap.Field{zap.String("api_key", "sk-12345")})
	assert.Equal(t, "sk-12345", out[0].String)
}

func TestContextFieldsCarryCorrelationData(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPhase(ctx, "execute")
	ctx = WithTaskID(ctx, "task-a")

	fields := ContextFields(ctx)
	keys := make(map[string]string, len(fields))
	for _, f := range fields {
		if f.Type == zapcore.StringType {
			keys[f.Key] = f.String
		}
	}
	assert.Equal(t, "req-1", keys["request.id"])
	assert.Equal(t, "execute", keys["phase"])
	assert.Equal(t, "task-a", keys["task.id"])
}

func TestFromContextFallsBackToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	logger.Info(context.Background(), "does not panic")
}
