package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	logger.Info("test message", "key", "value")

	// Parse JSON output
	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test message", logEntry["msg"])
	assert.Equal(t, "value", logEntry["key"])
	assert.Equal(t, "INFO", logEntry["level"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(Config{
		Level:  "info",
		Format: "text",
		Output: &buf,
	})

	logger.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestSetup_LogLevels(t *testing.T) {
	tests := []struct {
		level     string
		shouldLog bool
		logFunc   func(ctx context.Context, msg string, args ...any)
	}{
		{"debug", true, Debug},
		{"info", true, Info},
		{"warn", true, Warn},
		{"error", true, Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			Setup(Config{
				Level:  tt.level,
				Format: "json",
				Output: &buf,
			})

			tt.logFunc(context.Background(), "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			}
		})
	}
}

func TestWithRunID(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-123")

	runID, ok := ctx.Value(RunIDKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "run-123", runID)
}

func TestWithNamespace(t *testing.T) {
	ctx := context.Background()
	ctx = WithNamespace(ctx, "b4096/np8/model/dataset")

	ns, ok := ctx.Value(NamespaceKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "b4096/np8/model/dataset", ns)
}

func TestContextHandler_AddsRunAttributes(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	ctx := WithRunID(context.Background(), "run-abc")
	ctx = WithNamespace(ctx, "ns")
	ctx = WithAttempt(ctx, 2)

	Info(ctx, "hello")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "run-abc", logEntry["run_id"])
	assert.Equal(t, "ns", logEntry["namespace"])
	assert.Equal(t, float64(2), logEntry["attempt"])
}

func TestLogger_WithoutContext(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	logger := Logger(context.Background())
	logger.Info("plain")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	_, hasRunID := logEntry["run_id"]
	assert.False(t, hasRunID)
}
