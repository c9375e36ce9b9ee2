package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)
	return logger, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	return logEntry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithService(ctx, "payments")

	logger.WithContext(ctx).Info("test message")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "test-correlation-id", logEntry["correlation_id"])
	assert.Equal(t, "req-1", logEntry["request_id"])
	assert.Equal(t, "payments", logEntry["reporting_service"])
	assert.Equal(t, "test-service", logEntry["service"])
	assert.Equal(t, "test message", logEntry["message"])
}

func TestLogger_LogRecoveryEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogRecoveryEvent(context.Background(), "rec-1", "network", "retry", false, 250*time.Millisecond, logrus.Fields{
		"attempts": 3,
	})

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "error_handled", logEntry["event"])
	assert.Equal(t, "rec-1", logEntry["record_id"])
	assert.Equal(t, "network", logEntry["category"])
	assert.Equal(t, "retry", logEntry["strategy"])
	assert.Equal(t, false, logEntry["success"])
	assert.Equal(t, float64(250), logEntry["recovery_time_ms"])
	assert.Equal(t, float64(3), logEntry["attempts"])
	assert.Equal(t, "warning", logEntry["level"])
}

func TestLogger_LogBreakerTransition(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogBreakerTransition("payments", "closed", "open", 5)

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "payments", logEntry["breaker"])
	assert.Equal(t, "open", logEntry["to"])
	assert.Equal(t, float64(5), logEntry["failure_count"])
	assert.Equal(t, "Circuit breaker opened", logEntry["message"])
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newBufferedLogger(t, "debug")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogError(ctx, assert.AnError, "test error message", logrus.Fields{
		"component": "ledger",
	})

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "test error message", logEntry["message"])
	assert.Equal(t, assert.AnError.Error(), logEntry["error"])
	assert.Equal(t, "ledger", logEntry["component"])
	assert.Contains(t, logEntry, "stack_trace")
}

func TestLogger_KeyValueHelpers(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.Info("sweep finished", "ledger_size", 12, "dangling")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, float64(12), logEntry["ledger_size"])
	assert.NotContains(t, logEntry, "dangling")
}

func TestCorrelationID(t *testing.T) {
	id := NewCorrelationID()
	assert.Len(t, id, 36)

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestLogger_LogRequest(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithRequestID(context.Background(), "req-42")
	logger.LogRequest(ctx, "POST", "/api/v1/errors", "curl/8.0", "10.0.0.1", 200, 1500*time.Millisecond)

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "HTTP request processed", logEntry["message"])
	assert.Equal(t, "req-42", logEntry["request_id"])
	assert.Equal(t, float64(200), logEntry["http_status"])
	assert.Equal(t, float64(1500), logEntry["response_time_ms"])
}

func TestLogger_LogPanic(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogPanic(context.Background(), "boom", "Request panic recovered")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "error", logEntry["level"])
	assert.Equal(t, "boom", logEntry["panic"])
	assert.Contains(t, logEntry, "stack_trace")
}
