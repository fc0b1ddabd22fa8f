package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"fatal":   LevelFatal,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, Service: "test"})

	l.WithField("rule_id", 42).
		WithError(errors.New("boom")).
		WithDuration(1500 * time.Microsecond).
		Warn("rule %s failed", "newsletters")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "rule newsletters failed", entry["message"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, float64(42), entry["rule_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, 1.5, entry["duration_ms"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Error("kept")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "kept", entry["message"])
	assert.Contains(t, entry, "caller")
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	ctx := ContextWithUserID(ContextWithRequestID(context.Background(), "req-1"), "user-1")
	l.WithContext(ctx).Info("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "user-1", entry["user_id"])
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Equal(t, "req-2", RequestIDFromContext(ContextWithRequestID(context.Background(), "req-2")))
}
