package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: DebugLevel, Output: &buf, ServiceName: "test", Environment: "ci"})

	logger.WithField("sender", "0x1").Info("nonce reserved", "nonce", uint64(42))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "nonce reserved", entry["msg"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "ci", entry["environment"])
	assert.Equal(t, "0x1", entry["sender"])
	assert.Equal(t, float64(42), entry["nonce"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: WarnLevel, Output: &buf})
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestWithContextRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: InfoLevel, Output: &buf})

	var ctx context.Context
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	logger.WithContext(ctx).Info("handled")
	assert.Contains(t, buf.String(), `"request_id"`)
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: InfoLevel, Format: ParseFormat("TEXT"), Output: &buf, ServiceName: "node"})
	logger.Named("ledger").Info("block sealed", "height", 3, "dangling")

	out := buf.String()
	assert.Contains(t, out, "service=node")
	assert.Contains(t, out, "component=ledger")
	assert.Contains(t, out, "height=3")
	assert.Contains(t, out, `dangling=""`)
	assert.Equal(t, FormatJSON, ParseFormat("yaml"))
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
	logger.WithError(assert.AnError).Error("ignored")
}
