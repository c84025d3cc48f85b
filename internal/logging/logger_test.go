package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"chaosmonkey/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config config.LoggingConfig
	}{
		{name: "development config", config: DevelopmentLoggingConfig()},
		{name: "production config", config: ProductionLoggingConfig()},
		{name: "test config", config: TestLoggingConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(&tt.config)
			if logger == nil {
				t.Fatal("Expected logger to be created")
			}

			logger.Info("Test log message", "test", true)
			logger.Debug("Debug message", "debug", true)
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if idx := strings.LastIndex(line, "\n"); idx >= 0 {
		line = line[idx+1:]
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestExperimentEvent(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "debug", Format: "json"}
	logger := NewWithWriter(&cfg, &buf)

	ctx := WithRunID(context.Background(), "run-1")
	logger.ExperimentEvent(ctx, "aborted", "run-1", "Kill API", "service_kill", "api", map[string]interface{}{
		"reason": "target unreachable",
	})

	entry := decodeLine(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("Expected aborted event at WARN, got %v", entry["level"])
	}
	if entry["target"] != "api" || entry["reason"] != "target unreachable" {
		t.Errorf("Unexpected fields: %v", entry)
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("Expected run_id from context, got %v", entry["run_id"])
	}
}

func TestSafetyEvent(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewWithWriter(&cfg, &buf)

	logger.SafetyEvent(context.Background(), "api", "cpu limit exceeded", map[string]interface{}{"cpu_percent": 97.5})

	entry := decodeLine(t, &buf)
	if entry["msg"] != "Safety limit" || entry["reason"] != "cpu limit exceeded" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing should be written")
	logger.WithField("k", "v").WithError(context.Canceled).Info("still nothing")
}

func TestCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if id1 == id2 {
		t.Error("Expected different correlation IDs")
	}
	if !strings.HasPrefix(id1, "cor_") {
		t.Errorf("Expected cor_ prefix, got %s", id1)
	}
	if !strings.HasPrefix(GenerateRequestID(), "req_") {
		t.Error("Expected req_ prefix on request IDs")
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id1, "cor_")); err != nil {
		t.Errorf("Expected a UUID after the prefix, got %s: %v", id1, err)
	}
	if got := SanitizeCorrelationID(id1); got != id1 {
		t.Errorf("Generated ID should survive sanitizing, got %s", got)
	}
}

func TestSanitizeCorrelationID(t *testing.T) {
	got := SanitizeCorrelationID("abc\ndef\r\tghi")
	if got != "abcdefghi" {
		t.Errorf("Expected control characters stripped, got %q", got)
	}

	long := strings.Repeat("x", 100)
	if len(SanitizeCorrelationID(long)) != 64 {
		t.Error("Expected IDs to be capped at 64 characters")
	}
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "debug", Format: "json", EnableRequestTracing: true}
	logger := NewWithWriter(&cfg, &buf)

	var seen string
	handler := CorrelationIDMiddleware(logger, "test")(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ExtractCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationIDHeader, "cor_given")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "cor_given" {
		t.Errorf("Expected correlation ID to be propagated, got %q", seen)
	}
	if rec.Header().Get(CorrelationIDHeader) != "cor_given" {
		t.Error("Expected correlation ID echoed in response header")
	}

	entry := decodeLine(t, &buf)
	if entry["status_code"] != float64(http.StatusTeapot) {
		t.Errorf("Expected captured status code, got %v", entry["status_code"])
	}

	out := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	PropagateCorrelationID(context.WithValue(context.Background(), CorrelationIDKey, "cor_out"), out)
	if out.Header.Get(CorrelationIDHeader) != "cor_out" {
		t.Error("Expected correlation ID on outgoing request")
	}
}
