package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warning ", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(Config{Level: "info", Output: &buf}).Info("hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	NewLogger(Config{Format: "text", Output: &buf}).Info("hello")
	assert.True(t, strings.Contains(buf.String(), "msg=hello"))

	buf.Reset()
	NewLogger(Config{Level: "warn", Output: &buf}).Info("hidden")
	assert.Empty(t, buf.String())
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		out = append(out, rec)
	}
	return out
}

func TestStructuredLogger_LogDecision(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(NewLogger(Config{Level: "debug", Output: &buf}))

	m, err := manifest.Parse([]byte(`{"policies": {"training": {"status": "conditional"}}}`))
	require.NoError(t, err)
	entry, _ := m.Policy("training")
	d := policy.Encode(m, entry, "training", []string{policy.MissingConsentReviewed})
	d.Agent = "GPTBot"

	provider := sdktrace.NewTracerProvider()
	ctx, span := provider.Tracer("test").Start(context.Background(), "req")
	defer span.End()
	ctx = WithRequestID(ctx, "req-1")

	sl.LogDecision(ctx, "/article.html", d)
	sl.LogDecision(context.Background(), "/", policy.Decision{Action: policy.ActionContinue, Reason: policy.ReasonNotAgent})

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 2)

	assert.Equal(t, "AIBDP violation", recs[0]["msg"])
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "training", recs[0]["purpose"])
	assert.Equal(t, "GPTBot", recs[0]["agent"])
	assert.Equal(t, "conditional", recs[0]["policy_status"])
	assert.Equal(t, "req-1", recs[0]["request_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), recs[0]["trace_id"])
	assert.Equal(t, []any{policy.MissingConsentReviewed}, recs[0]["missing_conditions"])

	assert.Equal(t, "AIBDP decision", recs[1]["msg"])
	assert.NotContains(t, recs[1], "request_id")
	assert.NotContains(t, recs[1], "trace_id")
}

func TestStructuredLogger_LogHTTPRequest(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(NewLogger(Config{Output: &buf}))

	sl.LogHTTPRequest(context.Background(), http.MethodGet, "/", 200, time.Millisecond, "curl/8")
	sl.LogHTTPRequest(context.Background(), http.MethodGet, "/a", policy.StatusConsentRequired, time.Millisecond, "")
	sl.LogHTTPRequest(context.Background(), http.MethodGet, "/b", 500, time.Millisecond, "")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 3)
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.Equal(t, "curl/8", recs[0]["user_agent"])
	assert.Equal(t, "WARN", recs[1]["level"])
	assert.Equal(t, "ERROR", recs[2]["level"])
}

func TestNewStructuredLogger_NilUsesDefault(t *testing.T) {
	assert.Same(t, slog.Default(), NewStructuredLogger(nil).Logger())
}
