package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
)

// StructuredLogger emits the enforcement layer's log records with request
// and trace correlation attributes.
type StructuredLogger struct {
	logger *slog.Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *slog.Logger) *StructuredLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredLogger{logger: logger}
}

// Logger returns the underlying logger.
func (sl *StructuredLogger) Logger() *slog.Logger {
	return sl.logger
}

// LogDecision logs an AIBDP evaluation. Rejections are logged at warn, the
// rest at debug.
func (sl *StructuredLogger) LogDecision(ctx context.Context, path string, d policy.Decision) {
	attrs := []slog.Attr{
		slog.String("path", path),
		slog.String("action", string(d.Action)),
		slog.String("reason", string(d.Reason)),
	}
	if d.Purpose != "" {
		attrs = append(attrs, slog.String("purpose", d.Purpose))
	}
	if d.Agent != "" {
		attrs = append(attrs, slog.String("agent", d.Agent))
	}
	if d.Policy != nil {
		attrs = append(attrs, slog.String("policy_status", string(d.Policy.Status)))
	}
	if d.Body != nil && len(d.Body.MissingConditions) > 0 {
		attrs = append(attrs, slog.Any("missing_conditions", d.Body.MissingConditions))
	}
	attrs = appendCorrelation(ctx, attrs)

	if d.Rejected() {
		sl.logger.LogAttrs(ctx, slog.LevelWarn, "AIBDP violation", attrs...)
		return
	}
	sl.logger.LogAttrs(ctx, slog.LevelDebug, "AIBDP decision", attrs...)
}

// LogHTTPRequest logs HTTP request events
func (sl *StructuredLogger) LogHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, userAgent string) {
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration),
	}
	if userAgent != "" {
		attrs = append(attrs, slog.String("user_agent", userAgent))
	}
	attrs = appendCorrelation(ctx, attrs)

	level := slog.LevelInfo
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}

	sl.logger.LogAttrs(ctx, level, "HTTP request", attrs...)
}

func appendCorrelation(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if traceID := getTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if spanID := getSpanID(ctx); spanID != "" {
		attrs = append(attrs, slog.String("span_id", spanID))
	}
	return attrs
}
