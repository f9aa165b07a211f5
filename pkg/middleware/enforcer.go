package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hyperpolymath/consent-aware-http/pkg/logging"
	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
	"github.com/Hyperpolymath/consent-aware-http/pkg/telemetry"
)

// ManifestProvider returns the manifest snapshot to enforce, or nil when
// none is available. store.Cache satisfies it.
type ManifestProvider interface {
	Current(ctx context.Context) *manifest.Manifest
}

// ViolationFunc is told about every rejected request. It runs on its own
// goroutine after the response decision is made and cannot change it.
type ViolationFunc func(r *http.Request, entry *manifest.PolicyEntry, purpose string)

// DecisionRecorder receives every decision for metrics.
type DecisionRecorder interface {
	RecordDecision(d policy.Decision)
}

// EnforcerOptions configure an Enforcer.
type EnforcerOptions struct {
	Manifests   ManifestProvider
	Engine      *policy.Engine
	OnViolation ViolationFunc
	Metrics     DecisionRecorder
	Logger      *slog.Logger
}

// Enforcer evaluates each request against the current manifest and answers
// violations with 430 Consent Required.
type Enforcer struct {
	manifests   ManifestProvider
	engine      *policy.Engine
	onViolation ViolationFunc
	metrics     DecisionRecorder
	log         *logging.StructuredLogger
}

// NewEnforcer creates an Enforcer. A nil engine selects the default engine.
func NewEnforcer(opts EnforcerOptions) *Enforcer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := opts.Engine
	if engine == nil {
		engine = policy.NewEngine(policy.EngineOptions{Logger: logger})
	}
	return &Enforcer{
		manifests:   opts.Manifests,
		engine:      engine,
		onViolation: opts.OnViolation,
		metrics:     opts.Metrics,
		log:         logging.NewStructuredLogger(logger),
	}
}

// Wrap wraps an HTTP handler with AIBDP enforcement.
func (e *Enforcer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "aibdp.evaluate",
			trace.WithAttributes(attribute.String("url.path", r.URL.Path)),
		)
		d := e.evaluate(ctx, r)
		telemetry.RecordPolicyDecision(span, d)
		span.End()

		telemetry.RecordDecision(ctx, d)
		if e.metrics != nil {
			e.metrics.RecordDecision(d)
		}
		e.log.LogDecision(ctx, r.URL.Path, d)

		if !d.Rejected() {
			next.ServeHTTP(w, r)
			return
		}

		e.notify(r, d)
		if err := d.Write(w); err != nil {
			e.log.Logger().WarnContext(ctx, "Failed to write 430 response", "error", err)
		}
	})
}

func (e *Enforcer) evaluate(ctx context.Context, r *http.Request) policy.Decision {
	var m *manifest.Manifest
	if e.manifests != nil {
		m = e.currentManifest(ctx)
	}
	return e.engine.Evaluate(ctx, m, policy.RequestFromHTTP(r))
}

func (e *Enforcer) currentManifest(ctx context.Context) (m *manifest.Manifest) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Logger().ErrorContext(ctx, "Manifest provider failed, allowing request", "error", fmt.Sprint(rec))
			m = nil
		}
	}()
	return e.manifests.Current(ctx)
}

func (e *Enforcer) notify(r *http.Request, d policy.Decision) {
	if e.onViolation == nil {
		return
	}
	// The clone outlives the handler, so it must not inherit its cancellation.
	clone := r.Clone(context.WithoutCancel(r.Context()))
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.log.Logger().ErrorContext(clone.Context(), "AIBDP violation callback panicked", "error", fmt.Sprint(rec))
			}
		}()
		e.onViolation(clone, d.Policy, d.Purpose)
	}()
}
