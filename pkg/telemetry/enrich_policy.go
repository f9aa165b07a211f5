package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
)

// RecordPolicyDecision annotates the provided span with the AIBDP decision.
func RecordPolicyDecision(span trace.Span, decision policy.Decision) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("aibdp.decision.action", string(decision.Action)),
		attribute.String("aibdp.decision.reason", string(decision.Reason)),
	)

	if decision.Purpose != "" {
		span.SetAttributes(attribute.String("aibdp.purpose", decision.Purpose))
	}
	if decision.Agent != "" {
		span.SetAttributes(attribute.String("aibdp.agent", decision.Agent))
	}
	if decision.Policy != nil {
		span.SetAttributes(attribute.String("aibdp.policy.status", string(decision.Policy.Status)))
	}

	if decision.Rejected() {
		attrs := []attribute.KeyValue{attribute.Int("http.response.status_code", decision.StatusCode)}
		if decision.Body != nil && len(decision.Body.MissingConditions) > 0 {
			attrs = append(attrs, attribute.StringSlice("aibdp.missing_conditions", decision.Body.MissingConditions))
		}
		span.AddEvent("aibdp.consent_required", trace.WithAttributes(attrs...))
	}
}
