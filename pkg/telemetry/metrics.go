package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
)

const meterName = "consent-aware-http/aibdp"

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	decisionCounter  metric.Int64Counter
	rejectionCounter metric.Int64Counter
)

// RecordDecision emits OpenTelemetry counters for an evaluated request. The
// purpose attribute is only set when the manifest regulates it, which keeps
// the attribute set bounded by the manifest rather than by client headers.
func RecordDecision(ctx context.Context, decision policy.Decision) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("aibdp.decision.action", string(decision.Action)),
		attribute.String("aibdp.decision.reason", string(decision.Reason)),
		attribute.String("aibdp.purpose", regulatedPurpose(decision)),
	}
	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if decision.Rejected() && decision.Policy != nil {
		rejectionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("aibdp.purpose", decision.Purpose),
			attribute.String("aibdp.policy.status", string(decision.Policy.Status)),
		))
	}
}

func regulatedPurpose(decision policy.Decision) string {
	if decision.Policy == nil {
		return "none"
	}
	return decision.Purpose
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"aibdp.decisions_total",
			metric.WithDescription("AIBDP evaluations partitioned by action and reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		rejectionCounter, metricsInitErr = meter.Int64Counter(
			"aibdp.rejections_total",
			metric.WithDescription("Requests answered with 430 Consent Required"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
