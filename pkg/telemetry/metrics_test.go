package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
)

func refusedDecision(t *testing.T) policy.Decision {
	t.Helper()
	m, err := manifest.Parse([]byte(`{"policies": {"training": {"status": "refused"}}}`))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	entry, _ := m.Policy("training")
	return policy.Encode(m, entry, "training", nil)
}

func TestRecordDecision(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()

	RecordDecision(ctx, refusedDecision(t))
	RecordDecision(ctx, policy.Decision{Action: policy.ActionContinue, Reason: policy.ReasonNoPolicy, Purpose: "made-up"})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	decisions, ok := metrics["aibdp.decisions_total"]
	if !ok {
		t.Fatalf("missing aibdp.decisions_total metric")
	}
	data, ok := decisions.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for decisions metric")
	}
	if len(data.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(data.DataPoints))
	}
	for _, dp := range data.DataPoints {
		purpose, _ := dp.Attributes.Value(attribute.Key("aibdp.purpose"))
		reason, _ := dp.Attributes.Value(attribute.Key("aibdp.decision.reason"))
		switch reason.AsString() {
		case string(policy.ReasonRefused):
			if purpose.AsString() != "training" {
				t.Fatalf("expected purpose training, got %q", purpose.AsString())
			}
		case string(policy.ReasonNoPolicy):
			if purpose.AsString() != "none" {
				t.Fatalf("unregulated purpose leaked into attributes: %q", purpose.AsString())
			}
		default:
			t.Fatalf("unexpected reason %q", reason.AsString())
		}
	}

	rejections, ok := metrics["aibdp.rejections_total"]
	if !ok {
		t.Fatalf("missing aibdp.rejections_total metric")
	}
	rejectData := rejections.Data.(metricdata.Sum[int64])
	if len(rejectData.DataPoints) != 1 || rejectData.DataPoints[0].Value != 1 {
		t.Fatalf("expected a single rejection, got %+v", rejectData.DataPoints)
	}
	if value, ok := rejectData.DataPoints[0].Attributes.Value(attribute.Key("aibdp.policy.status")); !ok || value.AsString() != "refused" {
		t.Fatalf("expected policy status refused, got %v", value)
	}
}

func TestRecordPolicyDecision(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := tracer.Start(context.Background(), "aibdp")
	decision := refusedDecision(t)
	decision.Agent = "GPTBot"
	RecordPolicyDecision(span, decision)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["aibdp.decision.action"].AsString() != "reject" {
		t.Fatalf("expected reject action, got %v", attrs["aibdp.decision.action"])
	}
	if attrs["aibdp.agent"].AsString() != "GPTBot" {
		t.Fatalf("expected agent GPTBot, got %v", attrs["aibdp.agent"])
	}
	if attrs["aibdp.policy.status"].AsString() != "refused" {
		t.Fatalf("expected refused status, got %v", attrs["aibdp.policy.status"])
	}

	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "aibdp.consent_required" {
		t.Fatalf("expected consent_required event, got %+v", events)
	}
}

func TestRecordPolicyDecision_NonRecordingSpan(t *testing.T) {
	RecordPolicyDecision(nil, refusedDecision(t))
}
