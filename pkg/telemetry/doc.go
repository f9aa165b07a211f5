// Package telemetry wires Prometheus metrics, OpenTelemetry tracing, and
// OpenTelemetry meters for AIBDP enforcement.
//
// It centralises tracer provider setup and offers helpers that attach the
// evaluated purpose, the violated policy, and the decision outcome to spans
// and counters so operators can see what the consent layer is refusing.
package telemetry
