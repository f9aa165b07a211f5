// Package middleware provides the net/http integration of AIBDP: the
// enforcement wrapper that answers non-consenting AI agents with 430, the
// handler that publishes the manifest, and the request id, recovery and
// access log wrappers the demo server is built from.
//
// Typical chain:
//
//	handler = RequestID(Recovery(logger)(AccessLog(logger)(enforcer.Wrap(mux))))
package middleware
