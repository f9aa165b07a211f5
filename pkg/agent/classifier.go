// Package agent classifies inbound requests: it decides whether the caller is
// an automated agent and which AIBDP purpose it is acting for.
//
// Classification is heuristic. It relies on self-declared headers and
// user-agent tokens and is not a substitute for agent verification.
package agent

import (
	"net/http"
	"strings"
)

// Recognised request headers.
const (
	HeaderUserAgent = "User-Agent"
	HeaderPurpose   = "AI-Purpose"
)

// PurposeUnknown is returned when no purpose can be determined.
const PurposeUnknown = "unknown"

// Classifier holds the signature and purpose tables used for classification.
// The zero value recognises nothing; use Default or New.
type Classifier struct {
	signatures []Signature
	purposes   []PurposeRule
}

var defaultClassifier = New(DefaultSignatures, DefaultPurposeRules)

// New returns a Classifier over the given tables. The slices are copied.
func New(signatures []Signature, purposes []PurposeRule) *Classifier {
	return &Classifier{
		signatures: append([]Signature(nil), signatures...),
		purposes:   append([]PurposeRule(nil), purposes...),
	}
}

// Default returns the classifier backed by DefaultSignatures and
// DefaultPurposeRules.
func Default() *Classifier {
	return defaultClassifier
}

// Identify returns the name of the first signature matching userAgent.
func (c *Classifier) Identify(userAgent string) (string, bool) {
	if c == nil || userAgent == "" {
		return "", false
	}
	for _, s := range c.signatures {
		if s.Pattern != nil && s.Pattern.MatchString(userAgent) {
			return s.Name, true
		}
	}
	return "", false
}

// IsAutomatedAgent reports whether userAgent matches a known agent signature.
func (c *Classifier) IsAutomatedAgent(userAgent string) bool {
	_, ok := c.Identify(userAgent)
	return ok
}

// InferPurpose determines the purpose of a request. An explicit AI-Purpose
// header always wins; otherwise the user agent is looked up in the purpose
// table.
func (c *Classifier) InferPurpose(h http.Header) string {
	if h == nil {
		return PurposeUnknown
	}
	if declared := h.Get(HeaderPurpose); declared != "" {
		return strings.ToLower(declared)
	}
	if c == nil {
		return PurposeUnknown
	}

	ua := h.Get(HeaderUserAgent)
	if ua == "" {
		return PurposeUnknown
	}
	for _, r := range c.purposes {
		if r.Pattern != nil && r.Pattern.MatchString(ua) {
			return r.Purpose
		}
	}
	return PurposeUnknown
}

// IsAutomatedAgent reports whether userAgent matches the default registry.
func IsAutomatedAgent(userAgent string) bool {
	return defaultClassifier.IsAutomatedAgent(userAgent)
}

// InferPurpose infers the request purpose using the default tables.
func InferPurpose(h http.Header) string {
	return defaultClassifier.InferPurpose(h)
}
