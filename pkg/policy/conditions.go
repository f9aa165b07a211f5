package policy

import (
	"context"
	"net/http"

	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
)

// Evidence headers a caller sends to show it accepted a conditional policy.
const (
	HeaderConsentReviewed   = "AI-Consent-Reviewed"
	HeaderConsentConditions = "AI-Consent-Conditions"
)

// Messages reported for absent evidence headers.
const (
	MissingConsentReviewed   = "AI-Consent-Reviewed header required"
	MissingConsentConditions = "AI-Consent-Conditions header required"
)

// ConditionInput is what a ConditionChecker sees of the request.
type ConditionInput struct {
	Purpose string
	Path    string
	Policy  *manifest.PolicyEntry
	Header  http.Header
}

// ConditionResult reports whether a conditional policy is satisfied and,
// if not, which evidence is missing.
type ConditionResult struct {
	Satisfied bool
	Missing   []string
}

// ConditionChecker decides whether a request carries the evidence a
// conditional policy asks for. Implementations must treat every status other
// than conditional, and a conditional entry that declares no conditions, as
// satisfied. They must not fail: problems are reported as satisfied.
type ConditionChecker interface {
	Check(ctx context.Context, in ConditionInput) ConditionResult
}

// HeaderConditions is the baseline checker. It requires both consent
// evidence headers to be present and non-empty.
type HeaderConditions struct{}

// Check implements ConditionChecker.
func (HeaderConditions) Check(_ context.Context, in ConditionInput) ConditionResult {
	return CheckConditions(in.Policy, in.Header)
}

// CheckConditions applies the baseline evidence rules to entry. Entries
// without a conditions member need no evidence; an explicit empty list does.
func CheckConditions(entry *manifest.PolicyEntry, h http.Header) ConditionResult {
	if !needsEvidence(entry) {
		return ConditionResult{Satisfied: true}
	}

	var missing []string
	if h.Get(HeaderConsentReviewed) == "" {
		missing = append(missing, MissingConsentReviewed)
	}
	if h.Get(HeaderConsentConditions) == "" {
		missing = append(missing, MissingConsentConditions)
	}

	return ConditionResult{Satisfied: len(missing) == 0, Missing: missing}
}

func needsEvidence(entry *manifest.PolicyEntry) bool {
	return entry != nil && entry.Status == manifest.StatusConditional && entry.Conditions != nil
}

// ConditionChain runs checkers in order and concatenates what they report
// missing. The request is satisfied only when nothing is missing.
type ConditionChain struct {
	checkers []ConditionChecker
}

// NewConditionChain constructs a chain. An empty chain uses HeaderConditions.
func NewConditionChain(checkers ...ConditionChecker) ConditionChain {
	if len(checkers) == 0 {
		checkers = []ConditionChecker{HeaderConditions{}}
	}
	return ConditionChain{checkers: append([]ConditionChecker(nil), checkers...)}
}

// Check implements ConditionChecker.
func (c ConditionChain) Check(ctx context.Context, in ConditionInput) ConditionResult {
	var missing []string
	for _, checker := range c.checkers {
		if checker == nil {
			continue
		}
		res := checker.Check(ctx, in)
		if !res.Satisfied {
			missing = append(missing, res.Missing...)
		}
	}
	return ConditionResult{Satisfied: len(missing) == 0, Missing: missing}
}
