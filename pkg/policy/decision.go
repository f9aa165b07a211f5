package policy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
)

// StatusConsentRequired is the HTTP status for a request that does not
// satisfy the declared AI usage boundaries.
const StatusConsentRequired = 430

// RetryAfter is how long, in seconds, a rejected agent should wait before
// asking again.
const RetryAfter = 86400

// LinkRelation is the Link relation pointing at the violated manifest.
const LinkRelation = "blocked-by-consent"

const (
	rejectionError   = "AI usage boundaries declared in AIBDP manifest not satisfied"
	defaultRationale = "No additional information provided"
)

// Encode builds the rejection for purpose under entry. missing lists the
// absent evidence when the entry is conditional and is omitted otherwise.
func Encode(m *manifest.Manifest, entry *manifest.PolicyEntry, purpose string, missing []string) Decision {
	uri := m.URI()

	body := &RejectionBody{
		Error:              rejectionError,
		Manifest:           uri,
		ViolatedPolicy:     purpose,
		RequiredConditions: []json.RawMessage{},
		Rationale:          defaultRationale,
	}
	if m != nil {
		body.Contact = m.Contact
	}
	if entry != nil {
		body.PolicyStatus = entry.Status
		if len(entry.Conditions) > 0 {
			body.RequiredConditions = entry.Conditions
		}
		if entry.Rationale != "" {
			body.Rationale = entry.Rationale
		}
	}
	if len(missing) > 0 {
		body.MissingConditions = append([]string(nil), missing...)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Link", fmt.Sprintf("<%s>; rel=%q", uri, LinkRelation))
	header.Set("Retry-After", strconv.Itoa(RetryAfter))

	reason := ReasonRefused
	if entry != nil && entry.Status == manifest.StatusConditional {
		reason = ReasonConditionsMissing
	}

	return Decision{
		Action:     ActionReject,
		Reason:     reason,
		StatusCode: StatusConsentRequired,
		Header:     header,
		Body:       body,
		Purpose:    purpose,
		Policy:     entry,
	}
}

// Write sends the decision to w. It writes nothing for ActionContinue.
func (d Decision) Write(w http.ResponseWriter) error {
	if !d.Rejected() {
		return nil
	}

	for key, values := range d.Header {
		w.Header()[key] = append([]string(nil), values...)
	}
	w.WriteHeader(d.StatusCode)

	if d.Body == nil {
		return nil
	}
	if err := json.NewEncoder(w).Encode(d.Body); err != nil {
		return fmt.Errorf("encode rejection body: %w", err)
	}
	return nil
}
