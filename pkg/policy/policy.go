package policy

import (
	"encoding/json"
	"net/http"

	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
)

// Action defines the outcome of an evaluation.
type Action string

const (
	// ActionContinue lets the request through to the protected handler.
	ActionContinue Action = "continue"
	// ActionReject answers the request with 430 Consent Required.
	ActionReject Action = "reject"
)

// Reason records which branch of the evaluation produced a decision.
type Reason string

const (
	ReasonNoManifest        Reason = "no_manifest"
	ReasonNotAgent          Reason = "not_agent"
	ReasonNoPolicy          Reason = "no_policy"
	ReasonAllowed           Reason = "allowed"
	ReasonConditionsMet     Reason = "conditions_met"
	ReasonUnknownStatus     Reason = "unknown_status"
	ReasonInternalError     Reason = "internal_error"
	ReasonRefused           Reason = "refused"
	ReasonConditionsMissing Reason = "conditions_missing"
)

// Request is the part of an inbound request the engine looks at.
type Request struct {
	Path   string
	Header http.Header
}

// RequestFromHTTP extracts the evaluation input from r.
func RequestFromHTTP(r *http.Request) Request {
	req := Request{Header: r.Header}
	if r.URL != nil {
		req.Path = r.URL.Path
	}
	return req
}

// Decision is the result of evaluating one request. A Decision is built once
// and never modified.
type Decision struct {
	Action Action
	Reason Reason

	// StatusCode, Header and Body are set for ActionReject only.
	StatusCode int
	Header     http.Header
	Body       *RejectionBody

	// Purpose, Agent and Policy describe what was evaluated, when known.
	Purpose string
	Agent   string
	Policy  *manifest.PolicyEntry
}

// Rejected reports whether the request must be refused.
func (d Decision) Rejected() bool {
	return d.Action == ActionReject
}

// RejectionBody is the JSON document sent with a 430 response.
type RejectionBody struct {
	Error              string            `json:"error"`
	Manifest           string            `json:"manifest"`
	ViolatedPolicy     string            `json:"violated_policy"`
	PolicyStatus       manifest.Status   `json:"policy_status"`
	RequiredConditions []json.RawMessage `json:"required_conditions"`
	Rationale          string            `json:"rationale"`
	Contact            json.RawMessage   `json:"contact,omitempty"`
	MissingConditions  []string          `json:"missing_conditions,omitempty"`
}

func continueWith(reason Reason) Decision {
	return Decision{Action: ActionContinue, Reason: reason}
}
