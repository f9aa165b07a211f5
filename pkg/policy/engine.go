package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Hyperpolymath/consent-aware-http/pkg/agent"
	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
)

// EngineOptions control how requests are classified and checked.
type EngineOptions struct {
	// Classifier identifies agents and their purpose. Nil selects
	// agent.Default().
	Classifier *agent.Classifier
	// Conditions checks evidence for conditional policies. Nil selects
	// HeaderConditions.
	Conditions ConditionChecker
	// EnforceForAll evaluates every request, not only those from
	// recognised agents.
	EnforceForAll bool
	Logger        *slog.Logger
}

// Engine runs the per-request decision state machine. It holds no mutable
// state and may be shared by any number of goroutines.
type Engine struct {
	classifier    *agent.Classifier
	conditions    ConditionChecker
	enforceForAll bool
	logger        *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		classifier:    opts.Classifier,
		conditions:    opts.Conditions,
		enforceForAll: opts.EnforceForAll,
		logger:        opts.Logger,
	}
	if e.classifier == nil {
		e.classifier = agent.Default()
	}
	if e.conditions == nil {
		e.conditions = HeaderConditions{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Evaluate decides whether req may proceed under the manifest snapshot m.
// A nil manifest disables enforcement. Evaluate never panics; an internal
// fault yields ActionContinue with ReasonInternalError.
func (e *Engine) Evaluate(ctx context.Context, m *manifest.Manifest, req Request) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "AIBDP evaluation failed, allowing request",
				"path", req.Path,
				"error", fmt.Sprint(r),
			)
			decision = continueWith(ReasonInternalError)
		}
	}()

	if m == nil {
		return continueWith(ReasonNoManifest)
	}

	agentName, isAgent := e.classifier.Identify(req.Header.Get(agent.HeaderUserAgent))
	if !isAgent && !e.enforceForAll {
		return continueWith(ReasonNotAgent)
	}

	purpose := e.classifier.InferPurpose(req.Header)
	entry := Resolve(m, purpose, req.Path)

	decision = e.decide(ctx, m, entry, purpose, req)
	decision.Agent = agentName
	return decision
}

func (e *Engine) decide(ctx context.Context, m *manifest.Manifest, entry *manifest.PolicyEntry, purpose string, req Request) Decision {
	if entry == nil {
		d := continueWith(ReasonNoPolicy)
		d.Purpose = purpose
		return d
	}

	var d Decision
	switch entry.Status {
	case manifest.StatusAllowed:
		d = continueWith(ReasonAllowed)
	case manifest.StatusRefused:
		return Encode(m, entry, purpose, nil)
	case manifest.StatusConditional:
		res := e.conditions.Check(ctx, ConditionInput{
			Purpose: purpose,
			Path:    req.Path,
			Policy:  entry,
			Header:  req.Header,
		})
		if !res.Satisfied {
			return Encode(m, entry, purpose, res.Missing)
		}
		d = continueWith(ReasonConditionsMet)
	default:
		d = continueWith(ReasonUnknownStatus)
	}

	d.Purpose = purpose
	d.Policy = entry
	return d
}
