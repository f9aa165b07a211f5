package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

const defaultRegoEntrypoint = "aibdp/conditions/missing"

// RegoOptions configure a RegoConditions checker.
type RegoOptions struct {
	// Entrypoint is the rule that yields the set of missing condition
	// messages (e.g. "aibdp/conditions/missing").
	Entrypoint string
	// Modules maps module names to Rego source.
	Modules map[string]string
	Logger  *slog.Logger
}

// RegoConditions evaluates conditional policies with Rego, for sites that
// need richer checks of the manifest's condition descriptors than the
// evidence headers. The entrypoint must produce a set or array of strings;
// each one is reported as missing.
//
// Input document:
//
//	{"purpose": ..., "path": ..., "status": ..., "conditions": [...], "headers": {"lower-case-name": "value"}}
type RegoConditions struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

// NewRegoConditions parses and prepares the modules.
func NewRegoConditions(ctx context.Context, opts RegoOptions) (*RegoConditions, error) {
	if len(opts.Modules) == 0 {
		return nil, errors.New("rego conditions require at least one module")
	}

	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultRegoEntrypoint
	}

	names := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := make([]func(*rego.Rego), 0, len(names)+1)
	regoOpts = append(regoOpts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RegoConditions{query: prepared, logger: logger}, nil
}

// LoadRegoConditions reads a single module from path.
func LoadRegoConditions(ctx context.Context, path, entrypoint string, logger *slog.Logger) (*RegoConditions, error) {
	//nolint:gosec // Module path is configured by the operator
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rego module %s: %w", path, err)
	}
	return NewRegoConditions(ctx, RegoOptions{
		Entrypoint: entrypoint,
		Modules:    map[string]string{filepath.Base(path): string(src)},
		Logger:     logger,
	})
}

// Check implements ConditionChecker.
func (c *RegoConditions) Check(ctx context.Context, in ConditionInput) ConditionResult {
	if !needsEvidence(in.Policy) {
		return ConditionResult{Satisfied: true}
	}

	results, err := c.query.Eval(ctx, rego.EvalInput(regoInput(in)))
	if err != nil {
		c.logger.WarnContext(ctx, "Rego condition evaluation failed, ignoring", "error", err, "purpose", in.Purpose)
		return ConditionResult{Satisfied: true}
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ConditionResult{Satisfied: true}
	}

	missing, err := stringSet(results[0].Expressions[0].Value)
	if err != nil {
		c.logger.WarnContext(ctx, "Rego condition result ignored", "error", err, "purpose", in.Purpose)
		return ConditionResult{Satisfied: true}
	}
	return ConditionResult{Satisfied: len(missing) == 0, Missing: missing}
}

func regoInput(in ConditionInput) map[string]any {
	conditions := make([]any, 0, len(in.Policy.Conditions))
	for _, raw := range in.Policy.Conditions {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			conditions = append(conditions, v)
		}
	}

	headers := make(map[string]any, len(in.Header))
	for key, values := range in.Header {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}

	return map[string]any{
		"purpose":    in.Purpose,
		"path":       in.Path,
		"status":     string(in.Policy.Status),
		"conditions": conditions,
		"headers":    headers,
	}
}

func stringSet(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", value)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected element type %T", item)
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
