// Package manifest models an AIBDP manifest: the JSON document in which a
// resource owner declares, per purpose, whether automated agents may use its
// content.
//
// Parsing is deliberately permissive. Only a document that is not an object,
// or whose "policies" member is not an object, is rejected. Anything else
// that is missing or malformed degrades to "no enforcement" for the affected
// entry, so a partially written manifest never breaks the site serving it.
//
// A parsed Manifest is immutable and safe to share between goroutines.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"

	"github.com/Hyperpolymath/consent-aware-http/pkg/pathmatch"
)

// DefaultURI is the well-known location of the manifest.
const DefaultURI = "/.well-known/aibdp.json"

// Status is the consent state a policy entry declares for its purpose.
type Status string

const (
	StatusAllowed     Status = "allowed"
	StatusRefused     Status = "refused"
	StatusConditional Status = "conditional"
)

// Known reports whether s is one of the statuses the protocol defines.
func (s Status) Known() bool {
	switch s {
	case StatusAllowed, StatusRefused, StatusConditional:
		return true
	}
	return false
}

// Manifest is a parsed AIBDP document.
type Manifest struct {
	CanonicalURI string
	Version      string
	LastUpdated  string
	Expires      string
	// Contact is passed through to rejection bodies untouched, including an
	// explicit null. It is nil only when the member is absent.
	Contact  json.RawMessage
	Policies map[string]*PolicyEntry

	raw []byte
}

// PolicyEntry is the policy for one purpose, or one exception of such a
// policy. Exceptions are entries themselves and replace their parent when
// their Path matches.
type PolicyEntry struct {
	Status     Status
	Scope      Scope
	Exceptions []*PolicyEntry
	// Conditions is nil when the manifest declares none. An explicit empty
	// list is kept non-nil: it still asks for consent evidence.
	Conditions []json.RawMessage
	Rationale  string

	// Path is set on exception entries only.
	Path string
	path *pathmatch.Pattern
	// malformed marks an exception without a usable path.
	malformed bool
}

// Scope is the set of paths a policy entry governs. Patterns holds the scope
// items in declared order; an item that is not a string is kept as its raw
// JSON text and makes the scope malformed from that position on.
type Scope struct {
	All      bool
	Patterns []string

	// compiled is parallel to Patterns; nil marks a malformed item.
	compiled []*pathmatch.Pattern
}

// Match reports whether path lies within the scope. Items are tried in
// declared order and the first match wins; reaching a malformed item first
// yields ErrMalformedPattern.
func (s Scope) Match(path string) (bool, error) {
	if s.All {
		return true, nil
	}
	for i, p := range s.compiled {
		if p == nil {
			return false, &PatternError{Pattern: s.Patterns[i]}
		}
		if p.Match(path) {
			return true, nil
		}
	}
	return false, nil
}

// Matches is Match with malformed scopes treated as not matching.
func (s Scope) Matches(path string) bool {
	ok, err := s.Match(path)
	return ok && err == nil
}

// MatchPath reports whether an exception entry applies to path. An exception
// without a usable path yields ErrMalformedPattern.
func (e *PolicyEntry) MatchPath(path string) (bool, error) {
	if e == nil {
		return false, nil
	}
	if e.malformed || e.path == nil {
		return false, &PatternError{Pattern: e.Path}
	}
	return e.path.Match(path), nil
}

// MatchesPath is MatchPath with malformed exceptions treated as not matching.
func (e *PolicyEntry) MatchesPath(path string) bool {
	ok, err := e.MatchPath(path)
	return ok && err == nil
}

// URI returns the canonical manifest URI, falling back to DefaultURI.
func (m *Manifest) URI() string {
	if m == nil || m.CanonicalURI == "" {
		return DefaultURI
	}
	return m.CanonicalURI
}

// Policy looks up the entry for purpose. Purpose keys are case-sensitive.
func (m *Manifest) Policy(purpose string) (*PolicyEntry, bool) {
	if m == nil {
		return nil, false
	}
	e, ok := m.Policies[purpose]
	return e, ok
}

// Purposes returns the regulated purposes in lexical order.
func (m *Manifest) Purposes() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Policies))
	for p := range m.Policies {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Raw returns the document exactly as it was parsed.
func (m *Manifest) Raw() []byte {
	if m == nil {
		return nil
	}
	return m.raw
}

type rawManifest struct {
	CanonicalURI      json.RawMessage `json:"canonical_uri"`
	CanonicalURIAlias json.RawMessage `json:"canonicalUri"`
	Version           json.RawMessage `json:"aibdp_version"`
	LastUpdated       json.RawMessage `json:"last_updated"`
	Expires           json.RawMessage `json:"expires"`
	Contact           json.RawMessage `json:"contact"`
	Policies          json.RawMessage `json:"policies"`
}

type rawEntry struct {
	Status     json.RawMessage `json:"status"`
	Scope      json.RawMessage `json:"scope"`
	Exceptions json.RawMessage `json:"exceptions"`
	Conditions json.RawMessage `json:"conditions"`
	Rationale  json.RawMessage `json:"rationale"`
	Path       json.RawMessage `json:"path"`
}

// Parse decodes an AIBDP manifest.
func Parse(raw []byte) (*Manifest, error) {
	if kind(raw) != '{' {
		return nil, &ParseError{Err: errors.New("document is not a JSON object")}
	}

	var rm rawManifest
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, &ParseError{Err: err}
	}

	m := &Manifest{
		Contact:     present(rm.Contact),
		Version:     stringValue(rm.Version),
		LastUpdated: stringValue(rm.LastUpdated),
		Expires:     stringValue(rm.Expires),
		Policies:    map[string]*PolicyEntry{},
		raw:         append([]byte(nil), raw...),
	}
	if uri, ok := stringLiteral(rm.CanonicalURI); ok {
		m.CanonicalURI = uri
	} else {
		m.CanonicalURI = stringValue(rm.CanonicalURIAlias)
	}

	switch kind(rm.Policies) {
	case 0, 'n':
		return m, nil
	case '{':
	default:
		return nil, &ParseError{Field: "policies", Err: errors.New("must be an object")}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(rm.Policies, &entries); err != nil {
		return nil, &ParseError{Field: "policies", Err: err}
	}
	for purpose, body := range entries {
		entry, ok := parseEntry(body, false)
		if !ok {
			continue
		}
		m.Policies[purpose] = entry
	}

	return m, nil
}

// parseEntry returns false for entries that carry no status. Exceptions keep
// their entry even without a status: they still shadow the base policy. An
// exception that is not an object, or has no string path, is kept as a
// malformed entry so that resolution stops when it reaches it.
func parseEntry(body json.RawMessage, exception bool) (*PolicyEntry, bool) {
	if kind(body) != '{' {
		if exception {
			return &PolicyEntry{malformed: true}, true
		}
		return nil, false
	}
	var re rawEntry
	if err := json.Unmarshal(body, &re); err != nil {
		if exception {
			return &PolicyEntry{malformed: true}, true
		}
		return nil, false
	}

	status := stringValue(re.Status)
	if status == "" && !exception {
		return nil, false
	}

	entry := &PolicyEntry{
		Status:     Status(status),
		Conditions: parseConditions(re.Conditions),
		Rationale:  stringValue(re.Rationale),
	}

	if exception {
		path, ok := stringLiteral(re.Path)
		if !ok {
			entry.malformed = true
			return entry, true
		}
		entry.Path = path
		entry.path, _ = pathmatch.Compile(path)
		return entry, true
	}

	entry.Scope = parseScope(re.Scope)
	entry.Exceptions = parseExceptions(re.Exceptions)
	return entry, true
}

// parseScope narrows an entry only when scope is a list. Any other value,
// including a single pattern string, leaves the entry governing every path.
func parseScope(body json.RawMessage) Scope {
	if kind(body) != '[' {
		return Scope{All: true}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return Scope{All: true}
	}

	s := Scope{
		Patterns: make([]string, 0, len(items)),
		compiled: make([]*pathmatch.Pattern, 0, len(items)),
	}
	for _, item := range items {
		pattern, ok := stringLiteral(item)
		if !ok {
			s.Patterns = append(s.Patterns, string(bytes.TrimSpace(item)))
			s.compiled = append(s.compiled, nil)
			continue
		}
		// A pattern that fails to compile poisons the scope like a
		// non-string item.
		c, _ := pathmatch.Compile(pattern)
		s.Patterns = append(s.Patterns, pattern)
		s.compiled = append(s.compiled, c)
	}
	return s
}

func parseExceptions(body json.RawMessage) []*PolicyEntry {
	if kind(body) != '[' {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil
	}
	out := make([]*PolicyEntry, 0, len(items))
	for _, item := range items {
		if e, ok := parseEntry(item, true); ok {
			out = append(out, e)
		}
	}
	return out
}

// parseConditions returns nil when conditions are absent or a JSON falsy
// value (null, false, 0, ""), and a non-nil slice otherwise.
func parseConditions(body json.RawMessage) []json.RawMessage {
	switch kind(body) {
	case 0, 'n':
		return nil
	case 'f':
		return nil
	case '[':
		items := []json.RawMessage{}
		if err := json.Unmarshal(body, &items); err != nil {
			return nil
		}
		return items
	default:
		if falsy(body) {
			return nil
		}
		return []json.RawMessage{append(json.RawMessage(nil), body...)}
	}
}

// kind returns the first significant byte of a JSON value, 'n' for null,
// or 0 when the value is absent.
func kind(v []byte) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func falsy(v json.RawMessage) bool {
	if string(bytes.TrimSpace(v)) == `""` {
		return true
	}
	var f float64
	return json.Unmarshal(v, &f) == nil && f == 0
}

func stringLiteral(v json.RawMessage) (string, bool) {
	if kind(v) != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func stringValue(v json.RawMessage) string {
	s, _ := stringLiteral(v)
	return s
}

func present(v json.RawMessage) json.RawMessage {
	if kind(v) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}
