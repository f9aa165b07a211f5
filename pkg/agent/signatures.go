package agent

import "regexp"

// Signature identifies a known automated agent by its user-agent token.
type Signature struct {
	Name    string
	Pattern *regexp.Regexp
}

// PurposeRule maps a user-agent token to the purpose that agent is assumed
// to serve when it does not declare one.
type PurposeRule struct {
	Pattern *regexp.Regexp
	Purpose string
}

func sig(name string) Signature {
	return Signature{Name: name, Pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name))}
}

func rule(token, purpose string) PurposeRule {
	return PurposeRule{Pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(token)), Purpose: purpose}
}

// DefaultSignatures is the registry of known AI crawlers and search bots.
// Order is significant only for reporting: the first match is the one named.
var DefaultSignatures = []Signature{
	sig("GPTBot"),
	sig("ChatGPT-User"),
	sig("Claude-Web"),
	sig("anthropic-ai"),
	sig("Google-Extended"),
	sig("CCBot"),
	sig("Googlebot"),
	sig("Bingbot"),
	sig("Slurp"),
	sig("DuckDuckBot"),
	sig("Baiduspider"),
	sig("YandexBot"),
	sig("Sogou"),
	sig("Exabot"),
	sig("facebookexternalhit"),
	sig("ia_archiver"),
	sig("PerplexityBot"),
	sig("Omgilibot"),
	sig("Diffbot"),
}

// DefaultPurposeRules infers a purpose for agents that send no AI-Purpose
// header. First match wins.
var DefaultPurposeRules = []PurposeRule{
	rule("GPTBot", "training"),
	rule("Claude-Web", "indexing"),
	rule("Google-Extended", "training"),
	rule("Googlebot", "indexing"),
}
