// Package pathmatch implements the restricted glob syntax used by AIBDP
// manifests to scope policies to request paths.
//
// Supported tokens:
//
//	**  any run of characters, including "/"
//	*   any run of characters except "/"
//	?   exactly one character
//
// Every other character matches itself. The literal pattern "all" matches
// every path. Patterns are anchored at both ends: a pattern never matches a
// prefix or a suffix of a path, only the whole path.
package pathmatch

import (
	"regexp"
	"strings"
)

// All is the scope keyword that matches any path unconditionally.
const All = "all"

// Pattern is a compiled path pattern. The zero value never matches.
// A Pattern is immutable and safe for concurrent use.
type Pattern struct {
	source string
	all    bool
	re     *regexp.Regexp
}

// Compile translates a glob pattern into an anchored regular expression.
func Compile(pattern string) (*Pattern, error) {
	if pattern == All {
		return &Pattern{source: pattern, all: true}, nil
	}

	re, err := regexp.Compile(translate(pattern))
	if err != nil {
		return nil, err
	}
	return &Pattern{source: pattern, re: re}, nil
}

// MustCompile is like Compile but panics if the pattern cannot be compiled.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic("pathmatch: Compile(" + pattern + "): " + err.Error())
	}
	return p
}

// Match reports whether path is matched in full by the pattern.
func (p *Pattern) Match(path string) bool {
	if p == nil {
		return false
	}
	if p.all {
		return true
	}
	if p.re == nil {
		return false
	}
	return p.re.MatchString(path)
}

// String returns the pattern as written in the manifest.
func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Match compiles pattern and reports whether it matches path. Patterns that
// fail to compile match nothing.
func Match(path, pattern string) bool {
	p, err := Compile(pattern)
	if err != nil {
		return false
	}
	return p.Match(path)
}

// translate converts the glob into regexp source in a single pass so that
// "**" is consumed before a lone "*" is considered.
func translate(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 16)
	// (?s) lets "." cross newlines so "?" and "**" really mean any character.
	b.WriteString(`(?s)\A`)

	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(`.*`)
			i += 2
		case pattern[i] == '*':
			b.WriteString(`[^/]*`)
			i++
		case pattern[i] == '?':
			b.WriteString(`.`)
			i++
		default:
			// Copy a run of literal bytes at once; QuoteMeta escapes "."
			// and every other metacharacter.
			j := i
			for j < len(pattern) && pattern[j] != '*' && pattern[j] != '?' {
				j++
			}
			b.WriteString(regexp.QuoteMeta(pattern[i:j]))
			i = j
		}
	}

	b.WriteString(`\z`)
	return b.String()
}
