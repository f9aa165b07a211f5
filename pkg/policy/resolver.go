package policy

import "github.com/Hyperpolymath/consent-aware-http/pkg/manifest"

// Resolve returns the entry that governs purpose at path, or nil when the
// manifest does not regulate that combination.
//
// The order is fixed by the protocol: the purpose must have an entry, the
// path must fall within the entry's scope, and only then are exceptions
// consulted. The first exception whose path matches replaces the entry,
// however general it is compared to later ones.
//
// Reaching a malformed scope item or exception path before a match also
// yields nil, so a broken entry never enforces anything.
func Resolve(m *manifest.Manifest, purpose, path string) *manifest.PolicyEntry {
	entry, ok := m.Policy(purpose)
	if !ok || entry == nil {
		return nil
	}

	inScope, err := entry.Scope.Match(path)
	if err != nil || !inScope {
		return nil
	}

	for _, exception := range entry.Exceptions {
		matched, err := exception.MatchPath(path)
		if err != nil {
			return nil
		}
		if matched {
			return exception
		}
	}

	return entry
}
