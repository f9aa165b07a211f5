package manifest

import (
	"errors"
	"fmt"
)

// ErrInvalidManifest is matched by every error returned from Parse.
var ErrInvalidManifest = errors.New("invalid aibdp manifest")

// ParseError reports a manifest that cannot be interpreted at all. Field
// is empty when the document itself is not a JSON object.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("aibdp manifest: %v", e.Err)
	}
	return fmt.Sprintf("aibdp manifest: field %q: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrInvalidManifest, e.Err}
}

// ErrMalformedPattern is matched by errors from resolving a scope item or
// exception path that is not a usable pattern.
var ErrMalformedPattern = errors.New("malformed path pattern")

// PatternError reports the offending pattern. Pattern holds the raw JSON
// text for items that were not strings, and is empty for a missing path.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("aibdp manifest: malformed path pattern %q", e.Pattern)
}

func (e *PatternError) Unwrap() error {
	return ErrMalformedPattern
}
