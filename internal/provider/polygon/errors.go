package polygon

import (
	"errors"
	"fmt"
)

// Kind categorizes upstream failures so the coordinator can count them
// without string matching.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindUpstream5xx Kind = "upstream_5xx"
	KindMalformed   Kind = "malformed"
)

// Error is a categorized upstream failure.
type Error struct {
	Kind     Kind
	Endpoint string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s: %s (HTTP %d): %v", e.Endpoint, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from any error chain; empty for
// non-upstream errors.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

func wrapErr(kind Kind, endpoint string, status int, err error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Status: status, Err: err}
}
