package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/equityrun/equityrun/internal/store"
	"github.com/equityrun/equityrun/internal/universe"
)

// ErrorKind labels run failures for job records and API envelopes.
type ErrorKind string

const (
	KindUniverseFloorBreached ErrorKind = "UniverseFloorBreached"
	KindLockContended         ErrorKind = "LockContended"
	KindSnapshotFailed        ErrorKind = "SnapshotFailed"
	KindStoreFailed           ErrorKind = "StoreFailed"
	KindJobTimeout            ErrorKind = "JobTimeout"
	KindCanceled              ErrorKind = "Canceled"
)

// Error is a classified run failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery run failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, defaulting to JobTimeout/Canceled for
// context errors and StoreFailed otherwise.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var floor *universe.ErrFloorBreached
	if errors.As(err, &floor) {
		return KindUniverseFloorBreached
	}
	if errors.Is(err, store.ErrLockHeld) {
		return KindLockContended
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return kindForContext(err)
	}
	return KindStoreFailed
}

// kindForContext tells an expired run deadline apart from a cancellation.
func kindForContext(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindJobTimeout
	}
	return KindCanceled
}
