package optimistic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quadrant/api/internal/gate"
	"quadrant/api/internal/lock"
	"quadrant/api/internal/store"
)

// FailureKind is the taxonomy surfaced to the UI when a staged
// mutation rolls back. Every kind is recovered locally by rollback;
// none corrupts the visible state.
type FailureKind string

const (
	LockConflict   FailureKind = "LockConflict"
	LockExpired    FailureKind = "LockExpired"
	Validation     FailureKind = "ValidationError"
	RateLimited    FailureKind = "RateLimited"
	StaleWrite     FailureKind = "StaleWrite"
	Timeout        FailureKind = "Timeout"
	NetworkFailure FailureKind = "NetworkFailure"
)

// Failure describes why a pending operation rolled back.
type Failure struct {
	Kind FailureKind
	// Subkind is set for Validation failures (TooLong, EmojiOnly, …).
	Subkind gate.Subkind
	// RetryAfter is set for RateLimited failures.
	RetryAfter time.Duration
	// Holder is set for LockConflict failures.
	Holder string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// classify maps pipeline errors onto the taxonomy. NotFound folds into
// StaleWrite: either way the caller's view of the idea is behind the
// canonical state and a re-read is the recovery.
func classify(err error) *Failure {
	var conflict *lock.ConflictError
	if errors.As(err, &conflict) {
		return &Failure{Kind: LockConflict, Holder: conflict.HolderID, Err: err}
	}
	if errors.Is(err, lock.ErrNotHolder) {
		return &Failure{Kind: LockExpired, Err: err}
	}
	var verr *gate.ValidationError
	if errors.As(err, &verr) {
		return &Failure{Kind: Validation, Subkind: verr.Subkind, Err: err}
	}
	var rle *gate.RateLimitError
	if errors.As(err, &rle) {
		return &Failure{Kind: RateLimited, RetryAfter: rle.RetryAfter, Err: err}
	}
	if errors.Is(err, gate.ErrSessionFull) {
		return &Failure{Kind: RateLimited, Err: err}
	}
	if errors.Is(err, store.ErrStaleWrite) || errors.Is(err, store.ErrNotFound) {
		return &Failure{Kind: StaleWrite, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: Timeout, Err: err}
	}
	return &Failure{Kind: NetworkFailure, Err: err}
}
