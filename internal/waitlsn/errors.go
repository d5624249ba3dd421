package waitlsn

import (
	"errors"
	"fmt"
)

// WaitCode categorizes how a wait episode ended without being satisfied.
type WaitCode string

const (
	// CodeTimedOut indicates the deadline elapsed before the target was
	// replayed.
	CodeTimedOut WaitCode = "TIMED_OUT"

	// CodeReplayEnded indicates replay stopped before the target was
	// replayed. The position will never reach the target.
	CodeReplayEnded WaitCode = "REPLAY_ENDED"

	// CodeCancelled indicates the caller's context was cancelled.
	CodeCancelled WaitCode = "CANCELLED"

	// CodePreconditionFailed indicates the wait was rejected before any
	// registration happened: replay is not active and the target is unmet,
	// or an integration precondition hook vetoed the call.
	CodePreconditionFailed WaitCode = "PRECONDITION_FAILED"
)

// WaitError is the failure outcome of one wait episode.
//
// Target is the LSN that was awaited. LastPosition is the replay position
// last observed by the episode; for precondition failures it is the position
// at call time. The registry entry is guaranteed to be removed before a
// WaitError surfaces.
type WaitError struct {
	Code         WaitCode
	Target       LSN
	LastPosition LSN
	Err          error // underlying cause (precondition hook error, ctx error)
}

// Error implements the error interface.
func (e *WaitError) Error() string {
	msg := fmt.Sprintf("%s: waiting for LSN %s, replay position %s", e.Code, e.Target, e.LastPosition)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *WaitError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a TIMED_OUT wait outcome.
// Uses errors.As to handle wrapped errors.
func IsTimeout(err error) bool {
	var we *WaitError
	return errors.As(err, &we) && we.Code == CodeTimedOut
}

// IsAborted returns true if the episode was cut short by replay ending or
// caller cancellation, as opposed to timing out.
func IsAborted(err error) bool {
	var we *WaitError
	if !errors.As(err, &we) {
		return false
	}
	return we.Code == CodeReplayEnded || we.Code == CodeCancelled
}

// IsPrecondition returns true if the wait was rejected before registration.
func IsPrecondition(err error) bool {
	var we *WaitError
	return errors.As(err, &we) && we.Code == CodePreconditionFailed
}
