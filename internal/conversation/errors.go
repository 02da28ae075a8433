package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps store failures that survived every retry. The
	// flow is kept so the user can try again without re-entering data.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEncodingFailed wraps encoder errors. The flow is discarded.
	ErrEncodingFailed = errors.New("qr encoding failed")
	// ErrDispatchFailed wraps delivery errors after the flow completed.
	ErrDispatchFailed = errors.New("qr dispatch failed")
)

// ValidationError is bad input at a step. It never leaves the engine; it
// becomes a re-prompt.
type ValidationError struct {
	Step   Step
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input at %s: %s", e.Step, e.Reason)
}

func invalid(step Step, reason string) *ValidationError {
	return &ValidationError{Step: step, Reason: reason}
}
