package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInstanceNotFound is returned when the requested instance isn't tracked.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrIdentityRequired is returned when an acquire call carries no identity.
	ErrIdentityRequired = errors.New("identity is required")

	// ErrInvalidTransition is returned by the state machine when an operation's
	// precondition doesn't hold (e.g. assigning a non-warm instance).
	ErrInvalidTransition = errors.New("invalid instance state transition")
)

// CapacityExceededError is returned when the backend's concurrency ceiling
// has been reached. Used and Limit describe utilization at rejection time
// so callers can report it. Recoverable: retrying later may succeed.
type CapacityExceededError struct {
	Used  int
	Limit int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("backend capacity exceeded: %d of %d instances in use", e.Used, e.Limit)
}

// IsCapacityExceeded reports whether err is a CapacityExceededError.
func IsCapacityExceeded(err error) bool {
	var ce *CapacityExceededError
	return errors.As(err, &ce)
}

// StartError wraps a non-capacity backend failure during instance start.
// The reserved record has been discarded; the caller may retry.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("instance start failed: %v", e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
