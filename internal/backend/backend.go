package backend

import (
	"context"
	"errors"
	"fmt"
)

// InstanceStatus is the backend's view of a single instance's runtime state.
type InstanceStatus string

const (
	StatusRunning InstanceStatus = "running"
	StatusStopped InstanceStatus = "stopped"
	StatusUnknown InstanceStatus = "unknown"
)

// Adapter starts, stops, and reports the liveness status of a single
// instance identified by the pool-generated id.
// Implementations: Docker (dev), Podman (production).
type Adapter interface {
	// Start launches the instance. A backend-imposed concurrency ceiling is
	// reported as a *CapacityError; any other failure is an ordinary error.
	Start(ctx context.Context, id string) error

	// Stop stops and removes the instance. Best-effort: callers log
	// failures rather than treating them as fatal.
	Stop(ctx context.Context, id string) error

	// Status reports whether the instance is running. StatusUnknown with a
	// non-nil error means the query itself failed.
	Status(ctx context.Context, id string) (InstanceStatus, error)
}

// LivenessRenewer is an optional interface for backends that support a
// keep-alive touch on running instances.
type LivenessRenewer interface {
	RenewLiveness(ctx context.Context, id string) error
}

// CapacityError signals that the backend refused a start because its
// concurrency ceiling was reached. Adapters translate the backend's
// documented error text into this type so nothing above the adapter
// boundary matches on strings.
type CapacityError struct {
	Msg string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("backend at capacity: %s", e.Msg)
}

// IsCapacity reports whether err carries a backend capacity signal.
func IsCapacity(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}
