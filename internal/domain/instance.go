package domain

import "time"

// Status represents the lifecycle state of a pooled instance.
type Status string

const (
	StatusWarming  Status = "warming"  // Start decided, backend call in flight
	StatusWarm     Status = "warm"     // Started, healthy, unassigned
	StatusAssigned Status = "assigned" // Bound 1:1 to a caller identity
)

// Instance is a single unit of pooled compute capacity. A stopped instance
// has no terminal record: it is deleted outright.
type Instance struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	Identity        string     `json:"identity,omitempty"` // set only while assigned
	CreatedAt       time.Time  `json:"created_at"`
	WarmedAt        time.Time  `json:"warmed_at,omitempty"`
	LastHealthCheck time.Time  `json:"last_health_check,omitempty"`
	AcquiredAt      *time.Time `json:"acquired_at,omitempty"` // lease mode only
}

// LeaseExpired reports whether an assigned instance has held its lease
// longer than the given timeout. Always false for unassigned instances
// or when no acquisition time was recorded.
func (i *Instance) LeaseExpired(timeout time.Duration, now time.Time) bool {
	if i.Status != StatusAssigned || i.AcquiredAt == nil || timeout <= 0 {
		return false
	}
	return now.Sub(*i.AcquiredAt) > timeout
}
