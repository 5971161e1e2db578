package pool

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/poolwarden/poolwarden/internal/domain"
)

// state holds the authoritative in-memory view of every tracked instance
// plus the identity -> instance assignment map. It performs only valid
// transitions and never does I/O; the scheduler owns the lock around it
// and persists after each mutation.
type state struct {
	instances   map[string]*domain.Instance
	assignments map[string]string // identity -> instance id
}

func newState() *state {
	return &state{
		instances:   make(map[string]*domain.Instance),
		assignments: make(map[string]string),
	}
}

// reserveSlot allocates a new instance id and inserts a Warming record
// before any backend call is made, so concurrent operations can't
// double-count the slot. Never fails.
func (s *state) reserveSlot() string {
	id := "inst-" + uuid.New().String()
	s.instances[id] = &domain.Instance{
		ID:        id,
		Status:    domain.StatusWarming,
		CreatedAt: time.Now(),
	}
	return id
}

// commitWarm transitions Warming -> Warm after a successful backend start.
func (s *state) commitWarm(id string) error {
	inst, ok := s.instances[id]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	if inst.Status != domain.StatusWarming {
		return fmt.Errorf("%w: commitWarm on %s instance", domain.ErrInvalidTransition, inst.Status)
	}
	inst.Status = domain.StatusWarm
	inst.WarmedAt = time.Now()
	return nil
}

// discard removes a record whose backend start failed. Idempotent.
func (s *state) discard(id string) {
	delete(s.instances, id)
}

// assign transitions Warm -> Assigned and records the owning identity.
func (s *state) assign(id, identity string) error {
	inst, ok := s.instances[id]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	if inst.Status != domain.StatusWarm {
		return fmt.Errorf("%w: assign on %s instance", domain.ErrInvalidTransition, inst.Status)
	}
	inst.Status = domain.StatusAssigned
	inst.Identity = identity
	now := time.Now()
	inst.AcquiredAt = &now
	s.assignments[identity] = id
	return nil
}

// release transitions Assigned -> Warm, clearing the identity binding.
// Used by the lease-mode discipline when an acquisition times out.
func (s *state) release(id string) error {
	inst, ok := s.instances[id]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	if inst.Status != domain.StatusAssigned {
		return fmt.Errorf("%w: release on %s instance", domain.ErrInvalidTransition, inst.Status)
	}
	delete(s.assignments, inst.Identity)
	inst.Status = domain.StatusWarm
	inst.Identity = ""
	inst.AcquiredAt = nil
	return nil
}

// remove deletes the record and any assignment-map entry pointing to it.
// Idempotent; returns whether anything was actually removed so callers can
// skip the persist when nothing changed.
func (s *state) remove(id string) bool {
	inst, ok := s.instances[id]
	if !ok {
		return false
	}
	if inst.Identity != "" {
		delete(s.assignments, inst.Identity)
	}
	delete(s.instances, id)
	return true
}

// instanceFor returns the instance currently assigned to identity.
func (s *state) instanceFor(identity string) (*domain.Instance, bool) {
	id, ok := s.assignments[identity]
	if !ok {
		return nil, false
	}
	inst, ok := s.instances[id]
	return inst, ok
}

// popWarm picks an arbitrary warm instance, or nil when none exists.
// The record stays tracked; the caller follows up with assign or remove.
func (s *state) popWarm() *domain.Instance {
	for _, inst := range s.instances {
		if inst.Status == domain.StatusWarm {
			return inst
		}
	}
	return nil
}

func (s *state) warmCount() int     { return s.countByStatus(domain.StatusWarm) }
func (s *state) assignedCount() int { return s.countByStatus(domain.StatusAssigned) }
func (s *state) warmingCount() int  { return s.countByStatus(domain.StatusWarming) }

func (s *state) countByStatus(status domain.Status) int {
	n := 0
	for _, inst := range s.instances {
		if inst.Status == status {
			n++
		}
	}
	return n
}

// warmIDs returns the ids of all warm instances.
func (s *state) warmIDs() []string {
	ids := make([]string, 0)
	for id, inst := range s.instances {
		if inst.Status == domain.StatusWarm {
			ids = append(ids, id)
		}
	}
	return ids
}

// healthCheckIDs returns every tracked instance except those still Warming:
// a start is in flight for those and checking them would race with it.
func (s *state) healthCheckIDs() []string {
	ids := make([]string, 0, len(s.instances))
	for id, inst := range s.instances {
		if inst.Status != domain.StatusWarming {
			ids = append(ids, id)
		}
	}
	return ids
}

// expiredLeases returns the ids of assigned instances whose lease has
// outlived timeout.
func (s *state) expiredLeases(timeout time.Duration, now time.Time) []string {
	ids := make([]string, 0)
	for id, inst := range s.instances {
		if inst.LeaseExpired(timeout, now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// snapshot copies all instance records for persistence. Assignments are
// not stored separately: they're rebuilt from the identity fields on load.
func (s *state) snapshot() []domain.Instance {
	out := make([]domain.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	return out
}

// restore rebuilds the in-memory view from persisted records. Warming
// records are dropped: a prior process's in-flight start can't be
// confirmed, so they're treated as failed. Returns how many were dropped.
func (s *state) restore(records []domain.Instance) int {
	dropped := 0
	for i := range records {
		inst := records[i]
		if inst.Status == domain.StatusWarming {
			dropped++
			continue
		}
		copied := inst
		s.instances[copied.ID] = &copied
		if copied.Status == domain.StatusAssigned && copied.Identity != "" {
			s.assignments[copied.Identity] = copied.ID
		}
	}
	return dropped
}
