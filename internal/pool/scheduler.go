package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/poolwarden/poolwarden/internal/backend"
	"github.com/poolwarden/poolwarden/internal/cache"
	"github.com/poolwarden/poolwarden/internal/domain"
	"github.com/poolwarden/poolwarden/internal/metrics"
	"github.com/poolwarden/poolwarden/internal/store"
	"github.com/poolwarden/poolwarden/pkg/logging"
)

// stateKey is the store key holding the serialized pool state.
const stateKey = "state"

// Mode selects the assignment discipline.
type Mode string

const (
	// ModeSticky binds an identity to its instance until the instance stops.
	ModeSticky Mode = "sticky"
	// ModeLease returns assigned instances to the warm set once
	// AcquireTimeout elapses without an explicit stop.
	ModeLease Mode = "lease"
)

// Config holds the pool's operating parameters. The calling layer is
// redeployed more often than persisted pool state, so Configure replaces
// the active config and the scheduler always acts on the latest one.
type Config struct {
	WarmTarget      int
	RefreshInterval time.Duration
	Mode            Mode
	AcquireTimeout  time.Duration
}

// DefaultConfig returns sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		WarmTarget:      5,
		RefreshInterval: 30 * time.Second,
		Mode:            ModeSticky,
	}
}

func (c Config) normalized() Config {
	if c.WarmTarget < 0 {
		c.WarmTarget = 0
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.Mode != ModeLease {
		c.Mode = ModeSticky
	}
	return c
}

// EventSink receives best-effort pool lifecycle notifications. Emit must
// not block for long; failures are the sink's problem.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// Event is a pool lifecycle notification.
type Event struct {
	Type       string    `json:"type"` // assigned, removed, ceiling_learned, ceiling_cleared
	InstanceID string    `json:"instance_id,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	Ceiling    *int      `json:"ceiling,omitempty"`
	At         time.Time `json:"at"`
}

// Scheduler owns the pool: the in-memory state machine, the capacity
// tracker, and the reconciliation loop. All decide-and-mutate sections run
// under one mutex; backend and store I/O happens outside it.
type Scheduler struct {
	mu  sync.Mutex // guards cfg, st, cap
	cfg Config
	st  *state
	cap *capacityTracker

	store   store.Store
	backend backend.Adapter
	lookup  cache.Lookup // optional, may be nil
	events  EventSink    // optional, may be nil
	logger  *logging.Logger
	metrics *metrics.Collector // optional, may be nil

	runMu sync.Mutex // serializes reconciliation passes

	loopMu  sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Scheduler and reloads any persisted state. Warming records
// found on reload are discarded: the prior process's in-flight starts can't
// be confirmed safely.
func New(
	cfg Config,
	st store.Store,
	be backend.Adapter,
	lookup cache.Lookup,
	events EventSink,
	logger *logging.Logger,
	m *metrics.Collector,
) (*Scheduler, error) {
	s := &Scheduler{
		cfg:     cfg.normalized(),
		st:      newState(),
		cap:     &capacityTracker{},
		store:   st,
		backend: be,
		lookup:  lookup,
		events:  events,
		logger:  logger.With("component", "pool"),
		metrics: m,
	}

	if err := s.load(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// persistedState is the durable representation of the pool.
type persistedState struct {
	Instances []domain.Instance `json:"instances"`
	Ceiling   *int              `json:"ceiling"`
}

func (s *Scheduler) load(ctx context.Context) error {
	data, err := s.store.Get(ctx, stateKey)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load pool state: %w", err)
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return fmt.Errorf("failed to decode pool state: %w", err)
	}

	dropped := s.st.restore(ps.Instances)
	s.cap.ceiling = ps.Ceiling

	if dropped > 0 {
		s.logger.Warn("Discarded in-flight warming records from previous process", "count", dropped)
	}
	s.logger.Info("Reloaded pool state",
		"warm", s.st.warmCount(), "assigned", s.st.assignedCount(), "ceiling", ps.Ceiling)
	return nil
}

// snapshotLocked copies the durable state. Caller must hold s.mu.
func (s *Scheduler) snapshotLocked() persistedState {
	return persistedState{
		Instances: s.st.snapshot(),
		Ceiling:   s.cap.ceiling,
	}
}

// persist writes a snapshot to the durable store. Runs outside the lock;
// failures propagate to the caller and in-memory state is not rolled back.
func (s *Scheduler) persist(ctx context.Context, snap persistedState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode pool state: %w", err)
	}
	if err := s.store.Put(ctx, stateKey, data); err != nil {
		return fmt.Errorf("failed to persist pool state: %w", err)
	}
	return nil
}

// Configure replaces the active configuration. Invoked before other
// operations so the pool always acts on the caller's latest config.
func (s *Scheduler) Configure(cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("Configuration replaced",
		"warmTarget", cfg.WarmTarget, "refreshInterval", cfg.RefreshInterval, "mode", cfg.Mode)
}

// usedLocked is the count held against the ceiling when deciding whether a
// start may proceed. In-flight Warming reservations are included so that
// concurrent callers can't collectively overrun the limit. Caller holds s.mu.
func (s *Scheduler) usedLocked() int {
	return s.st.warmCount() + s.st.assignedCount() + s.st.warmingCount()
}

// GetInstance returns the instance bound to identity, assigning a warm one
// or cold-starting within remaining capacity as needed. The identity ->
// instance mapping is sticky: repeated calls return the same id until the
// instance stops or fails a health check.
func (s *Scheduler) GetInstance(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", domain.ErrIdentityRequired
	}

	if id, ok, err := s.resolveExisting(ctx, identity); ok || err != nil {
		return id, err
	}

	// No live assignment. Try the warm set first.
	s.mu.Lock()
	if inst := s.st.popWarm(); inst != nil {
		if err := s.st.assign(inst.ID, identity); err != nil {
			s.mu.Unlock()
			return "", err
		}
		id := inst.ID
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if err := s.persist(ctx, snap); err != nil {
			return "", err
		}
		s.cachePut(ctx, identity, id)
		s.emit(ctx, Event{Type: "assigned", InstanceID: id, Identity: identity, At: time.Now()})
		s.countAcquisition("warm_hit")
		return id, nil
	}

	// Cold start, but only within remaining capacity.
	if rem, bounded := s.cap.remaining(s.usedLocked()); bounded && rem <= 0 {
		used := s.st.warmCount() + s.st.assignedCount()
		limit := *s.cap.ceiling
		s.mu.Unlock()
		s.countAcquisition("capacity_exceeded")
		return "", &domain.CapacityExceededError{Used: used, Limit: limit}
	}
	id := s.st.reserveSlot()
	s.mu.Unlock()

	startErr := s.backend.Start(ctx, id)

	s.mu.Lock()
	if startErr != nil {
		s.st.discard(id)
		if backend.IsCapacity(startErr) {
			used := s.st.warmCount() + s.st.assignedCount()
			s.cap.recordHit(used)
			limit := *s.cap.ceiling
			snap := s.snapshotLocked()
			s.mu.Unlock()

			if err := s.persist(ctx, snap); err != nil {
				s.logger.Error("Failed to persist learned ceiling", "error", err)
			}
			s.emit(ctx, Event{Type: "ceiling_learned", Ceiling: &limit, At: time.Now()})
			s.countAcquisition("capacity_exceeded")
			return "", &domain.CapacityExceededError{Used: used, Limit: limit}
		}
		s.mu.Unlock()
		s.countAcquisition("start_failed")
		return "", &domain.StartError{Err: startErr}
	}

	if err := s.st.commitWarm(id); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if err := s.st.assign(id, identity); err != nil {
		s.mu.Unlock()
		return "", err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist(ctx, snap); err != nil {
		return "", err
	}
	s.cachePut(ctx, identity, id)
	s.emit(ctx, Event{Type: "assigned", InstanceID: id, Identity: identity, At: time.Now()})
	s.countAcquisition("cold_start")
	return id, nil
}

// resolveExisting handles the sticky-hit path: if identity already owns an
// instance, verify it against the backend and either return it or repair
// the stale mapping transparently. ok is true when the caller should stop
// (hit found or error).
func (s *Scheduler) resolveExisting(ctx context.Context, identity string) (string, bool, error) {
	s.mu.Lock()
	inst, found := s.st.instanceFor(identity)
	if !found {
		s.mu.Unlock()
		s.dropStaleCacheEntry(ctx, identity)
		return "", false, nil
	}
	id := inst.ID
	s.mu.Unlock()

	status, err := s.backend.Status(ctx, id)
	if err == nil && status == backend.StatusRunning {
		s.mu.Lock()
		if cur, ok := s.st.instances[id]; ok {
			cur.LastHealthCheck = time.Now()
		}
		s.mu.Unlock()
		s.cachePut(ctx, identity, id)
		s.countAcquisition("sticky_hit")
		return id, true, nil
	}
	if err != nil {
		s.logger.Warn("Liveness check failed for assigned instance, keeping mapping",
			"instanceID", id, "identity", identity, "error", err)
		s.countAcquisition("sticky_hit")
		return id, true, nil
	}

	// Backend says the instance is gone: repair the dead mapping and let
	// the caller fall through to a fresh assignment.
	s.logger.Info("Removing stale assignment", "instanceID", id, "identity", identity)
	s.mu.Lock()
	removed := s.st.remove(id)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if removed {
		if err := s.persist(ctx, snap); err != nil {
			return "", true, err
		}
		s.cacheDelete(ctx, identity)
		s.emit(ctx, Event{Type: "removed", InstanceID: id, Identity: identity, At: time.Now()})
	}
	return "", false, nil
}

// ReportStopped removes the instance unconditionally. Idempotent; serves as
// an out-of-band liveness push so the pool reacts faster than the next
// reconciliation cycle.
func (s *Scheduler) ReportStopped(ctx context.Context, id string) error {
	s.mu.Lock()
	var identity string
	if inst, ok := s.st.instances[id]; ok {
		identity = inst.Identity
	}
	removed := s.st.remove(id)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if !removed {
		return nil
	}
	if err := s.persist(ctx, snap); err != nil {
		return err
	}
	if identity != "" {
		s.cacheDelete(ctx, identity)
	}
	s.emit(ctx, Event{Type: "removed", InstanceID: id, Identity: identity, At: time.Now()})
	s.logger.Info("Instance reported stopped", "instanceID", id)
	return nil
}

// ShutdownIdle stops and removes every warm (unassigned) instance.
// Assigned instances are untouched.
func (s *Scheduler) ShutdownIdle(ctx context.Context) error {
	s.mu.Lock()
	ids := s.st.warmIDs()
	for _, id := range ids {
		s.st.remove(id)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := s.persist(ctx, snap); err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.backend.Stop(ctx, id); err != nil {
			s.logger.Warn("Failed to stop idle instance", "instanceID", id, "error", err)
		}
		s.countStop("drain")
	}
	s.logger.Info("Shut down idle instances", "count", len(ids))
	return nil
}

// Stats returns a point-in-time view of the pool.
func (s *Scheduler) Stats() domain.PoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.PoolStats{
		Warm:       s.st.warmCount(),
		Assigned:   s.st.assignedCount(),
		Warming:    s.st.warmingCount(),
		WarmTarget: s.cfg.WarmTarget,
		Refresh:    s.cfg.RefreshInterval,
	}
	stats.Total = stats.Warm + stats.Assigned + stats.Warming
	if s.cap.ceiling != nil {
		c := *s.cap.ceiling
		stats.Ceiling = &c
	}
	return stats
}

// cachePut refreshes the external lookup cache. Best-effort.
func (s *Scheduler) cachePut(ctx context.Context, identity, id string) {
	if s.lookup == nil {
		return
	}
	if err := s.lookup.Put(ctx, identity, id); err != nil {
		s.logger.Warn("Failed to refresh lookup cache", "identity", identity, "error", err)
	}
}

// cacheDelete invalidates the external lookup cache. Best-effort.
func (s *Scheduler) cacheDelete(ctx context.Context, identity string) {
	if s.lookup == nil {
		return
	}
	if err := s.lookup.Delete(ctx, identity); err != nil {
		s.logger.Warn("Failed to invalidate lookup cache", "identity", identity, "error", err)
	}
}

// dropStaleCacheEntry removes a cache entry that no longer has an
// authoritative assignment behind it.
func (s *Scheduler) dropStaleCacheEntry(ctx context.Context, identity string) {
	if s.lookup == nil {
		return
	}
	if _, err := s.lookup.Get(ctx, identity); err == nil {
		s.cacheDelete(ctx, identity)
	}
}

// emit publishes a lifecycle event. Best-effort.
func (s *Scheduler) emit(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, ev)
}

func (s *Scheduler) countAcquisition(result string) {
	if s.metrics != nil {
		s.metrics.AcquisitionsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Scheduler) countStop(reason string) {
	if s.metrics != nil {
		s.metrics.StopsTotal.WithLabelValues(reason).Inc()
	}
}
