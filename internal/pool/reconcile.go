package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poolwarden/poolwarden/internal/backend"
	"github.com/poolwarden/poolwarden/internal/store"
)

// healthCheckConcurrency bounds parallel backend status queries per pass.
const healthCheckConcurrency = 8

// Reconcile runs one full pass: health checks, lease expiry, warm-set
// adjustment with capacity probing, keep-alive, and rescheduling. Two
// passes never run concurrently. The next fire time is persisted even when
// the pass fails partway, so pool health self-recovers on the next cycle.
func (s *Scheduler) Reconcile(ctx context.Context) (err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconciliation panicked: %v", r)
		}
		s.reschedule(ctx)
		if s.metrics != nil {
			result := "success"
			if err != nil {
				result = "error"
			}
			s.metrics.ReconcilesTotal.WithLabelValues(result).Inc()
			s.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		}
	}()

	s.mu.Lock()
	s.cap.resetPass()
	cfg := s.cfg
	s.mu.Unlock()

	if err := s.healthCheckPass(ctx); err != nil {
		return err
	}

	if cfg.Mode == ModeLease {
		if err := s.expireLeases(ctx, cfg.AcquireTimeout); err != nil {
			return err
		}
	}

	if err := s.adjust(ctx, cfg.WarmTarget); err != nil {
		return err
	}

	s.keepAlive(ctx)
	return nil
}

// healthCheckPass queries backend liveness for every tracked non-warming
// instance and removes those reporting a non-running status. A failed
// status query is logged and the record kept: a transient backend error is
// no evidence the instance died.
func (s *Scheduler) healthCheckPass(ctx context.Context) error {
	s.mu.Lock()
	ids := s.st.healthCheckIDs()
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	dead := make(chan string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthCheckConcurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			checkStart := time.Now()
			status, err := s.backend.Status(gctx, id)
			if s.metrics != nil {
				s.metrics.HealthCheckDuration.Observe(time.Since(checkStart).Seconds())
			}
			if err != nil {
				s.logger.Warn("Health check query failed", "instanceID", id, "error", err)
				if s.metrics != nil {
					s.metrics.HealthChecksTotal.WithLabelValues("error").Inc()
				}
				return nil
			}
			if status == backend.StatusRunning {
				s.mu.Lock()
				if inst, ok := s.st.instances[id]; ok {
					inst.LastHealthCheck = time.Now()
				}
				s.mu.Unlock()
				if s.metrics != nil {
					s.metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
				}
				return nil
			}
			if s.metrics != nil {
				s.metrics.HealthChecksTotal.WithLabelValues("unhealthy").Inc()
			}
			dead <- id
			return nil
		})
	}
	_ = g.Wait()
	close(dead)

	var removed []Event
	s.mu.Lock()
	for id := range dead {
		var identity string
		if inst, ok := s.st.instances[id]; ok {
			identity = inst.Identity
		}
		if s.st.remove(id) {
			s.logger.Info("Removed dead instance", "instanceID", id)
			removed = append(removed, Event{
				Type: "removed", InstanceID: id, Identity: identity, At: time.Now(),
			})
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	if err := s.persist(ctx, snap); err != nil {
		return err
	}
	for _, ev := range removed {
		if ev.Identity != "" {
			s.cacheDelete(ctx, ev.Identity)
		}
		s.emit(ctx, ev)
	}
	return nil
}

// expireLeases returns assigned instances whose lease has outlived the
// acquire timeout to the warm set (lease mode only).
func (s *Scheduler) expireLeases(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}

	s.mu.Lock()
	ids := s.st.expiredLeases(timeout, time.Now())
	var identities []string
	for _, id := range ids {
		if inst, ok := s.st.instances[id]; ok {
			identities = append(identities, inst.Identity)
		}
		if err := s.st.release(id); err != nil {
			s.logger.Warn("Failed to release expired lease", "instanceID", id, "error", err)
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := s.persist(ctx, snap); err != nil {
		return err
	}
	for _, identity := range identities {
		s.cacheDelete(ctx, identity)
	}
	s.logger.Info("Released expired leases", "count", len(ids))
	return nil
}

// adjust drives the warm set toward the target: growing within remaining
// capacity (with at most one probe per pass when the known ceiling blocks
// growth), or shrinking by stopping surplus warm instances.
func (s *Scheduler) adjust(ctx context.Context, warmTarget int) error {
	s.mu.Lock()
	diff := warmTarget - s.st.warmCount()
	s.mu.Unlock()

	if diff > 0 {
		return s.grow(ctx, warmTarget, diff)
	}
	if diff < 0 {
		return s.shrink(ctx, -diff)
	}
	return nil
}

func (s *Scheduler) grow(ctx context.Context, warmTarget, initialDiff int) error {
	probed := false
	// One extra attempt beyond the initial gap covers the probe; anything
	// more would retry failures within the same pass, which is deferred to
	// the next cycle instead.
	attemptsLeft := initialDiff + 1

	for attemptsLeft > 0 {
		attemptsLeft--

		s.mu.Lock()
		if s.cap.exhausted {
			s.mu.Unlock()
			return nil
		}
		if warmTarget-s.st.warmCount() <= 0 {
			s.mu.Unlock()
			return nil
		}

		probe := false
		if rem, bounded := s.cap.remaining(s.usedLocked()); bounded && rem <= 0 {
			if probed {
				s.mu.Unlock()
				return nil
			}
			// Exactly one deliberate attempt past the known ceiling per
			// pass, to detect a raised backend limit.
			probe = true
			probed = true
		}
		id := s.st.reserveSlot()
		s.mu.Unlock()

		startedAt := time.Now()
		startErr := s.backend.Start(ctx, id)
		if s.metrics != nil {
			s.metrics.StartDuration.Observe(time.Since(startedAt).Seconds())
		}

		s.mu.Lock()
		if startErr != nil {
			s.st.discard(id)
			halt := false
			switch {
			case probe:
				// Probe failure leaves the ceiling untouched and ends this
				// pass's start attempts.
				s.logger.Info("Capacity probe failed, ceiling stands",
					"ceiling", *s.cap.ceiling, "error", startErr)
				halt = true
				if s.metrics != nil {
					s.metrics.ProbesTotal.WithLabelValues("failure").Inc()
				}
			case backend.IsCapacity(startErr):
				used := s.st.warmCount() + s.st.assignedCount()
				s.cap.recordHit(used)
				limit := *s.cap.ceiling
				s.logger.Info("Learned backend capacity ceiling", "ceiling", limit)
				halt = true
				if s.metrics != nil {
					s.metrics.CeilingHitsTotal.Inc()
				}
				defer s.emit(ctx, Event{Type: "ceiling_learned", Ceiling: &limit, At: time.Now()})
			default:
				s.logger.Warn("Instance start failed", "instanceID", id, "error", startErr)
			}
			snap := s.snapshotLocked()
			s.mu.Unlock()

			if s.metrics != nil {
				s.metrics.StartsTotal.WithLabelValues("failure").Inc()
			}
			if err := s.persist(ctx, snap); err != nil {
				return err
			}
			if halt {
				return nil
			}
			continue
		}

		if err := s.st.commitWarm(id); err != nil {
			s.mu.Unlock()
			return err
		}
		if probe {
			// The backend accepted a start past the known ceiling: the limit
			// was raised, so forget it. The probe is still this pass's only
			// attempt past the old ceiling; any remaining deficit is filled
			// unbounded on the next cycle.
			s.cap.clear()
			s.logger.Info("Capacity probe succeeded, ceiling cleared", "instanceID", id)
			if s.metrics != nil {
				s.metrics.ProbesTotal.WithLabelValues("success").Inc()
			}
			defer s.emit(ctx, Event{Type: "ceiling_cleared", InstanceID: id, At: time.Now()})
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.StartsTotal.WithLabelValues("success").Inc()
		}
		if err := s.persist(ctx, snap); err != nil {
			return err
		}
		s.logger.Info("Warmed new instance", "instanceID", id)
		if probe {
			return nil
		}
	}
	return nil
}

// shrink removes surplus warm instances. The record is removed under the
// lock first so concurrent acquisitions can't grab an instance that's
// about to be stopped; the backend stop itself is best-effort.
func (s *Scheduler) shrink(ctx context.Context, surplus int) error {
	s.mu.Lock()
	ids := s.st.warmIDs()
	if len(ids) > surplus {
		ids = ids[:surplus]
	}
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
			s.logger.Warn("Failed to stop surplus instance", "instanceID", id, "error", err)
		}
		s.countStop("shrink")
		s.logger.Info("Stopped surplus warm instance", "instanceID", id)
	}
	return nil
}

// keepAlive issues a best-effort liveness renewal for every warm instance
// when the backend supports it. Failures are logged, never fatal.
func (s *Scheduler) keepAlive(ctx context.Context) {
	renewer, ok := s.backend.(backend.LivenessRenewer)
	if !ok {
		return
	}

	s.mu.Lock()
	ids := s.st.warmIDs()
	s.mu.Unlock()

	for _, id := range ids {
		if err := renewer.RenewLiveness(ctx, id); err != nil {
			s.logger.Warn("Liveness renewal failed", "instanceID", id, "error", err)
		}
	}
}

// reschedule persists the next fire time. The in-process timer is armed by
// the run loop; the persisted copy lets a restarted process resume its
// schedule.
func (s *Scheduler) reschedule(ctx context.Context) {
	s.mu.Lock()
	interval := s.cfg.RefreshInterval
	s.mu.Unlock()

	if err := s.store.SetTimer(ctx, time.Now().Add(interval)); err != nil {
		s.logger.Warn("Failed to persist reconciliation alarm", "error", err)
	}
}

// StartReconciler starts the background reconciliation loop. If a persisted
// alarm is already due, a pass runs immediately; otherwise the loop waits
// out the remainder of the previous schedule.
func (s *Scheduler) StartReconciler(ctx context.Context) error {
	s.loopMu.Lock()
	if s.running {
		s.loopMu.Unlock()
		return fmt.Errorf("reconciler already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.loopMu.Unlock()

	initialDelay := s.initialDelay(ctx)
	go s.runLoop(ctx, initialDelay)
	return nil
}

func (s *Scheduler) initialDelay(ctx context.Context) time.Duration {
	at, err := s.store.GetTimer(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			s.logger.Warn("Failed to read persisted alarm", "error", err)
		}
		return 0
	}
	delay := time.Until(at)
	if delay < 0 {
		return 0
	}
	return delay
}

func (s *Scheduler) runLoop(ctx context.Context, initialDelay time.Duration) {
	defer close(s.doneCh)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := s.Reconcile(ctx); err != nil {
				// Never fatal: the cycle has already re-armed the
				// persisted alarm and the loop re-arms the timer below.
				s.logger.Error("Reconciliation pass failed", "error", err)
			}
			s.mu.Lock()
			interval := s.cfg.RefreshInterval
			s.mu.Unlock()
			timer.Reset(interval)
		}
	}
}

// StopReconciler stops the background loop and waits for it to finish.
func (s *Scheduler) StopReconciler() error {
	s.loopMu.Lock()
	if !s.running {
		s.loopMu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.running = false
	s.loopMu.Unlock()

	<-s.doneCh
	return nil
}
