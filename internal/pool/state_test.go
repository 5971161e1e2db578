package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/poolwarden/poolwarden/internal/domain"
)

func TestState_Transitions(t *testing.T) {
	st := newState()

	id := st.reserveSlot()
	if st.warmingCount() != 1 {
		t.Fatalf("warmingCount = %d, want 1", st.warmingCount())
	}

	if err := st.commitWarm(id); err != nil {
		t.Fatalf("commitWarm() error = %v", err)
	}
	if st.warmCount() != 1 {
		t.Errorf("warmCount = %d, want 1", st.warmCount())
	}

	if err := st.assign(id, "user-1"); err != nil {
		t.Fatalf("assign() error = %v", err)
	}
	if st.assignedCount() != 1 {
		t.Errorf("assignedCount = %d, want 1", st.assignedCount())
	}

	inst, ok := st.instanceFor("user-1")
	if !ok || inst.ID != id {
		t.Errorf("instanceFor(user-1) = %v, %v, want %s", inst, ok, id)
	}

	if !st.remove(id) {
		t.Error("remove() = false, want true")
	}
	if _, ok := st.instanceFor("user-1"); ok {
		t.Error("assignment survived remove")
	}
	if st.remove(id) {
		t.Error("second remove() = true, want false")
	}
}

func TestState_InvalidTransitions(t *testing.T) {
	st := newState()

	if err := st.commitWarm("inst-missing"); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Errorf("commitWarm(missing) error = %v, want %v", err, domain.ErrInstanceNotFound)
	}

	id := st.reserveSlot()
	if err := st.assign(id, "user-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("assign(warming) error = %v, want %v", err, domain.ErrInvalidTransition)
	}

	if err := st.commitWarm(id); err != nil {
		t.Fatalf("commitWarm() error = %v", err)
	}
	if err := st.commitWarm(id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("double commitWarm() error = %v, want %v", err, domain.ErrInvalidTransition)
	}
	if err := st.release(id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("release(warm) error = %v, want %v", err, domain.ErrInvalidTransition)
	}
}

func TestState_Release(t *testing.T) {
	st := newState()

	id := st.reserveSlot()
	if err := st.commitWarm(id); err != nil {
		t.Fatalf("commitWarm() error = %v", err)
	}
	if err := st.assign(id, "user-1"); err != nil {
		t.Fatalf("assign() error = %v", err)
	}

	if err := st.release(id); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	if st.warmCount() != 1 || st.assignedCount() != 0 {
		t.Errorf("after release: warm %d assigned %d, want 1/0", st.warmCount(), st.assignedCount())
	}
	if _, ok := st.instanceFor("user-1"); ok {
		t.Error("identity still bound after release")
	}
	if st.instances[id].AcquiredAt != nil {
		t.Error("AcquiredAt not cleared by release")
	}
}

func TestState_PopWarm(t *testing.T) {
	st := newState()

	if inst := st.popWarm(); inst != nil {
		t.Errorf("popWarm() on empty state = %v, want nil", inst)
	}

	id := st.reserveSlot()
	if inst := st.popWarm(); inst != nil {
		t.Errorf("popWarm() with only warming = %v, want nil", inst)
	}

	if err := st.commitWarm(id); err != nil {
		t.Fatalf("commitWarm() error = %v", err)
	}
	inst := st.popWarm()
	if inst == nil || inst.ID != id {
		t.Errorf("popWarm() = %v, want %s", inst, id)
	}
}

func TestState_SnapshotRestore(t *testing.T) {
	st := newState()

	warmID := st.reserveSlot()
	if err := st.commitWarm(warmID); err != nil {
		t.Fatalf("commitWarm() error = %v", err)
	}
	assignedID := st.reserveSlot()
	if err := st.commitWarm(assignedID); err != nil {
		t.Fatalf("commitWarm() error = %v", err)
	}
	if err := st.assign(assignedID, "user-1"); err != nil {
		t.Fatalf("assign() error = %v", err)
	}
	st.reserveSlot() // in-flight, must not survive restore

	restored := newState()
	dropped := restored.restore(st.snapshot())

	if dropped != 1 {
		t.Errorf("restore() dropped = %d, want 1", dropped)
	}
	if restored.warmCount() != 1 || restored.assignedCount() != 1 || restored.warmingCount() != 0 {
		t.Errorf("restored counts = %d/%d/%d, want 1/1/0",
			restored.warmCount(), restored.assignedCount(), restored.warmingCount())
	}
	inst, ok := restored.instanceFor("user-1")
	if !ok || inst.ID != assignedID {
		t.Errorf("restored instanceFor(user-1) = %v, %v, want %s", inst, ok, assignedID)
	}
}

func TestState_ExpiredLeases(t *testing.T) {
	st := newState()

	id := st.reserveSlot()
	if err := st.commitWarm(id); err != nil {
		t.Fatalf("commitWarm() error = %v", err)
	}
	if err := st.assign(id, "user-1"); err != nil {
		t.Fatalf("assign() error = %v", err)
	}

	now := time.Now()
	if ids := st.expiredLeases(time.Hour, now); len(ids) != 0 {
		t.Errorf("fresh lease reported expired: %v", ids)
	}

	past := now.Add(-2 * time.Hour)
	st.instances[id].AcquiredAt = &past
	if ids := st.expiredLeases(time.Hour, now); len(ids) != 1 || ids[0] != id {
		t.Errorf("expiredLeases = %v, want [%s]", ids, id)
	}

	// Zero timeout disables lease expiry entirely.
	if ids := st.expiredLeases(0, now); len(ids) != 0 {
		t.Errorf("expiredLeases with zero timeout = %v, want none", ids)
	}
}
