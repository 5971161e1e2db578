package pool

import "testing"

func TestCapacityTracker_Unbounded(t *testing.T) {
	c := &capacityTracker{}

	if _, bounded := c.remaining(10); bounded {
		t.Error("remaining() bounded = true before any hit")
	}
}

func TestCapacityTracker_RecordHit(t *testing.T) {
	c := &capacityTracker{}

	c.recordHit(3)

	rem, bounded := c.remaining(2)
	if !bounded || rem != 1 {
		t.Errorf("remaining(2) = %d, %v, want 1, true", rem, bounded)
	}
	if !c.exhausted {
		t.Error("exhausted = false after hit")
	}

	// Usage at or above the ceiling clamps to zero.
	if rem, _ := c.remaining(3); rem != 0 {
		t.Errorf("remaining(3) = %d, want 0", rem)
	}
	if rem, _ := c.remaining(5); rem != 0 {
		t.Errorf("remaining(5) = %d, want 0", rem)
	}
}

func TestCapacityTracker_ClearAndReset(t *testing.T) {
	c := &capacityTracker{}
	c.recordHit(2)

	c.resetPass()
	if c.exhausted {
		t.Error("exhausted survived resetPass")
	}
	if _, bounded := c.remaining(0); !bounded {
		t.Error("ceiling lost by resetPass")
	}

	c.clear()
	if _, bounded := c.remaining(0); bounded {
		t.Error("ceiling survived clear")
	}
}
