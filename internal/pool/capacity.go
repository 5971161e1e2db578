package pool

// capacityTracker infers and remembers a ceiling on concurrently running
// instances from backend capacity failures. The ceiling is nil until a
// limit has been observed. exhausted is a per-reconciliation-pass flag:
// once tripped, no further starts are attempted in that pass.
type capacityTracker struct {
	ceiling   *int
	exhausted bool
}

// remaining returns how many more instances can be started before the last
// known ceiling, given the number currently counted against it. The second
// return is false when no ceiling has ever been observed (unbounded).
func (c *capacityTracker) remaining(inUse int) (int, bool) {
	if c.ceiling == nil {
		return 0, false
	}
	rem := *c.ceiling - inUse
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// recordHit learns the ceiling from a capacity-signaled start failure.
// committed is the warm+assigned count before the failed attempt, since
// the failed instance was never committed.
func (c *capacityTracker) recordHit(committed int) {
	ceiling := committed
	c.ceiling = &ceiling
	c.exhausted = true
}

// clear forgets the ceiling entirely. Called when a probe succeeds,
// assuming the backend limit was raised.
func (c *capacityTracker) clear() {
	c.ceiling = nil
}

// resetPass clears the per-pass exhausted flag at the start of every
// reconciliation cycle.
func (c *capacityTracker) resetPass() {
	c.exhausted = false
}
