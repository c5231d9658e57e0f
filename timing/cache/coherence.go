package cache

// Coherence commands arrive from an external agent and are fire-and-forget:
// there is no per-command completion handshake. Commands execute in issue
// order on the backing-facing engine and take priority over new port
// requests, so their completion time is bounded by the transactions already
// in flight when they were issued.

// Invalidate drops the line holding addr, if resident. Dirty contents are
// discarded without a writeback; the issuing agent asserts an up-to-date
// copy exists elsewhere. A command against a line with an in-flight
// transaction or hit queues behind it.
func (c *Controller) Invalidate(addr uint64) {
	c.engine.coherence = append(c.engine.coherence,
		coherenceCmd{op: cohInvalidate, addr: addr})
}

// InvalidateAll drops every resident line. Like Invalidate, it is
// destructive: dirty lines are lost unless a Sync or SyncAll was issued
// first.
func (c *Controller) InvalidateAll() {
	c.engine.coherence = append(c.engine.coherence,
		coherenceCmd{op: cohInvalidateAll})
}

// Sync writes the line holding addr back to the store if it is resident
// and dirty. The line stays resident and becomes clean.
func (c *Controller) Sync(addr uint64) {
	c.engine.coherence = append(c.engine.coherence,
		coherenceCmd{op: cohSync, addr: addr})
}

// SyncAll writes every dirty line back to the store, one after another.
// All lines stay resident and become clean.
func (c *Controller) SyncAll() {
	c.engine.coherence = append(c.engine.coherence,
		coherenceCmd{op: cohSyncAll})
}
