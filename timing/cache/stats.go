package cache

// Stats holds cache performance and event counters.
type Stats struct {
	// Reads and Writes count accepted, well-formed client requests.
	Reads  uint64
	Writes uint64

	// Hits and Misses classify lookups. A request that waited for a busy
	// bin and then found the line resident counts as a hit.
	Hits   uint64
	Misses uint64

	// Evictions counts valid lines replaced by a refill. Writebacks counts
	// dirty line transfers to the backing store, whether from eviction or
	// from sync commands. Refills counts completed line fetches.
	Evictions  uint64
	Writebacks uint64
	Refills    uint64

	// DualWriteConflicts counts same-tick same-address write collisions
	// between the two ports.
	DualWriteConflicts uint64

	// Invalidations and Syncs count executed coherence commands, one per
	// affected line.
	Invalidations uint64
	Syncs         uint64
}

// HitRate returns the fraction of lookups that hit.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
