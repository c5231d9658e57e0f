// Package cdc provides a synchronization queue that moves values between two
// independently ticked simulation domains.
//
// The queue is a circular buffer with free-running write and read position
// counters. Each side of the queue observes the other side's counter only
// through a synchronizer chain of configurable depth, mirroring how a
// hardware FIFO bounds metastability risk at a clock-domain crossing. The
// full and empty indications are therefore conservative: they may lag the
// true occupancy by up to the chain depth, which trades throughput for
// safety, never correctness.
package cdc

import (
	"fmt"
	"log"
)

// Queue is a bounded FIFO whose producer and consumer live in different
// timing domains.
//
// The producer side uses CanPush, Push, and TickProducer; the consumer side
// uses CanPop, Peek, Pop, and TickConsumer. Each Tick method must be called
// exactly once per tick of its own domain.
type Queue struct {
	capacity  int
	syncDepth int

	slots []interface{}
	mask  uint64

	// Live position counters. wr is owned by the producer domain, rd by the
	// consumer domain. They run freely and wrap through the power-of-two
	// capacity mask, so occupancy arithmetic stays exact.
	wr uint64
	rd uint64

	// rdChain carries rd into the producer domain; wrChain carries wr into
	// the consumer domain. Index 0 is the freshest stage, the last index is
	// the value the receiving domain is allowed to act on.
	rdChain []uint64
	wrChain []uint64
}

// NewQueue creates a queue with the given capacity and synchronizer chain
// depth. Capacity must be a power of two. A depth of 0 means both sides
// share one domain and observe live counters; 1 models a single-register
// crossing with known phase; 2 is the standard two-stage crossing; larger
// values add margin for low-confidence timing.
func NewQueue(capacity, syncDepth int) (*Queue, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf(
			"queue capacity must be a power of two, got %d", capacity)
	}
	if syncDepth < 0 {
		return nil, fmt.Errorf(
			"synchronizer depth must be non-negative, got %d", syncDepth)
	}

	return &Queue{
		capacity:  capacity,
		syncDepth: syncDepth,
		slots:     make([]interface{}, capacity),
		mask:      uint64(capacity - 1),
		rdChain:   make([]uint64, syncDepth),
		wrChain:   make([]uint64, syncDepth),
	}, nil
}

// Capacity returns the number of slots in the queue.
func (q *Queue) Capacity() int {
	return q.capacity
}

// SyncDepth returns the synchronizer chain depth.
func (q *Queue) SyncDepth() int {
	return q.syncDepth
}

// syncedRd is the read position as visible in the producer domain.
func (q *Queue) syncedRd() uint64 {
	if q.syncDepth == 0 {
		return q.rd
	}
	return q.rdChain[q.syncDepth-1]
}

// syncedWr is the write position as visible in the consumer domain.
func (q *Queue) syncedWr() uint64 {
	if q.syncDepth == 0 {
		return q.wr
	}
	return q.wrChain[q.syncDepth-1]
}

// CanPush reports whether the producer may push this tick. It compares the
// live write position against the synchronized read position, so a queue
// that was just drained may keep reporting full for up to the chain depth
// in producer ticks.
func (q *Queue) CanPush() bool {
	return q.wr-q.syncedRd() < uint64(q.capacity)
}

// Push appends a value on the producer side. It panics when the queue is
// full; use CanPush first.
func (q *Queue) Push(v interface{}) {
	if !q.CanPush() {
		log.Panic("cdc: push into a full queue")
	}

	q.slots[q.wr&q.mask] = v
	q.wr++
}

// CanPop reports whether the consumer may pop this tick, judged against the
// synchronized write position.
func (q *Queue) CanPop() bool {
	return q.syncedWr() != q.rd
}

// Peek returns the oldest visible value without removing it, or nil when the
// queue appears empty.
func (q *Queue) Peek() interface{} {
	if !q.CanPop() {
		return nil
	}

	return q.slots[q.rd&q.mask]
}

// Pop removes and returns the oldest visible value, or nil when the queue
// appears empty.
func (q *Queue) Pop() interface{} {
	if !q.CanPop() {
		return nil
	}

	v := q.slots[q.rd&q.mask]
	q.slots[q.rd&q.mask] = nil
	q.rd++

	return v
}

// TickProducer advances the producer-domain synchronizer stages. Call once
// per producer-domain tick, before pushing.
func (q *Queue) TickProducer() {
	shiftChain(q.rdChain, q.rd)
}

// TickConsumer advances the consumer-domain synchronizer stages. Call once
// per consumer-domain tick, before popping.
func (q *Queue) TickConsumer() {
	shiftChain(q.wrChain, q.wr)
}

func shiftChain(chain []uint64, live uint64) {
	for i := len(chain) - 1; i > 0; i-- {
		chain[i] = chain[i-1]
	}
	if len(chain) > 0 {
		chain[0] = live
	}
}

// Size returns the true occupancy, ignoring synchronization lag. It is meant
// for tests and statistics, not for flow control.
func (q *Queue) Size() int {
	return int(q.wr - q.rd)
}
