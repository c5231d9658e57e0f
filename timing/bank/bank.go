// Package bank models a dual-port storage array with a fixed access latency.
//
// The bank is pure mechanism: two independent ports onto one byte array,
// each port a pipeline of configurable depth. It applies no policy and
// never blocks. Cross-port ordering is undefined except for two rules:
// a same-tick read and write to one address return the pre-write bytes to
// the reader, and two same-tick writes to one address have a single winner
// (the higher-numbered port). Callers that care are expected to have
// excluded the second case already.
package bank

import (
	"fmt"
	"log"
)

const (
	// MinLatency and MaxLatency bound the configurable pipeline depth in
	// ticks between a request and its data becoming available.
	MinLatency = 2
	MaxLatency = 4
)

// PortCount is the number of independent access ports.
const PortCount = 2

// Op describes one port access issued in the current tick.
type Op struct {
	// Addr is the byte address within the bank.
	Addr uint64

	// Write selects the operation. False reads Size bytes; true writes Data.
	Write bool

	// Data holds the bytes to write.
	Data []byte

	// Mask optionally enables individual bytes of Data. A nil mask writes
	// every byte.
	Mask []bool

	// Size is the number of bytes to read.
	Size int
}

// Result is the data produced by a completed operation. Reads carry the
// sampled bytes; writes carry a nil Data.
type Result struct {
	Addr uint64
	Data []byte
}

type flight struct {
	op   Op
	data []byte
	left int
}

// Bank is a two-port fixed-latency storage array.
type Bank struct {
	latency int
	data    []byte

	pending [PortCount]*Op
	flights [PortCount][]flight
	out     [PortCount]Result
	outOK   [PortCount]bool
}

// New creates a bank of the given size in bytes. Latency must be between
// MinLatency and MaxLatency ticks.
func New(size, latency int) (*Bank, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bank size must be positive, got %d", size)
	}
	if latency < MinLatency || latency > MaxLatency {
		return nil, fmt.Errorf("bank latency must be between %d and %d ticks, got %d",
			MinLatency, MaxLatency, latency)
	}

	return &Bank{
		latency: latency,
		data:    make([]byte, size),
	}, nil
}

// Latency returns the configured pipeline depth in ticks.
func (b *Bank) Latency() int {
	return b.latency
}

// Size returns the bank capacity in bytes.
func (b *Bank) Size() int {
	return len(b.data)
}

// CanAccept reports whether the port can take a new operation this tick.
// The bank accepts at most one operation per port per tick and holds at
// most latency operations in flight per port.
func (b *Bank) CanAccept(port int) bool {
	return b.pending[port] == nil && len(b.flights[port]) < b.latency
}

// Access issues an operation on the given port for the current tick. It
// panics when the port cannot accept; use CanAccept first.
func (b *Bank) Access(port int, op Op) {
	if !b.CanAccept(port) {
		log.Panicf("bank: port %d cannot accept an operation this tick", port)
	}
	b.checkBounds(op)

	opCopy := op
	b.pending[port] = &opCopy
}

// Tick advances both port pipelines by one tick. Operations issued this
// tick sample (reads) or commit (writes) now; their results become visible
// through Output after the configured latency.
func (b *Bank) Tick() {
	for p := range b.outOK {
		b.outOK[p] = false
	}

	// Reads sample the array before any of this tick's writes commit, so a
	// same-tick read and write to one address observe the pre-write value.
	var sampled [PortCount][]byte
	for p, op := range b.pending {
		if op == nil || op.Write {
			continue
		}
		data := make([]byte, op.Size)
		copy(data, b.data[op.Addr:op.Addr+uint64(op.Size)])
		sampled[p] = data
	}

	// Writes commit in port order, making the higher-numbered port the
	// single winner of a same-tick write collision.
	for _, op := range b.pending {
		if op == nil || !op.Write {
			continue
		}
		for i, v := range op.Data {
			if op.Mask == nil || op.Mask[i] {
				b.data[op.Addr+uint64(i)] = v
			}
		}
	}

	for p := range b.pending {
		if op := b.pending[p]; op != nil {
			b.flights[p] = append(b.flights[p], flight{
				op:   *op,
				data: sampled[p],
				left: b.latency,
			})
			b.pending[p] = nil
		}
	}

	for p := range b.flights {
		remaining := b.flights[p][:0]
		for i := range b.flights[p] {
			f := b.flights[p][i]
			f.left--
			if f.left == 0 {
				b.out[p] = Result{Addr: f.op.Addr, Data: f.data}
				b.outOK[p] = true
				continue
			}
			remaining = append(remaining, f)
		}
		b.flights[p] = remaining
	}
}

// Output returns the result that drained from the port's pipeline during
// the last Tick. The result is valid for exactly one tick.
func (b *Bank) Output(port int) (Result, bool) {
	return b.out[port], b.outOK[port]
}

// Peek copies bytes out of the array directly, bypassing the port
// pipelines. It serves line transfers whose timing is accounted for
// elsewhere, and tests.
func (b *Bank) Peek(addr uint64, size int) []byte {
	data := make([]byte, size)
	copy(data, b.data[addr:addr+uint64(size)])
	return data
}

// Poke writes bytes into the array directly, bypassing the port pipelines.
func (b *Bank) Poke(addr uint64, data []byte) {
	copy(b.data[addr:addr+uint64(len(data))], data)
}

func (b *Bank) checkBounds(op Op) {
	size := op.Size
	if op.Write {
		size = len(op.Data)
	}
	if op.Addr+uint64(size) > uint64(len(b.data)) {
		log.Panicf("bank: access at 0x%X size %d exceeds bank size %d",
			op.Addr, size, len(b.data))
	}
}
