// Package system wires the full simulated memory subsystem: the cache
// controller in its own domain, the backing store in a slower domain, and
// the pair of domain-crossing queues between them.
package system

import (
	"fmt"

	"github.com/sarchlab/dualcache/timing/backing"
	"github.com/sarchlab/dualcache/timing/cache"
	"github.com/sarchlab/dualcache/timing/cdc"
)

// Option configures a System beyond its cache Config.
type Option func(*System)

// WithStoreDivider sets the store clock divider: the store ticks once per
// divider cache ticks. Must be at least 1.
func WithStoreDivider(divider int) Option {
	return func(s *System) {
		s.divider = divider
	}
}

// WithStorePreload writes bytes into the backing store at construction,
// before any traffic runs.
func WithStorePreload(addr uint64, data []byte) Option {
	return func(s *System) {
		s.Store.WriteBytes(addr, data)
	}
}

// System is the assembled subsystem under one tick source. Its Tick is a
// cache-domain tick; the store domain runs at the divided rate.
type System struct {
	Cache *cache.Controller
	Store *backing.Store

	down *cdc.Queue
	up   *cdc.Queue

	divider int
	ticks   uint64
}

// New builds a System from a cache configuration.
func New(cfg cache.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid system config: %w", err)
	}

	down, err := cdc.NewQueue(cfg.QueueCapacity, cfg.SyncDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to create downbound queue: %w", err)
	}
	up, err := cdc.NewQueue(cfg.QueueCapacity, cfg.SyncDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to create upbound queue: %w", err)
	}

	store, err := backing.NewStore(backing.Config{
		WordSize:  cfg.StoreWordSize,
		WordCount: cfg.StoreWordCount,
		Latency:   cfg.StoreLatency,
	}, down, up)
	if err != nil {
		return nil, fmt.Errorf("failed to create backing store: %w", err)
	}

	ctrl, err := cache.New(cfg, down, up)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache controller: %w", err)
	}

	s := &System{
		Cache:   ctrl,
		Store:   store,
		down:    down,
		up:      up,
		divider: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.divider < 1 {
		return nil, fmt.Errorf("store divider must be at least 1, got %d", s.divider)
	}

	return s, nil
}

// Tick advances the cache domain by one tick and the store domain by its
// divided share.
func (s *System) Tick() {
	s.Cache.Tick()
	s.ticks++
	if s.ticks%uint64(s.divider) == 0 {
		s.Store.Tick()
	}
}

// Run advances the system by n cache ticks.
func (s *System) Run(n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

// Ticks returns the number of cache-domain ticks elapsed.
func (s *System) Ticks() uint64 {
	return s.ticks
}

// Stats returns the cache counters.
func (s *System) Stats() cache.Stats {
	return s.Cache.Stats()
}

// Do drives one request on a port to completion: the request is re-issued
// every tick, per the hold-or-reissue contract, until the port answers
// something other than WAIT. It returns the final response and the number
// of ticks taken, or an error if maxTicks elapse first.
func (s *System) Do(
	p cache.PortID,
	req cache.Request,
	maxTicks int,
) (cache.Response, int, error) {
	for i := 1; i <= maxTicks; i++ {
		s.Cache.Submit(p, req)
		s.Tick()
		rsp := s.Cache.Response(p)
		if rsp.Status != cache.StatusWait {
			return rsp, i, nil
		}
	}
	return cache.Response{}, maxTicks,
		fmt.Errorf("port %v request at 0x%X not serviced within %d ticks",
			p, req.Address, maxTicks)
}

// Read drives a word read to completion on a port.
func (s *System) Read(
	p cache.PortID,
	addr uint64,
	maxTicks int,
) (cache.Response, error) {
	rsp, _, err := s.Do(p, cache.Request{Address: addr, Read: true}, maxTicks)
	return rsp, err
}

// Write drives a word write to completion on a port.
func (s *System) Write(
	p cache.PortID,
	addr uint64,
	data []byte,
	maxTicks int,
) (cache.Response, error) {
	rsp, _, err := s.Do(p,
		cache.Request{Address: addr, Write: true, Data: data}, maxTicks)
	return rsp, err
}

// Drain ticks until all dirty lines have been written back, after issuing
// a SyncAll. It returns an error if the store does not settle in maxTicks.
func (s *System) Drain(maxTicks int) error {
	s.Cache.SyncAll()
	for i := 0; i < maxTicks; i++ {
		s.Tick()
		if !s.Cache.HasDirty() {
			return nil
		}
	}
	return fmt.Errorf("dirty lines remain after %d ticks", maxTicks)
}
