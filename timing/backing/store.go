// Package backing models the backing store behind the cache: a
// byte-addressable word array with a fixed response latency and burst
// transfers, running in its own timing domain.
//
// The store communicates with the cache controller exclusively through two
// cdc queues: commands and write data arrive on the downbound queue, read
// data and write acks leave on the upbound queue. It processes one command
// at a time, waits the configured latency, then moves one word per tick as
// queue flow control allows.
package backing

import (
	"fmt"
	"log"

	"github.com/sarchlab/dualcache/timing/cdc"
)

// Config holds backing store parameters.
type Config struct {
	// WordSize is the store word width in bytes. Must be a power of two
	// between 1 and 8.
	WordSize int `json:"word_size"`

	// WordCount is the store capacity in words.
	WordCount uint64 `json:"word_count"`

	// Latency is the fixed number of store ticks between accepting a
	// command and moving its first word.
	Latency int `json:"latency"`
}

// Validate checks the configuration. Invalid combinations are a
// construction failure, never a runtime fallback.
func (c Config) Validate() error {
	if c.WordSize <= 0 || c.WordSize > 8 || c.WordSize&(c.WordSize-1) != 0 {
		return fmt.Errorf(
			"store word size must be a power of two between 1 and 8, got %d",
			c.WordSize)
	}
	if c.WordCount == 0 {
		return fmt.Errorf("store word count must be positive")
	}
	if c.Latency < 1 {
		return fmt.Errorf("store latency must be at least 1 tick, got %d",
			c.Latency)
	}
	return nil
}

// Size returns the store capacity in bytes.
func (c Config) Size() uint64 {
	return c.WordCount * uint64(c.WordSize)
}

type storeState int

const (
	storeIdle storeState = iota
	storeLatency
	storeReading
	storeWriting
	storeAcking
)

// Store is the backing store model.
type Store struct {
	cfg Config
	mem []byte

	down *cdc.Queue
	up   *cdc.Queue

	state    storeState
	cmd      Command
	wait     int
	progress int
}

// NewStore creates a store attached to its downbound and upbound queues.
func NewStore(cfg Config, down, up *cdc.Queue) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if down == nil || up == nil {
		return nil, fmt.Errorf("store requires both queues")
	}

	return &Store{
		cfg:  cfg,
		mem:  make([]byte, cfg.Size()),
		down: down,
		up:   up,
	}, nil
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Tick advances the store by one tick of its own domain.
func (s *Store) Tick() {
	s.down.TickConsumer()
	s.up.TickProducer()

	switch s.state {
	case storeIdle:
		s.acceptCommand()
	case storeLatency:
		s.wait--
		if s.wait <= 0 {
			s.progress = 0
			if s.cmd.Write {
				s.state = storeWriting
			} else {
				s.state = storeReading
			}
		}
	case storeReading:
		s.streamReadWord()
	case storeWriting:
		s.consumeWriteWord()
	case storeAcking:
		if s.up.CanPush() {
			s.up.Push(Response{Ack: true})
			s.state = storeIdle
		}
	default:
		log.Panicf("backing: unknown store state %d", s.state)
	}
}

func (s *Store) acceptCommand() {
	item := s.down.Pop()
	if item == nil {
		return
	}

	cmd, ok := item.(Command)
	if !ok {
		log.Panicf("backing: expected a command, got %T", item)
	}

	end := cmd.Addr + uint64(cmd.Burst*s.cfg.WordSize)
	if cmd.Burst <= 0 || end > s.cfg.Size() {
		log.Panicf("backing: burst at 0x%X length %d exceeds store size",
			cmd.Addr, cmd.Burst)
	}

	s.cmd = cmd
	s.wait = s.cfg.Latency
	s.state = storeLatency
}

func (s *Store) streamReadWord() {
	if !s.up.CanPush() {
		return
	}

	addr := s.cmd.Addr + uint64(s.progress*s.cfg.WordSize)
	s.up.Push(Response{
		Word: s.ReadWord(addr),
		Last: s.progress == s.cmd.Burst-1,
	})
	s.progress++

	if s.progress == s.cmd.Burst {
		s.state = storeIdle
	}
}

func (s *Store) consumeWriteWord() {
	item := s.down.Pop()
	if item == nil {
		return
	}

	wd, ok := item.(WriteData)
	if !ok {
		log.Panicf("backing: expected write data, got %T", item)
	}

	addr := s.cmd.Addr + uint64(s.progress*s.cfg.WordSize)
	s.WriteWord(addr, wd.Word)
	s.progress++

	if s.progress == s.cmd.Burst {
		s.state = storeAcking
	}
}

// ReadWord reads one store word at the given byte address, little-endian.
// It bypasses the timing model and serves the protocol path, preloading,
// and verification.
func (s *Store) ReadWord(addr uint64) uint64 {
	var v uint64
	for i := 0; i < s.cfg.WordSize; i++ {
		v |= uint64(s.mem[addr+uint64(i)]) << (8 * i)
	}
	return v
}

// WriteWord writes one store word at the given byte address, little-endian.
func (s *Store) WriteWord(addr uint64, v uint64) {
	for i := 0; i < s.cfg.WordSize; i++ {
		s.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

// Read8 reads one byte directly.
func (s *Store) Read8(addr uint64) uint8 {
	return s.mem[addr]
}

// Write8 writes one byte directly.
func (s *Store) Write8(addr uint64, v uint8) {
	s.mem[addr] = v
}

// ReadBytes copies a byte range directly.
func (s *Store) ReadBytes(addr uint64, size int) []byte {
	data := make([]byte, size)
	copy(data, s.mem[addr:addr+uint64(size)])
	return data
}

// WriteBytes writes a byte range directly.
func (s *Store) WriteBytes(addr uint64, data []byte) {
	copy(s.mem[addr:addr+uint64(len(data))], data)
}
