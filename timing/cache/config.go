package cache

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/dualcache/timing/bank"
)

// AccessMode describes what operations a region of the address space
// permits. The policy is external to the cache; the controller only
// surfaces violations to the offending port.
type AccessMode int

const (
	// AccessReadWrite permits both operations.
	AccessReadWrite AccessMode = iota
	// AccessReadOnly rejects writes.
	AccessReadOnly
	// AccessWriteOnly rejects reads.
	AccessWriteOnly
)

// Region is a half-open address range [Start, End) with an access mode.
type Region struct {
	Start uint64     `json:"start"`
	End   uint64     `json:"end"`
	Mode  AccessMode `json:"mode"`
}

// Config holds every construction parameter of the cache subsystem.
// Invalid combinations are a hard construction failure, never a runtime
// fallback.
type Config struct {
	// LineSize is the cache line size in bytes. Power of two.
	LineSize int `json:"line_size"`

	// LineCount is the total number of cache lines. Must be a multiple of
	// Associativity.
	LineCount int `json:"line_count"`

	// Associativity is the number of lines per bin, in [1, LineCount].
	Associativity int `json:"associativity"`

	// WordSize is the client word size in bytes. Power of two, at most
	// LineSize. Client addresses must be aligned to it.
	WordSize int `json:"word_size"`

	// BankLatency is the storage bank pipeline depth in ticks (2, 3, or 4).
	BankLatency int `json:"bank_latency"`

	// StoreLatency is the backing store response latency in store ticks.
	StoreLatency int `json:"store_latency"`

	// StoreWordSize is the backing store word size in bytes. Power of two,
	// at most LineSize.
	StoreWordSize int `json:"store_word_size"`

	// StoreWordCount is the backing store capacity in store words. It
	// defines the valid client address space.
	StoreWordCount uint64 `json:"store_word_count"`

	// BurstAmount is the number of store words per line transfer. Must
	// equal LineSize / StoreWordSize.
	BurstAmount int `json:"burst_amount"`

	// SyncDepth is the synchronizer chain depth of the domain-crossing
	// queues.
	SyncDepth int `json:"sync_depth"`

	// QueueCapacity is the capacity of each domain-crossing queue. Power
	// of two.
	QueueCapacity int `json:"queue_capacity"`

	// MaxStall is the stall ceiling: once a port has waited this many
	// ticks, its pending transaction is granted strictly before the other
	// port's. This is a liveness contract, not a performance knob.
	MaxStall int `json:"max_stall"`

	// Regions optionally restricts parts of the address space to one
	// operation. An empty list leaves everything read-write.
	Regions []Region `json:"regions,omitempty"`
}

// DefaultConfig returns a configuration for a 16KB 4-way cache over a 4MB
// backing store.
func DefaultConfig() Config {
	return Config{
		LineSize:       64,
		LineCount:      256,
		Associativity:  4,
		WordSize:       4,
		BankLatency:    2,
		StoreLatency:   6,
		StoreWordSize:  4,
		StoreWordCount: 1 << 20,
		BurstAmount:    16,
		SyncDepth:      2,
		QueueCapacity:  32,
		MaxStall:       64,
	}
}

// NumSets returns the number of associativity bins.
func (c Config) NumSets() int {
	return c.LineCount / c.Associativity
}

// AddressSpace returns the backing store size in bytes, the bound for
// client addresses.
func (c Config) AddressSpace() uint64 {
	return c.StoreWordCount * uint64(c.StoreWordSize)
}

// BankSize returns the storage bank size in bytes.
func (c Config) BankSize() int {
	return c.LineCount * c.LineSize
}

// Validate checks the configuration. The controller refuses to initialize
// on any error.
func (c Config) Validate() error {
	if !isPowerOfTwo(c.LineSize) {
		return fmt.Errorf("line size must be a power of two, got %d", c.LineSize)
	}
	if c.LineCount <= 0 {
		return fmt.Errorf("line count must be positive, got %d", c.LineCount)
	}
	if c.Associativity < 1 || c.Associativity > c.LineCount {
		return fmt.Errorf("associativity must be in [1, %d], got %d",
			c.LineCount, c.Associativity)
	}
	if c.LineCount%c.Associativity != 0 {
		return fmt.Errorf("line count %d is not a multiple of associativity %d",
			c.LineCount, c.Associativity)
	}
	if !isPowerOfTwo(c.WordSize) || c.WordSize > c.LineSize {
		return fmt.Errorf("word size must be a power of two no larger than the line size, got %d",
			c.WordSize)
	}
	if c.BankLatency < bank.MinLatency || c.BankLatency > bank.MaxLatency {
		return fmt.Errorf("bank latency must be between %d and %d, got %d",
			bank.MinLatency, bank.MaxLatency, c.BankLatency)
	}
	if c.StoreLatency < 1 {
		return fmt.Errorf("store latency must be at least 1, got %d", c.StoreLatency)
	}
	if !isPowerOfTwo(c.StoreWordSize) || c.StoreWordSize > 8 ||
		c.StoreWordSize > c.LineSize {
		return fmt.Errorf("store word size must be a power of two between 1 and 8, no larger than the line size, got %d",
			c.StoreWordSize)
	}
	if c.StoreWordCount == 0 {
		return fmt.Errorf("store word count must be positive")
	}
	if c.BurstAmount != c.LineSize/c.StoreWordSize {
		return fmt.Errorf("burst amount must be %d (line size / store word size), got %d",
			c.LineSize/c.StoreWordSize, c.BurstAmount)
	}
	if !isPowerOfTwo(c.QueueCapacity) {
		return fmt.Errorf("queue capacity must be a power of two, got %d",
			c.QueueCapacity)
	}
	if c.SyncDepth < 0 {
		return fmt.Errorf("synchronizer depth must be non-negative, got %d",
			c.SyncDepth)
	}
	if c.MaxStall < 1 {
		return fmt.Errorf("max stall must be at least 1, got %d", c.MaxStall)
	}
	if c.AddressSpace() < uint64(c.LineSize) {
		return fmt.Errorf("address space smaller than one cache line")
	}
	if c.AddressSpace()%uint64(c.LineSize) != 0 {
		return fmt.Errorf("address space %d is not a multiple of the line size %d",
			c.AddressSpace(), c.LineSize)
	}

	for i, r := range c.Regions {
		if r.Start >= r.End {
			return fmt.Errorf("region %d is empty: [0x%X, 0x%X)", i, r.Start, r.End)
		}
		if r.Mode != AccessReadWrite && r.Mode != AccessReadOnly &&
			r.Mode != AccessWriteOnly {
			return fmt.Errorf("region %d has unknown access mode %d", i, r.Mode)
		}
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	clone := c
	clone.Regions = append([]Region(nil), c.Regions...)
	return clone
}

// LoadConfig loads a Config from a JSON file, applying defaults for absent
// fields.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read cache config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse cache config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cache config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache config file: %w", err)
	}

	return nil
}

// modeAt returns the access mode governing the word at addr. The last
// matching region wins; no region means read-write.
func (c Config) modeAt(addr uint64) AccessMode {
	mode := AccessReadWrite
	for _, r := range c.Regions {
		if addr >= r.Start && addr < r.End {
			mode = r.Mode
		}
	}
	return mode
}

func isPowerOfTwo(v int) bool {
	return v > 0 && v&(v-1) == 0
}
