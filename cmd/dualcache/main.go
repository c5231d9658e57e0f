// Package main provides the entry point for the dualcache simulator.
// It drives random dual-port traffic through the cache and checks every
// read against a shadow copy of the backing store.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/sarchlab/dualcache/timing/cache"
	"github.com/sarchlab/dualcache/timing/system"
)

var (
	configPath = flag.String("config", "", "Path to cache configuration JSON file")
	requests   = flag.Int("requests", 10000, "Number of requests to drive per port")
	seed       = flag.Int64("seed", 1, "Random seed for the traffic generator")
	divider    = flag.Int("divider", 3, "Store clock divider (store ticks once per N cache ticks)")
	footprint  = flag.Uint64("footprint", 1<<16, "Traffic footprint in bytes")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	cfg := cache.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = cache.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	sys, err := system.New(cfg, system.WithStoreDivider(*divider))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building system: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Cache: %d lines x %dB, %d-way, bank latency %d\n",
			cfg.LineCount, cfg.LineSize, cfg.Associativity, cfg.BankLatency)
		fmt.Printf("Store: %d x %dB words, latency %d, divider %d\n",
			cfg.StoreWordCount, cfg.StoreWordSize, cfg.StoreLatency, *divider)
	}

	if err := drive(sys, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	report(sys)
}

// drive runs the random traffic workload. The two ports take turns so
// every access completes before the next begins; the shadow memory then
// tracks exactly what the subsystem should hold.
func drive(sys *system.System, cfg cache.Config) error {
	rng := rand.New(rand.NewSource(*seed))

	space := cfg.AddressSpace()
	if *footprint < space {
		space = *footprint
	}
	words := space / uint64(cfg.WordSize)
	if words == 0 {
		return fmt.Errorf("footprint smaller than one word")
	}

	shadow := make([]byte, space)
	maxTicks := 100 * (cfg.StoreLatency*(*divider) + cfg.BurstAmount + cfg.SyncDepth)

	for i := 0; i < *requests; i++ {
		port := cache.PortID(i % int(cache.NumPorts))
		addr := rng.Uint64() % words * uint64(cfg.WordSize)

		if rng.Intn(2) == 0 {
			rsp, err := sys.Read(port, addr, maxTicks)
			if err != nil {
				return err
			}
			if rsp.Status != cache.StatusReady {
				return fmt.Errorf("read at 0x%X: unexpected status %v", addr, rsp.Status)
			}
			for b := 0; b < cfg.WordSize; b++ {
				if rsp.Data[b] != shadow[addr+uint64(b)] {
					return fmt.Errorf("read at 0x%X byte %d: got 0x%02X, want 0x%02X",
						addr, b, rsp.Data[b], shadow[addr+uint64(b)])
				}
			}
		} else {
			data := make([]byte, cfg.WordSize)
			rng.Read(data)
			rsp, err := sys.Write(port, addr, data, maxTicks)
			if err != nil {
				return err
			}
			if rsp.Status != cache.StatusReady {
				return fmt.Errorf("write at 0x%X: unexpected status %v", addr, rsp.Status)
			}
			copy(shadow[addr:], data)
		}

		// Exercise the coherence surface occasionally. Sync keeps the
		// store consistent with the shadow, so a later invalidate of the
		// same footprint is loss-free.
		if i > 0 && i%1000 == 0 {
			sys.Cache.SyncAll()
		}
	}

	if err := sys.Drain(*requests + 100*maxTicks); err != nil {
		return err
	}

	// After the drain the store itself must match the shadow.
	for addr := uint64(0); addr < space; addr++ {
		if got := sys.Store.Read8(addr); got != shadow[addr] {
			return fmt.Errorf("store at 0x%X: got 0x%02X, want 0x%02X",
				addr, got, shadow[addr])
		}
	}

	return nil
}

func report(sys *system.System) {
	stats := sys.Cache.Stats()

	fmt.Printf("\n=== Simulation Report ===\n")
	fmt.Printf("Ticks:        %d\n", sys.Ticks())
	fmt.Printf("Reads:        %d\n", stats.Reads)
	fmt.Printf("Writes:       %d\n", stats.Writes)
	fmt.Printf("Hits:         %d\n", stats.Hits)
	fmt.Printf("Misses:       %d\n", stats.Misses)
	fmt.Printf("Hit rate:     %.2f%%\n", stats.HitRate()*100)
	fmt.Printf("Evictions:    %d\n", stats.Evictions)
	fmt.Printf("Writebacks:   %d\n", stats.Writebacks)
	fmt.Printf("Refills:      %d\n", stats.Refills)
	fmt.Printf("Syncs:        %d\n", stats.Syncs)
}
