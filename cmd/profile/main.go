// Package main provides a profiling wrapper for dualcache to identify
// simulation performance bottlenecks.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/sarchlab/dualcache/timing/cache"
	"github.com/sarchlab/dualcache/timing/system"
)

var (
	cpuProfile = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile = flag.String("memprofile", "", "write memory profile to file")
	duration   = flag.Duration("duration", 30*time.Second, "max duration to run")
	requests   = flag.Int("requests", 1000000, "requests to drive through the cache")
	seed       = flag.Int64("seed", 1, "random seed")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	cfg := cache.DefaultConfig()
	sys, err := system.New(cfg, system.WithStoreDivider(3))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building system: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	maxTicks := 100 * (cfg.StoreLatency*3 + cfg.BurstAmount + cfg.SyncDepth)
	word := make([]byte, cfg.WordSize)
	words := cfg.AddressSpace() / uint64(cfg.WordSize)

	start := time.Now()
	done := 0
	for ; done < *requests; done++ {
		if time.Since(start) > *duration {
			break
		}
		port := cache.PortID(done % int(cache.NumPorts))
		addr := rng.Uint64() % words * uint64(cfg.WordSize)
		if done%2 == 0 {
			rng.Read(word)
			_, err = sys.Write(port, addr, word, maxTicks)
		} else {
			_, err = sys.Read(port, addr, maxTicks)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("Requests:  %d\n", done)
	fmt.Printf("Ticks:     %d\n", sys.Ticks())
	fmt.Printf("Wall time: %v\n", elapsed)
	fmt.Printf("Ticks/sec: %.0f\n", float64(sys.Ticks())/elapsed.Seconds())

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating memory profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
			os.Exit(1)
		}
	}
}
