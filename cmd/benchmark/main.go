// Command benchmark runs the dualcache timing benchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-csv       Output results in CSV format (default: human-readable)
//	-requests  Number of requests per workload
//	-seed      Random seed for the random workload
//
// Each workload is run once per configuration point so the sweep shows
// how bank latency, associativity, and the store clock divider move the
// average access time.
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
	csvOutput = flag.Bool("csv", false, "Output results in CSV format")
	requests  = flag.Int("requests", 5000, "Number of requests per workload")
	seed      = flag.Int64("seed", 1, "Random seed for the random workload")
)

// workload produces the i-th request address for a port.
type workload struct {
	name string
	next func(rng *rand.Rand, i int, cfg cache.Config) uint64
}

var workloads = []workload{
	{
		name: "sequential",
		next: func(_ *rand.Rand, i int, cfg cache.Config) uint64 {
			return uint64(i) * uint64(cfg.WordSize) % cfg.AddressSpace()
		},
	},
	{
		name: "strided",
		next: func(_ *rand.Rand, i int, cfg cache.Config) uint64 {
			stride := uint64(cfg.LineSize)
			return uint64(i) * stride % cfg.AddressSpace()
		},
	},
	{
		name: "random",
		next: func(rng *rand.Rand, _ int, cfg cache.Config) uint64 {
			footprint := uint64(1 << 16)
			words := footprint / uint64(cfg.WordSize)
			return rng.Uint64() % words * uint64(cfg.WordSize)
		},
	},
}

type result struct {
	workload   string
	bankLat    int
	assoc      int
	divider    int
	ticks      uint64
	hitRate    float64
	writebacks uint64
}

func main() {
	flag.Parse()

	var results []result
	for _, wl := range workloads {
		for _, bankLat := range []int{2, 3, 4} {
			for _, assoc := range []int{1, 4} {
				for _, divider := range []int{1, 3} {
					res, err := run(wl, bankLat, assoc, divider)
					if err != nil {
						fmt.Fprintf(os.Stderr, "Error in %s: %v\n", wl.name, err)
						os.Exit(1)
					}
					results = append(results, res)
				}
			}
		}
	}

	if *csvOutput {
		printCSV(results)
	} else {
		printTable(results)
	}
}

func run(wl workload, bankLat, assoc, divider int) (result, error) {
	cfg := cache.DefaultConfig()
	cfg.BankLatency = bankLat
	cfg.Associativity = assoc

	sys, err := system.New(cfg, system.WithStoreDivider(divider))
	if err != nil {
		return result{}, err
	}

	rng := rand.New(rand.NewSource(*seed))
	maxTicks := 100 * (cfg.StoreLatency*divider + cfg.BurstAmount + cfg.SyncDepth)
	word := make([]byte, cfg.WordSize)

	for i := 0; i < *requests; i++ {
		port := cache.PortID(i % int(cache.NumPorts))
		addr := wl.next(rng, i, cfg)

		if i%4 == 0 {
			rng.Read(word)
			if _, err := sys.Write(port, addr, word, maxTicks); err != nil {
				return result{}, err
			}
		} else {
			if _, err := sys.Read(port, addr, maxTicks); err != nil {
				return result{}, err
			}
		}
	}

	stats := sys.Cache.Stats()
	return result{
		workload:   wl.name,
		bankLat:    bankLat,
		assoc:      assoc,
		divider:    divider,
		ticks:      sys.Ticks(),
		hitRate:    stats.HitRate(),
		writebacks: stats.Writebacks,
	}, nil
}

func printCSV(results []result) {
	fmt.Println("workload,bank_latency,associativity,divider,ticks,hit_rate,writebacks")
	for _, r := range results {
		fmt.Printf("%s,%d,%d,%d,%d,%.4f,%d\n",
			r.workload, r.bankLat, r.assoc, r.divider,
			r.ticks, r.hitRate, r.writebacks)
	}
}

func printTable(results []result) {
	fmt.Printf("%-12s %5s %5s %4s %10s %8s %10s\n",
		"workload", "bank", "ways", "div", "ticks", "hit%", "writebacks")
	for _, r := range results {
		fmt.Printf("%-12s %5d %5d %4d %10d %7.2f%% %10d\n",
			r.workload, r.bankLat, r.assoc, r.divider,
			r.ticks, r.hitRate*100, r.writebacks)
	}
}
