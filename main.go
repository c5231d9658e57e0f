// Package main provides the entry point for dualcache.
// Dualcache is a tick-accurate model of a dual-ported write-back cache
// in front of a slower backing store.
//
// For the full CLI, use: go run ./cmd/dualcache
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("dualcache - dual-ported write-back cache simulator")
	fmt.Println("")
	fmt.Println("Usage: dualcache [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config     Path to cache configuration JSON file")
	fmt.Println("  -requests   Number of requests to drive per port")
	fmt.Println("  -seed       Random seed for the traffic generator")
	fmt.Println("  -divider    Store clock divider")
	fmt.Println("  -v          Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/dualcache' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/dualcache' instead.")
	}
}
