// Package leak provides the public runtime API for the allocator-level
// memory leak detector.
//
// The detector replaces a process's malloc/realloc/free/calloc via
// dynamic-linker interposition (LD_PRELOAD) and flags allocations that
// have gone unaccessed for longer than a configurable threshold. It is
// built as a cgo shared library (cmd/leakagent) that a target process
// loads transparently; this package is the Go-level API that agent uses
// internally and that a Go program can also call directly when it is
// linked into the same binary rather than preloaded.
//
// # Quick Start
//
// Typical usage is via the leakagent shared library and the leakctl CLI:
//
//	$ go build -o leakagent.so -buildmode=c-shared ./cmd/leakagent
//	$ LD_PRELOAD=./leakagent.so ./target_app &
//	$ leakctl attach
//
// For direct in-process use:
//
//	package main
//
//	import "github.com/kolkov/leaktracer/leak"
//
//	func main() {
//		leak.Init(leak.Config{})
//		defer leak.Fini()
//
//		p := leak.Allocate(1024)
//		defer leak.Free(p)
//	}
//
// # API Overview
//
// The package provides functions for:
//   - Initialization and finalization: [Init], [Fini]
//   - Allocator replacement: [Allocate], [Reallocate], [Free], [AllocateZeroed]
//   - Access tracking: [Touch]
//   - Runtime configuration: [SetStalenessThreshold]
//   - Statistics: [GetAllocationStats], [GetInfo]
//
// # How It Works
//
// Every allocation gets a small fixed-size header placed immediately
// before the returned pointer, recording its size, allocation time, last
// access time, call site, and owning thread. A background goroutine
// sweeps the set of live allocations on an interval and reports any
// allocation whose last access is older than the configured staleness
// threshold as a potential leak. Leak and lifecycle events are published
// to a lock-free ring buffer in shared memory so an external process
// (leakctl) can observe them without synchronizing with the target.
//
// # Compatibility
//
// Platform support:
//   - Operating systems: Linux (shared-memory transport requires /dev/shm)
//   - Go version: 1.24 or later
//   - CGO requirement: required only for cmd/leakagent; this package
//     itself is pure Go
//   - Architecture: amd64, arm64
//
// # Links
//
// Project repository:
// https://github.com/kolkov/leaktracer
//
// Documentation:
// https://pkg.go.dev/github.com/kolkov/leaktracer/leak
package leak
