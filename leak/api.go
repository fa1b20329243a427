package leak

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/kolkov/leaktracer/internal/leak/clock"
	"github.com/kolkov/leaktracer/internal/leak/eventchan"
	"github.com/kolkov/leaktracer/internal/leak/scanner"
	"github.com/kolkov/leaktracer/internal/leak/tracer"
)

// Config configures a call to Init.
type Config struct {
	// RegistryCapacity bounds the number of concurrently tracked
	// allocations. Zero uses the default (10,000).
	RegistryCapacity int

	// StalenessThresholdSeconds is the age past which a still-live,
	// unaccessed allocation is reported as a potential leak. Zero uses
	// the default (3 seconds).
	StalenessThresholdSeconds float64

	// ScanInterval is how often the background scanner sweeps the
	// active set. Zero uses the default (5 seconds).
	ScanInterval time.Duration

	// SharedMemoryName, if non-empty, names a POSIX shared-memory
	// segment the event channel publishes into, observable by an
	// external process such as leakctl. If empty, the detector runs in
	// degraded, in-process-only mode (no external visibility, but
	// headers, counters, and the scanner all still work).
	SharedMemoryName string
}

var (
	mu      sync.Mutex
	theTrac *tracer.Tracer
	theScan *scanner.Scanner
	theMap  *eventchan.MappedBuffer
)

func isInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return theTrac != nil
}

// Init starts the leak detector runtime: constructs the active-set
// registry, optionally maps the shared-memory event channel, and starts
// the background staleness scanner.
//
// Init is safe to call multiple times; subsequent calls are no-ops until
// a matching Fini.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if theTrac != nil {
		return nil
	}

	t := tracer.New(tracer.Config{
		RegistryCapacity:          cfg.RegistryCapacity,
		StalenessThresholdSeconds: cfg.StalenessThresholdSeconds,
	})

	if cfg.SharedMemoryName != "" {
		m, err := eventchan.OpenNamed(cfg.SharedMemoryName)
		if err != nil {
			// Shared-memory failure is not fatal (Design Note "Shared
			// memory failure"): fall back to degraded mode.
			theMap = nil
		} else {
			theMap = m
			t.AttachPublisher(eventchan.NewPublisher(m.Buffer))
		}
	}

	interval := cfg.ScanInterval
	if interval <= 0 {
		interval = scanner.DefaultInterval
	}
	s := scanner.New(t, interval, nil, os.Stderr)
	s.Start()

	theTrac = t
	theScan = s
	return nil
}

// Fini stops the background scanner, unmaps shared memory (if mapped),
// and prints a final summary to stderr. Safe to call when Init was never
// called, or more than once.
func Fini() {
	mu.Lock()
	defer mu.Unlock()
	if theTrac == nil {
		return
	}

	theScan.Stop()
	stats := theTrac.Stats()

	if theMap != nil {
		theMap.Close()
		theMap = nil
	}

	theTrac = nil
	theScan = nil

	printSummary(stats)
}

func printSummary(stats tracer.Stats) {
	leaked := stats.TotalAllocations - stats.TotalFrees
	os.Stderr.WriteString("leaktracer: shutdown summary\n")
	fmt.Fprintf(os.Stderr, "leaktracer: allocations=%d frees=%d current_memory=%d bytes\n",
		stats.TotalAllocations, stats.TotalFrees, stats.CurrentMemory)
	if leaked > 0 {
		os.Stderr.WriteString("leaktracer: allocations outstanding at exit, see above for individual leak reports\n")
	}
	_ = leaked
}

// Allocate replaces malloc(size). The site id is fingerprinted from
// Allocate's direct caller (spec §4.A) — for cmd/leakagent that is the
// exported malloc() entry point itself, the closest thing to "the code
// that made the allocation" reachable from Go once the request has
// crossed the cgo boundary.
func Allocate(size uintptr) unsafe.Pointer {
	siteID := clock.SiteID(1)
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Allocate(size, siteID)
}

// Reallocate replaces realloc(ptr, size).
func Reallocate(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	siteID := clock.SiteID(1)
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Reallocate(ptr, size, siteID)
}

// Free replaces free(ptr).
func Free(ptr unsafe.Pointer) {
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return
	}
	t.Free(ptr)
}

// AllocateZeroed replaces calloc(n, size).
func AllocateZeroed(n, size uintptr) unsafe.Pointer {
	siteID := clock.SiteID(1)
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return nil
	}
	return t.AllocateZeroed(n, size, siteID)
}

// Touch records an access to ptr, resetting its staleness clock.
func Touch(ptr unsafe.Pointer) {
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return
	}
	t.Touch(ptr)
}

// SetRealAllocator wires the resolved real allocator into the running
// Tracer. cmd/leakagent calls this once, right after resolving malloc/
// realloc/free via dlsym(RTLD_NEXT, ...), since only the cgo boundary
// knows how to reach them.
func SetRealAllocator(real tracer.RealAllocator) {
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return
	}
	t.SetRealAllocator(real)
}

// SetStalenessThreshold updates the scanner's leak threshold at runtime.
func SetStalenessThreshold(seconds float64) {
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return
	}
	t.SetStalenessThresholdSeconds(seconds)
}

// Stats is the current allocation counters.
type Stats struct {
	TotalAllocations uint64
	TotalFrees       uint64
	CurrentMemory    uint64
}

// GetAllocationStats returns the current running counters.
func GetAllocationStats() Stats {
	mu.Lock()
	t := theTrac
	mu.Unlock()
	if t == nil {
		return Stats{}
	}
	s := t.Stats()
	return Stats{TotalAllocations: s.TotalAllocations, TotalFrees: s.TotalFrees, CurrentMemory: s.CurrentMemory}
}
