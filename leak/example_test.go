package leak_test

import (
	"fmt"
	"time"

	"github.com/kolkov/leaktracer/leak"
)

// Example demonstrates basic allocate/free usage of the leak detector API.
// Normally allocations flow through cmd/leakagent via LD_PRELOAD rather
// than these functions directly.
func Example() {
	leak.Init(leak.Config{ScanInterval: time.Hour})
	defer leak.Fini()

	p := leak.Allocate(64)
	defer leak.Free(p)

	stats := leak.GetAllocationStats()
	fmt.Println(stats.TotalAllocations, stats.CurrentMemory)

	// Output:
	// 1 64
}

// Example_touch demonstrates resetting an allocation's staleness clock.
func Example_touch() {
	leak.Init(leak.Config{ScanInterval: time.Hour})
	defer leak.Fini()

	p := leak.Allocate(128)
	defer leak.Free(p)

	leak.Touch(p)
	fmt.Println("touched")

	// Output:
	// touched
}
