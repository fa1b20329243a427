// Command leakagent is a cgo shared library that interposes on a target
// process's allocator. Build with -buildmode=c-shared and load it via
// LD_PRELOAD:
//
//	go build -buildmode=c-shared -o leakagent.so ./cmd/leakagent
//	LD_PRELOAD=./leakagent.so ./target_app
//
// package main exports C-ABI symbols that replace malloc/free/realloc/
// calloc (Design Note "cgo shim"); all tracking logic lives in the leak
// and internal/leak packages, grounded on the original implementation's
// dlsym(RTLD_NEXT, ...)-based agent.
package main

/*
#include <stdlib.h>
#include <dlfcn.h>

typedef void* (*malloc_fn)(size_t);
typedef void* (*realloc_fn)(void*, size_t);
typedef void (*free_fn)(void*);
typedef void* (*calloc_fn)(size_t, size_t);

static void* resolve_real_malloc()  { return dlsym(RTLD_NEXT, "malloc"); }
static void* resolve_real_realloc() { return dlsym(RTLD_NEXT, "realloc"); }
static void* resolve_real_free()    { return dlsym(RTLD_NEXT, "free"); }
static void* resolve_real_calloc()  { return dlsym(RTLD_NEXT, "calloc"); }

static void* call_real_malloc(malloc_fn fn, size_t size)          { return fn(size); }
static void* call_real_realloc(realloc_fn fn, void* p, size_t sz) { return fn(p, sz); }
static void  call_real_free(free_fn fn, void* p)                  { fn(p); }
static void* call_real_calloc(calloc_fn fn, size_t n, size_t sz)  { return fn(n, sz); }
*/
import "C"

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/kolkov/leaktracer/internal/leak/eventchan"
	"github.com/kolkov/leaktracer/leak"
)

// realGlibc wraps the dlsym-resolved libc entry points behind
// tracer.RealAllocator, bridging the C function-pointer world and the
// Go interface the tracer dispatches through.
type realGlibc struct {
	mallocFn  C.malloc_fn
	reallocFn C.realloc_fn
	freeFn    C.free_fn
}

func (g *realGlibc) Malloc(size uintptr) unsafe.Pointer {
	return unsafe.Pointer(C.call_real_malloc(g.mallocFn, C.size_t(size)))
}

func (g *realGlibc) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	return unsafe.Pointer(C.call_real_realloc(g.reallocFn, ptr, C.size_t(size)))
}

func (g *realGlibc) Free(ptr unsafe.Pointer) {
	C.call_real_free(g.freeFn, ptr)
}

var (
	initOnce sync.Once
	real     *realGlibc
)

// agentStart mirrors the original constructor-attribute agent_start: it
// resolves the real allocator and starts the Go-side tracker. It is
// invoked lazily from the first interposed call rather than via a Go
// init(), since nothing guarantees init() order runs before the dynamic
// loader resolves the preloaded malloc symbol for other shared objects.
func agentStart() {
	initOnce.Do(func() {
		real = &realGlibc{
			mallocFn:  C.malloc_fn(C.resolve_real_malloc()),
			reallocFn: C.realloc_fn(C.resolve_real_realloc()),
			freeFn:    C.free_fn(C.resolve_real_free()),
		}
		if real.mallocFn == nil || real.freeFn == nil {
			fmt.Fprintln(os.Stderr, "leakagent: failed to resolve real allocator, aborting")
			os.Exit(1)
		}

		cfg := leak.Config{
			SharedMemoryName: envOr("LEAK_SHM_NAME", eventchan.DefaultName),
		}
		if v, ok := os.LookupEnv("LEAK_STALENESS_SECONDS"); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.StalenessThresholdSeconds = f
			}
		}
		if v, ok := os.LookupEnv("LEAK_SCAN_INTERVAL_SECONDS"); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.ScanInterval = time.Duration(f * float64(time.Second))
			}
		}

		leak.Init(cfg)
		leak.SetRealAllocator(real)
	})
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

//export malloc
func malloc(size C.size_t) unsafe.Pointer {
	agentStart()
	return leak.Allocate(uintptr(size))
}

//export free
func free(ptr unsafe.Pointer) {
	agentStart()
	leak.Free(ptr)
}

//export realloc
func realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	agentStart()
	return leak.Reallocate(ptr, uintptr(size))
}

//export calloc
func calloc(n, size C.size_t) unsafe.Pointer {
	agentStart()
	return leak.AllocateZeroed(uintptr(n), uintptr(size))
}

//export update_allocation_access
func update_allocation_access(ptr unsafe.Pointer) {
	leak.Touch(ptr)
}

//export set_staleness_threshold_seconds
func set_staleness_threshold_seconds(seconds C.double) {
	leak.SetStalenessThreshold(float64(seconds))
}

//export get_allocation_stats
func get_allocation_stats(totalAllocations, totalFrees, currentMemory *C.ulonglong) {
	stats := leak.GetAllocationStats()
	if totalAllocations != nil {
		*totalAllocations = C.ulonglong(stats.TotalAllocations)
	}
	if totalFrees != nil {
		*totalFrees = C.ulonglong(stats.TotalFrees)
	}
	if currentMemory != nil {
		*currentMemory = C.ulonglong(stats.CurrentMemory)
	}
}

func main() {}
