package tracer

import (
	"sync"
	"unsafe"
)

// bootstrapSize is deliberately small: the bootstrap arena only needs to
// satisfy the handful of allocations that can happen while the real
// allocator is still being resolved (Design Note "Reentrancy during
// symbol resolution"). It is never reused once the real allocator is
// cached.
const bootstrapSize = 64 * 1024

// bootstrapArena is a fixed-size bump allocator used to break the
// recursion that would otherwise occur if resolving the real allocator
// symbol itself triggers an allocation through the interposed path. It
// never frees — allocations made from it are intentionally leaked, which
// is acceptable because they are few, small, and bounded to process
// startup.
type bootstrapArena struct {
	mu     sync.Mutex
	buf    [bootstrapSize]byte
	offset int
}

// alloc returns size bytes from the arena, or nil if the arena is
// exhausted (the caller must then fail the allocation rather than ever
// retry against the not-yet-resolved real allocator).
func (a *bootstrapArena) alloc(size uintptr) unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 16-byte alignment is sufficient for every type the bootstrap path
	// needs to hand out headers for.
	const align = 16
	start := (a.offset + align - 1) &^ (align - 1)
	end := start + int(size)
	if end > len(a.buf) {
		return nil
	}
	a.offset = end
	return unsafe.Pointer(&a.buf[start])
}

// owns reports whether ptr falls within this arena's backing array, used
// by Free to recognize (and silently drop) a bootstrap-arena pointer
// rather than hand it to the real allocator's free.
func (a *bootstrapArena) owns(ptr unsafe.Pointer) bool {
	start := uintptr(unsafe.Pointer(&a.buf[0]))
	end := start + uintptr(len(a.buf))
	p := uintptr(ptr)
	return p >= start && p < end
}
