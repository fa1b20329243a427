// Package tracer implements the allocator-interposition core of the leak
// detector: the replacement allocate/reallocate/free/zeroed-allocate entry
// points described in spec §4.D, wired to the active-set registry, the
// header-trick metadata, and the event channel.
//
// Tracer is the single process-wide object the interposed entry points
// dispatch through (Design Note "Global mutable state"): one Tracer, one
// Registry, one Publisher, populated once at process startup and reached
// by every subsequent allocator call via a package-level pointer in the
// caller (cmd/leakagent wires this; tests construct a Tracer directly).
package tracer

import (
	"errors"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/kolkov/leaktracer/internal/leak/activeset"
	"github.com/kolkov/leaktracer/internal/leak/clock"
	"github.com/kolkov/leaktracer/internal/leak/eventchan"
	"github.com/kolkov/leaktracer/internal/leak/header"
)

// ErrRealAllocatorNotFound is the resolution-failure error of spec §7:
// "cannot resolve the real allocator — fatal; the tracer aborts the
// process at startup." No Tracer method returns it: a Tracer without a
// real allocator serves allocations from its bootstrap arena, and
// cmd/leakagent handles a failed symbol lookup itself by exiting, since
// only the cgo boundary knows how to abort the host process cleanly.
var ErrRealAllocatorNotFound = errors.New("tracer: real allocator not resolved")

// RealAllocator is the underlying allocator the Tracer wraps — ordinarily
// the process's real malloc/realloc/free resolved via dynamic-symbol
// lookup (spec §4.D), but swappable in tests.
type RealAllocator interface {
	Malloc(size uintptr) unsafe.Pointer
	Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer
	Free(ptr unsafe.Pointer)
}

// Config configures a Tracer.
type Config struct {
	// RegistryCapacity bounds the active set (spec §3, default 10,000).
	RegistryCapacity int
	// StalenessThresholdSeconds is the scanner's default leak threshold
	// (spec §4.F, default 3s).
	StalenessThresholdSeconds float64
}

// Tracer is the process-global allocator interposition state.
type Tracer struct {
	real      atomic.Pointer[RealAllocator]
	bootstrap bootstrapArena
	registry  *activeset.Registry
	publisher *eventchan.Publisher // nil in degraded mode (spec §7)
	staleness atomic.Int64         // nanoseconds

	// localStats mirrors the Publisher's running counters when no shared
	// memory is mapped, so get_allocation_stats keeps working in degraded
	// mode (spec §7: "headers and counters still work").
	localAllocations atomic.Uint64
	localFrees       atomic.Uint64
	localMemory      atomic.Int64
}

// New creates a Tracer. The returned Tracer has no real allocator until
// SetRealAllocator is called; allocations made before that are served
// from the bootstrap arena (Design Note "Reentrancy during symbol
// resolution").
func New(cfg Config) *Tracer {
	t := &Tracer{
		registry: activeset.New(cfg.RegistryCapacity),
	}
	threshold := cfg.StalenessThresholdSeconds
	if threshold <= 0 {
		threshold = 3.0
	}
	t.staleness.Store(int64(threshold * 1e9))
	return t
}

// AttachPublisher wires a shared-memory event publisher into the Tracer.
// Calling it with nil explicitly puts the Tracer into degraded mode
// (spec §7 "Shared-memory failure").
func (t *Tracer) AttachPublisher(p *eventchan.Publisher) {
	t.publisher = p
}

// SetRealAllocator caches the resolved real allocator. Safe to call once
// from the interposed entry points' first invocation.
func (t *Tracer) SetRealAllocator(real RealAllocator) {
	t.real.Store(&real)
}

func (t *Tracer) realAllocator() RealAllocator {
	p := t.real.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetStalenessThresholdSeconds updates the scanner's leak threshold
// (spec §6 set_staleness_threshold_seconds).
func (t *Tracer) SetStalenessThresholdSeconds(seconds float64) {
	t.staleness.Store(int64(seconds * 1e9))
}

// StalenessThresholdNS returns the current threshold in nanoseconds, read
// by the scanner on every tick.
func (t *Tracer) StalenessThresholdNS() int64 {
	return t.staleness.Load()
}

// Registry exposes the active set for the scanner.
func (t *Tracer) Registry() *activeset.Registry { return t.registry }

// Publisher exposes the event publisher for the scanner (may be nil).
func (t *Tracer) Publisher() *eventchan.Publisher { return t.publisher }

// Stats is the snapshot returned by get_allocation_stats (spec §6).
type Stats struct {
	TotalAllocations uint64
	TotalFrees       uint64
	CurrentMemory    uint64
}

// Stats returns the running counters, from shared memory if mapped or
// from local atomics otherwise (spec §7 degraded mode).
func (t *Tracer) Stats() Stats {
	if t.publisher != nil {
		s := t.publisher.Stats()
		return Stats{TotalAllocations: s.TotalAllocations, TotalFrees: s.TotalFrees, CurrentMemory: s.CurrentMemory}
	}
	return Stats{
		TotalAllocations: t.localAllocations.Load(),
		TotalFrees:       t.localFrees.Load(),
		CurrentMemory:    uint64(t.localMemory.Load()),
	}
}

// Allocate replaces the process's malloc (spec §4.D "allocate(size)").
// siteID identifies the external call site that requested the allocation
// (spec §4.A); callers capture it themselves at their own boundary with
// clock.SiteID, since Tracer has no way to see past its own caller.
func (t *Tracer) Allocate(size uintptr, siteID uint16) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	real := t.realAllocator()
	total := size + header.Size

	var raw unsafe.Pointer
	if real == nil {
		raw = t.bootstrap.alloc(total)
	} else {
		raw = real.Malloc(total)
	}
	if raw == nil {
		return nil
	}

	now := clock.NowNS()
	h := (*header.Header)(raw)
	h.Size = uint64(size)
	h.AllocTime = now
	h.LastAccess = now
	h.SiteID = siteID
	h.ThreadID = clock.ThreadID()
	atomic.StoreUint32(&h.Magic, header.MagicLive)

	userPtr := header.UserPointer(raw)
	t.registry.Track(userPtr, h)

	if t.publisher != nil {
		t.publisher.AddAllocation(uint64(size))
		t.publisher.Publish(eventchan.Event{
			EventType: eventchan.EventAlloc,
			Timestamp: now,
			ThreadID:  h.ThreadID,
			Payload: eventchan.Payload{
				Address: uint64(uintptr(userPtr)),
				Size:    uint64(size),
				Extra:   now,
				SiteID:  uint32(h.SiteID),
			},
		})
	} else {
		t.localAllocations.Add(1)
		t.localMemory.Add(int64(size))
	}

	return userPtr
}

// Free replaces the process's free (spec §4.D "free(ptr)").
func (t *Tracer) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	if t.bootstrap.owns(rawFromUser(ptr)) {
		// Bootstrap allocations are never released (see bootstrapArena's
		// doc comment); treat the free as a successful no-op.
		return
	}

	h := header.At(ptr)
	if !h.IsLive() {
		// Foreign pointer, or already freed (double-free): pass through
		// unchanged (spec §4.D, §7 "Foreign free" / "Double free").
		t.passThroughFree(ptr)
		return
	}

	size := h.Size
	now := clock.NowNS()

	t.registry.Untrack(ptr)
	h.Clear()

	if t.publisher != nil {
		t.publisher.AddFree(size)
		t.publisher.Publish(eventchan.Event{
			EventType: eventchan.EventFree,
			Timestamp: now,
			ThreadID:  clock.ThreadID(),
			Payload: eventchan.Payload{
				Address: uint64(uintptr(ptr)),
				Size:    size,
				Extra:   h.AllocTime,
				SiteID:  uint32(h.SiteID),
			},
		})
	} else {
		t.localFrees.Add(1)
		t.localMemory.Add(-int64(size))
	}

	if real := t.realAllocator(); real != nil {
		real.Free(rawFromUser(ptr))
	}
}

func (t *Tracer) passThroughFree(ptr unsafe.Pointer) {
	if real := t.realAllocator(); real != nil {
		real.Free(ptr)
	}
}

func rawFromUser(userPtr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(userPtr) - header.Size)
}

// Reallocate replaces the process's realloc (spec §4.D "reallocate(ptr,
// size)"). siteID is recorded against the resulting allocation (see
// Allocate).
func (t *Tracer) Reallocate(ptr unsafe.Pointer, size uintptr, siteID uint16) unsafe.Pointer {
	if ptr == nil {
		return t.Allocate(size, siteID)
	}
	if size == 0 {
		t.Free(ptr)
		return nil
	}

	h := header.At(ptr)
	if !h.IsLive() {
		if real := t.realAllocator(); real != nil {
			return real.Realloc(ptr, size)
		}
		return nil
	}

	oldSize := uintptr(h.Size)
	newPtr := t.Allocate(size, siteID)
	if newPtr == nil {
		return nil
	}

	copySize := oldSize
	if size < copySize {
		copySize = size
	}
	if copySize > 0 {
		copy(unsafe.Slice((*byte)(newPtr), copySize), unsafe.Slice((*byte)(ptr), copySize))
	}

	t.Free(ptr)
	return newPtr
}

// AllocateZeroed replaces the process's calloc (spec §4.D
// "allocate_zeroed(n, size)"). Overflow of n*size is treated as failure
// (returns nil), matching spec §4.D exactly. siteID is recorded against
// the resulting allocation (see Allocate).
func (t *Tracer) AllocateZeroed(n, size uintptr, siteID uint16) unsafe.Pointer {
	hi, lo := bits.Mul64(uint64(n), uint64(size))
	if hi != 0 || lo > uint64(^uintptr(0)) {
		return nil
	}

	total := uintptr(lo)
	ptr := t.Allocate(total, siteID)
	if ptr == nil {
		return nil
	}
	if total > 0 {
		clear(unsafe.Slice((*byte)(ptr), total))
	}
	return ptr
}

// Touch implements update_allocation_access / access_touch (spec §4.D):
// if the header is valid, updates LastAccess to now; otherwise it is a
// no-op.
func (t *Tracer) Touch(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	h := header.At(ptr)
	if !h.IsLive() {
		return
	}
	h.Touch(clock.NowNS())

	if t.publisher != nil {
		t.publisher.Publish(eventchan.Event{
			EventType: eventchan.EventAccess,
			Timestamp: clock.NowNS(),
			ThreadID:  clock.ThreadID(),
			Payload: eventchan.Payload{
				Address: uint64(uintptr(ptr)),
				Size:    h.Size,
				Extra:   h.AllocTime,
				SiteID:  uint32(h.SiteID),
			},
		})
	}
}
