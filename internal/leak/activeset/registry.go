// Package activeset implements the bounded table of live user pointers
// that the scanner sweeps for staleness (spec §3 "Active-set entry", §4.C).
//
// Unlike the teacher's shadowmem.ShadowMemory (a sync.Map keyed by address,
// unbounded, read-optimized), the active set here is explicitly bounded:
// spec §4.C requires an array with append/swap-with-last removal and a
// silent-drop overflow policy, because the tracer must never fail the
// underlying allocation just to keep every allocation under observation.
package activeset

import (
	"sync"
	"unsafe"

	"github.com/kolkov/leaktracer/internal/leak/header"
)

// DefaultCapacity matches the ~10,000-entry target of spec §3.
const DefaultCapacity = 10_000

// Entry is a (user pointer, header pointer) pair, as named in spec §3.
type Entry struct {
	UserPtr unsafe.Pointer
	Header  *header.Header
}

// Registry is the active-set table. It is safe for concurrent use by the
// allocator hot path (Track/Untrack) and by the scanner (Snapshot).
//
// Spec §5 permits either a short critical section or a lock-free append
// with tombstones; this implementation takes the critical-section option,
// matching the teacher's own choice of sync.Mutex over lock-free
// structures wherever FastTrack's paper didn't mandate otherwise
// (shadowmem.VarState.mu).
type Registry struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	dropped  uint64 // overflow counter, exposed for diagnostics only
}

// New creates a Registry with the given capacity. A capacity of 0 uses
// DefaultCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Track records a new live allocation. If the registry is already at
// capacity, the insertion is silently dropped (spec §7 "Active-set
// overflow") — the allocation itself still succeeds and its header is
// still valid, so a later Untrack of the same pointer is simply a no-op
// here, and the scanner will never see it. Free still correctly detects
// the header's magic regardless.
func (r *Registry) Track(userPtr unsafe.Pointer, h *header.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.dropped++
		return
	}
	r.entries = append(r.entries, Entry{UserPtr: userPtr, Header: h})
}

// Untrack removes userPtr from the active set using swap-with-last for
// O(1) removal (spec §4.C). A pointer that was never tracked (overflow
// drop, or a foreign pointer) is simply not found, which is a no-op.
func (r *Registry) Untrack(userPtr unsafe.Pointer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].UserPtr == userPtr {
			last := len(r.entries) - 1
			r.entries[i] = r.entries[last]
			r.entries = r.entries[:last]
			return
		}
	}
}

// Len returns the number of currently tracked entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Dropped returns the number of Track calls silently refused due to
// overflow.
func (r *Registry) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Snapshot returns a point-in-time copy of the active set for the
// scanner's sweep (spec §4.F step 1). The scanner iterates this snapshot;
// entries added mid-sweep are picked up on the next pass, and entries
// removed mid-sweep simply leave a stale copy here whose header magic the
// caller must still re-validate (spec §4.F step 2) — this is exactly the
// "best effort" tolerance spec §9's Open Question accepts.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
