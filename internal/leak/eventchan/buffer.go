// Package eventchan implements the fixed-capacity, lock-free event channel
// that streams allocation, free, and leak events out of the traced process
// (spec §3 "Event record", §4.E). The channel lives in named shared memory
// so an external, out-of-process reader can attach to it independently of
// the traced program (spec §1).
package eventchan

import (
	"sync/atomic"
)

// Capacity is the number of event slots in the ring (spec §3: "target
// 1,000").
const Capacity = 1000

// DefaultName is the fixed POSIX shared-memory name spec §6 mandates for
// the advanced tracer ("Name: a fixed POSIX shared-memory name
// (/ml_advanced_leak_detection ...)"), deliberately not PID-qualified: an
// external reader must be able to attach without first discovering the
// traced process's PID. LEAK_SHM_NAME / --shm override this default; they
// do not replace it.
const DefaultName = "ml_advanced_leak_detection"

// EventType discriminates the payload carried by an Event (spec §3).
type EventType uint32

const (
	// EventNone marks an unwritten or stale slot.
	EventNone EventType = 0
	// EventAlloc records a successful allocation.
	EventAlloc EventType = 1
	// EventFree records a successful free of a tracer-owned pointer.
	EventFree EventType = 2
	// EventLeak records a stale allocation found by the scanner.
	EventLeak EventType = 3
	// EventAccess records an external access-touch update.
	EventAccess EventType = 4
)

// Event is the fixed-size record published for every tracer-visible
// action. Spec §3 describes the payload as a union of allocation details
// and leak details; Go has no union, so Payload carries both shapes in a
// flat struct, exactly the size needed for either (Extra holds AllocTime
// for ALLOC/FREE/ACCESS events and StalenessNS for LEAK events).
type Event struct {
	EventID   int32
	EventType EventType
	Timestamp int64
	ThreadID  uint64
	Payload   Payload
	IsValid   uint32
	_         uint32 // padding, keeps Event 8-byte aligned for array indexing
}

// Payload carries the per-event data. Address is stored as uint64 rather
// than unsafe.Pointer because shared memory is not scanned by the Go
// garbage collector — it must never hold a value the GC would try to
// follow (see Buffer's doc comment).
type Payload struct {
	Address uint64
	Size    uint64
	Extra   int64 // AllocTime (alloc/free/access) or StalenessNS (leak)
	SiteID  uint32
	_       uint32 // padding
}

// Buffer is the layout placed at offset 0 of the mapped shared-memory
// region (spec §3 "Shared buffer header", §6 "Layout at offset 0").
//
// Ownership (spec §3): the tracer exclusively owns WriteIndex and the
// running counters; readers may read any field but write only ReadIndex.
// Event slots are owned by whichever producer acquired them via the
// publication protocol and become readable once WriteIndex is advanced
// past them.
//
// Buffer is placed directly over raw mmap'd bytes via unsafe.Pointer (see
// shm_unix.go), so it must contain no Go pointers, interfaces, or slices —
// only fixed-width integers, exactly like the teacher's shadow memory
// cells avoid anything the GC would need to scan concurrently with
// another process's writes.
type Buffer struct {
	WriteIndex       int32 // monotonic, not modulo (spec §3)
	ReadIndex        int32 // reader-owned
	TotalAllocations uint64
	TotalFrees       uint64
	CurrentMemory    uint64
	LeakCount        uint32
	_                uint32 // padding, keeps Events 8-byte aligned
	Events           [Capacity]Event
}

// idCounter is a Publisher's monotonically increasing event-ID counter,
// shared by every goroutine publishing through that Publisher, so event_id
// stays monotonic even with multiple concurrent producers (spec §3, §5
// "Ordering guarantees": "Event IDs are monotonic but may be assigned out
// of slot order if multiple producers race").
type idCounter struct{ n atomic.Int32 }

func (c *idCounter) next() int32 {
	return c.n.Add(1)
}

// Publisher implements the five-step publication protocol of spec §4.E
// against a single Buffer.
type Publisher struct {
	buf *Buffer
	ids idCounter
}

// NewPublisher wraps buf for publication. buf must not be nil.
func NewPublisher(buf *Buffer) *Publisher {
	return &Publisher{buf: buf}
}

// Publish writes one event record using the lock-free fetch-and-add +
// release-store protocol (spec §4.E, the "preferred" option):
//
//  1. Atomically reserve a slot by incrementing WriteIndex.
//  2. The caller has already fully initialized the record on the stack.
//  3. Copy it into the reserved slot with IsValid left at 0.
//  4. Issue a release-store on the slot's IsValid field — the publication
//     barrier that makes every other field visible before the advance.
//  5. The WriteIndex increment in step 1 is what publishes the slot's
//     *existence*; because readers gate on IsValid rather than solely on
//     WriteIndex, a reader can never observe a slot whose contents are
//     still being written (spec §5 "Ordering guarantees").
//
// Running counters are updated by the caller (Tracer), not here, per spec
// §4.E: "advisory and need not be transactionally consistent with event
// records."
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.buf == nil {
		return
	}

	slotIdx := atomic.AddInt32(&p.buf.WriteIndex, 1) - 1
	slot := &p.buf.Events[uint32(slotIdx)%Capacity]

	ev.EventID = p.ids.next()
	ev.IsValid = 0
	*slot = ev

	atomic.StoreUint32(&slot.IsValid, 1)
}

// AddAllocation updates the advisory running counters after a successful
// allocation (spec §4.D).
func (p *Publisher) AddAllocation(size uint64) {
	if p == nil || p.buf == nil {
		return
	}
	atomic.AddUint64(&p.buf.TotalAllocations, 1)
	atomic.AddUint64(&p.buf.CurrentMemory, size)
}

// AddFree updates the advisory running counters after a successful free.
func (p *Publisher) AddFree(size uint64) {
	if p == nil || p.buf == nil {
		return
	}
	atomic.AddUint64(&p.buf.TotalFrees, 1)
	atomic.AddUint64(&p.buf.CurrentMemory, uint64(-int64(size))) // unsigned subtract
}

// AddLeak increments the advisory leak counter.
func (p *Publisher) AddLeak() {
	if p == nil || p.buf == nil {
		return
	}
	atomic.AddUint32(&p.buf.LeakCount, 1)
}

// Stats is a snapshot of the running counters, returned by
// get_allocation_stats (spec §6).
type Stats struct {
	TotalAllocations uint64
	TotalFrees       uint64
	CurrentMemory    uint64
	LeakCount        uint32
}

// Stats reads a relaxed snapshot of the buffer's running counters.
func (p *Publisher) Stats() Stats {
	if p == nil || p.buf == nil {
		return Stats{}
	}
	return Stats{
		TotalAllocations: atomic.LoadUint64(&p.buf.TotalAllocations),
		TotalFrees:       atomic.LoadUint64(&p.buf.TotalFrees),
		CurrentMemory:    atomic.LoadUint64(&p.buf.CurrentMemory),
		LeakCount:        atomic.LoadUint32(&p.buf.LeakCount),
	}
}
