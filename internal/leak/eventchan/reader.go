package eventchan

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Reader consumes events from a Buffer independently of the tracer that
// publishes them (spec §1, §4.E). It owns ReadIndex exclusively; every
// other Buffer field is read-only from here (spec §3 "Ownership").
//
// SessionID tags a single attach session for log correlation across
// multiple readers attached to the same buffer, the same role tapio's
// correlation engine gives every correlation run a uuid for.
type Reader struct {
	buf       *Buffer
	readIndex int64 // local monotonic read cursor; independent of buf.ReadIndex's int32 width
	SessionID uuid.UUID
}

// NewReader creates a Reader over buf, starting at the current WriteIndex
// (i.e. it only observes events published after attach, matching the
// original Python analyzer's behavior of polling forward from whatever
// write_index it finds on attach).
func NewReader(buf *Buffer) *Reader {
	return &Reader{
		buf:       buf,
		readIndex: int64(atomic.LoadInt32(&buf.WriteIndex)),
		SessionID: uuid.New(),
	}
}

// Overrun reports how many events this reader has lost: the number of
// events produced since it last consumed, minus Capacity — the overrun policy
// of spec §4.E: "if a reader falls more than N behind, it loses events;
// the tracer does not block." A return value of 0 means no loss occurred.
func (r *Reader) Overrun() int64 {
	lag := int64(atomic.LoadInt32(&r.buf.WriteIndex)) - r.readIndex
	if lag <= Capacity {
		return 0
	}
	return lag - Capacity
}

// Drain returns every fully-published event between this reader's cursor
// and the buffer's current WriteIndex, in slot order, and advances the
// cursor. If this reader has fallen more than Capacity slots behind, the
// oldest lost events are skipped (Overrun), matching spec §4.E/§7 "Ring
// overrun: the tracer overwrites the oldest slot; readers observe a jump
// in write_index and may detect loss."
//
// An event is only returned once its IsValid flag has been observed
// set — the publication barrier of spec §4.E step 4 — so Drain never
// returns a torn or partially-written record (spec §8 property 3).
func (r *Reader) Drain() []Event {
	writeIdx := int64(atomic.LoadInt32(&r.buf.WriteIndex))

	if lost := r.Overrun(); lost > 0 {
		r.readIndex = writeIdx - Capacity
	}

	if r.readIndex >= writeIdx {
		return nil
	}

	out := make([]Event, 0, writeIdx-r.readIndex)
	for idx := r.readIndex; idx < writeIdx; idx++ {
		slot := &r.buf.Events[uint64(idx)%Capacity]
		if atomic.LoadUint32(&slot.IsValid) == 0 {
			// Producer reserved this slot but hasn't published it yet;
			// stop here rather than spin — the next Drain call will pick
			// it up once the barrier in Publish completes.
			break
		}
		out = append(out, *slot)
		r.readIndex = idx + 1
	}

	atomic.StoreInt32(&r.buf.ReadIndex, int32(r.readIndex))
	return out
}

// Poll blocks, sleeping interval between Drain attempts, until at least
// one event is available or the provided stop channel is closed. It is a
// convenience wrapper for readers that don't want to busy-poll Drain
// themselves.
func (r *Reader) Poll(interval time.Duration, stop <-chan struct{}) []Event {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if events := r.Drain(); len(events) > 0 {
			return events
		}
		select {
		case <-stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Stats reads a relaxed snapshot of the buffer's running counters (spec
// §6 get_allocation_stats).
func (r *Reader) Stats() Stats {
	return Stats{
		TotalAllocations: atomic.LoadUint64(&r.buf.TotalAllocations),
		TotalFrees:       atomic.LoadUint64(&r.buf.TotalFrees),
		CurrentMemory:    atomic.LoadUint64(&r.buf.CurrentMemory),
		LeakCount:        atomic.LoadUint32(&r.buf.LeakCount),
	}
}
