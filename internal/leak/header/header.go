// Package header defines the fixed-size metadata block that precedes every
// user allocation made through the tracer, and the header-trick pointer
// arithmetic that gives O(1) metadata lookup from any user pointer.
//
// Invariant: for any user pointer p returned by the tracer,
// At(p) == (the header written when p was allocated), and
// UserPointer(At(p)) == p. Magic == MagicLive iff the allocation is live
// and was made by this tracer (spec §3).
package header

import (
	"sync/atomic"
	"unsafe"
)

const (
	// MagicLive marks a header as belonging to a live tracer allocation.
	MagicLive uint32 = 0xDEADBEEF

	// MagicFreed is written over Magic on free, so a second free of the
	// same pointer is detectable (spec §3, §7 "Double free").
	MagicFreed uint32 = 0
)

// Header is the metadata block embedded immediately before every user
// buffer. Fields mirror the original C agent's AllocationMeta 1:1 (spec
// §3); LastAccess is additionally atomic because Tracer.Touch
// (spec §4.D) may be called concurrently with the scanner's sweep (spec
// §4.F) reading the same field.
type Header struct {
	Magic      uint32
	_          uint32 // padding to keep Size 8-byte aligned on 32-bit targets
	Size       uint64
	AllocTime  int64
	LastAccess int64 // accessed via sync/atomic only
	SiteID     uint16
	_          uint16 // padding
	ThreadID   uint64
}

// maxAlign is a struct containing the platform's widest common scalar
// types, used only to compute the alignment a returned user pointer must
// satisfy (spec §4.B "Header Layout": "the header must be sized to
// preserve the platform's minimum allocator alignment for the returned
// user pointer").
type maxAlign struct {
	_ complex128
	_ unsafe.Pointer
}

// Size is sizeof(Header) rounded up to the platform's maximum scalar
// alignment, so that userPtr = headerPtr + Size always satisfies it
// (Design Note "Header alignment").
var Size = alignUp(unsafe.Sizeof(Header{}), unsafe.Alignof(maxAlign{}))

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// At returns the header immediately preceding the user pointer p.
// p must have been returned by the tracer's Allocate/Reallocate/
// AllocateZeroed; calling At on a foreign pointer is safe (it's just
// pointer arithmetic) but the result must be validated with IsLive before
// use.
//
//go:nosplit
func At(p unsafe.Pointer) *Header {
	return (*Header)(unsafe.Pointer(uintptr(p) - Size))
}

// UserPointer returns the user pointer that corresponds to a header
// allocated at headerPtr.
//
//go:nosplit
func UserPointer(headerPtr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(headerPtr) + Size)
}

// IsLive reports whether h carries the tracer's live magic number. A nil
// header or a cleared/foreign magic both report false, which is exactly
// the "foreign pointer" / "double free" handling spec §4.D and §7 require
// from every caller before trusting a header's other fields.
//
//go:nosplit
func (h *Header) IsLive() bool {
	return h != nil && atomic.LoadUint32(&h.Magic) == MagicLive
}

// Clear marks the header as freed, so a subsequent free of the same user
// pointer is detected as a double-free rather than trusted (spec §3, §7).
//
//go:nosplit
func (h *Header) Clear() {
	atomic.StoreUint32(&h.Magic, MagicFreed)
}

// Touch updates LastAccess to now, used by Tracer.Touch (spec
// §4.D) and by any external sampling hook driving it.
//
//go:nosplit
func (h *Header) Touch(nowNS int64) {
	atomic.StoreInt64(&h.LastAccess, nowNS)
}

// Staleness returns how long it has been since LastAccess, as of nowNS.
//
//go:nosplit
func (h *Header) Staleness(nowNS int64) int64 {
	return nowNS - atomic.LoadInt64(&h.LastAccess)
}
