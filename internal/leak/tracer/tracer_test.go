package tracer

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/kolkov/leaktracer/internal/leak/header"
)

// fakeAllocator backs Malloc/Realloc/Free with real Go byte slices, kept
// alive in a map so the garbage collector never reclaims memory the
// Tracer still believes is live — exactly the property a real libc
// allocator gives for free, which a fake must emulate explicitly.
type fakeAllocator struct {
	mu    sync.Mutex
	slabs map[unsafe.Pointer][]byte
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{slabs: make(map[unsafe.Pointer][]byte)}
}

func (f *fakeAllocator) Malloc(size uintptr) unsafe.Pointer {
	buf := make([]byte, size)
	p := unsafe.Pointer(&buf[0])
	f.mu.Lock()
	f.slabs[p] = buf
	f.mu.Unlock()
	return p
}

func (f *fakeAllocator) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	f.mu.Lock()
	old, ok := f.slabs[ptr]
	f.mu.Unlock()
	if !ok {
		return f.Malloc(size)
	}
	next := f.Malloc(size)
	f.mu.Lock()
	copy(f.slabs[next], old)
	f.mu.Unlock()
	f.Free(ptr)
	return next
}

func (f *fakeAllocator) Free(ptr unsafe.Pointer) {
	f.mu.Lock()
	delete(f.slabs, ptr)
	f.mu.Unlock()
}

func newTestTracer() (*Tracer, *fakeAllocator) {
	tr := New(Config{RegistryCapacity: 100})
	real := newFakeAllocator()
	tr.SetRealAllocator(real)
	return tr, real
}

func TestAllocateThenFreeConservesCounters(t *testing.T) {
	tr, _ := newTestTracer()

	p := tr.Allocate(1024, 0)
	if p == nil {
		t.Fatal("Allocate returned nil")
	}

	h := header.At(p)
	if h.Magic != header.MagicLive {
		t.Fatal("header not live after Allocate")
	}
	if h.Size != 1024 {
		t.Fatalf("header.Size = %d, want 1024", h.Size)
	}

	stats := tr.Stats()
	if stats.TotalAllocations != 1 || stats.CurrentMemory != 1024 {
		t.Fatalf("stats after alloc = %+v", stats)
	}

	tr.Free(p)

	stats = tr.Stats()
	if stats.TotalFrees != 1 || stats.CurrentMemory != 0 {
		t.Fatalf("stats after free = %+v", stats)
	}
	if tr.Registry().Len() != 0 {
		t.Fatal("registry not empty after free")
	}
}

func TestAllocateZeroSizeReturnsNil(t *testing.T) {
	tr, _ := newTestTracer()
	if p := tr.Allocate(0, 0); p != nil {
		t.Fatal("Allocate(0) must return nil")
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	tr, _ := newTestTracer()
	tr.Free(nil) // must not panic
}

func TestReallocateGrows(t *testing.T) {
	tr, _ := newTestTracer()

	p := tr.Allocate(16, 0)
	data := unsafe.Slice((*byte)(p), 16)
	for i := range data {
		data[i] = byte(i)
	}

	bigger := tr.Reallocate(p, 32, 0)
	if bigger == nil {
		t.Fatal("Reallocate returned nil")
	}
	if bigger == p {
		t.Fatal("Reallocate must return a new address (spec S3)")
	}

	h := header.At(bigger)
	if h.Size != 32 {
		t.Fatalf("header.Size = %d, want 32", h.Size)
	}

	newData := unsafe.Slice((*byte)(bigger), 16)
	for i := range newData {
		if newData[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d (copy not preserved)", i, newData[i], i)
		}
	}

	oldHeader := header.At(p)
	if oldHeader.IsLive() {
		t.Fatal("old allocation still marked live after realloc")
	}
}

func TestReallocateNilActsAsAllocate(t *testing.T) {
	tr, _ := newTestTracer()
	p := tr.Reallocate(nil, 10, 0)
	if p == nil {
		t.Fatal("Reallocate(nil, 10) returned nil")
	}
}

func TestReallocateZeroSizeActsAsFree(t *testing.T) {
	tr, _ := newTestTracer()
	p := tr.Allocate(10, 0)
	if got := tr.Reallocate(p, 0, 0); got != nil {
		t.Fatal("Reallocate(p, 0) must return nil")
	}
	if tr.Registry().Len() != 0 {
		t.Fatal("registry not empty after Reallocate(p, 0)")
	}
}

func TestAllocateZeroedIsZeroed(t *testing.T) {
	tr, _ := newTestTracer()
	p := tr.AllocateZeroed(10, 64, 0)
	if p == nil {
		t.Fatal("AllocateZeroed returned nil")
	}
	data := unsafe.Slice((*byte)(p), 640)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
	if header.At(p).Size != 640 {
		t.Fatalf("header.Size = %d, want 640", header.At(p).Size)
	}
}

func TestAllocateZeroedOverflowFails(t *testing.T) {
	tr, _ := newTestTracer()
	p := tr.AllocateZeroed(^uintptr(0), 2, 0)
	if p != nil {
		t.Fatal("AllocateZeroed must fail on n*size overflow")
	}
}

func TestForeignFreePassesThrough(t *testing.T) {
	tr, real := newTestTracer()

	foreign := real.Malloc(32) // not routed through tr.Allocate
	tr.Free(foreign)

	stats := tr.Stats()
	if stats.TotalFrees != 0 {
		t.Fatalf("TotalFrees = %d, want 0 for foreign free", stats.TotalFrees)
	}
	real.mu.Lock()
	_, stillTracked := real.slabs[foreign]
	real.mu.Unlock()
	if stillTracked {
		t.Fatal("foreign pointer was not passed through to the real allocator's Free")
	}
}

func TestDoubleFreeDoesNotDoubleCount(t *testing.T) {
	tr, _ := newTestTracer()
	p := tr.Allocate(8, 0)

	tr.Free(p)
	tr.Free(p) // double free: magic already cleared

	if tr.Stats().TotalFrees != 1 {
		t.Fatalf("TotalFrees = %d, want 1 after double free", tr.Stats().TotalFrees)
	}
}

func TestTouchUpdatesLastAccess(t *testing.T) {
	tr, _ := newTestTracer()
	p := tr.Allocate(8, 0)
	h := header.At(p)
	before := h.LastAccess
	h.LastAccess = before - 1 // back-date, so a Touch that does nothing fails below

	tr.Touch(p)
	if h.LastAccess < before {
		t.Fatal("Touch did not advance LastAccess")
	}
}

func TestTouchOnForeignPointerIsNoop(t *testing.T) {
	tr, real := newTestTracer()
	foreign := real.Malloc(8)
	tr.Touch(foreign) // must not panic or crash
}
