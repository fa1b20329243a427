package activeset

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/kolkov/leaktracer/internal/leak/header"
)

func ptrAt(n int) unsafe.Pointer {
	b := make([]byte, 8)
	_ = n
	return unsafe.Pointer(&b[0])
}

func TestTrackUntrack(t *testing.T) {
	r := New(4)
	h := &header.Header{Magic: header.MagicLive}
	p := ptrAt(0)

	r.Track(p, h)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	r.Untrack(p)
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after Untrack", r.Len())
	}
}

func TestSwapWithLastRemoval(t *testing.T) {
	r := New(4)
	ptrs := make([]unsafe.Pointer, 3)
	for i := range ptrs {
		ptrs[i] = ptrAt(i)
		r.Track(ptrs[i], &header.Header{Magic: header.MagicLive})
	}

	r.Untrack(ptrs[0])
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	snap := r.Snapshot()
	seen := map[unsafe.Pointer]bool{}
	for _, e := range snap {
		seen[e.UserPtr] = true
	}
	if seen[ptrs[0]] {
		t.Fatal("removed pointer still present in snapshot")
	}
	if !seen[ptrs[1]] || !seen[ptrs[2]] {
		t.Fatal("surviving pointers missing from snapshot")
	}
}

func TestOverflowDropsSilently(t *testing.T) {
	r := New(2)
	for i := 0; i < 5; i++ {
		r.Track(ptrAt(i), &header.Header{Magic: header.MagicLive})
	}

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want capacity 2", r.Len())
	}
	if r.Dropped() != 3 {
		t.Fatalf("Dropped = %d, want 3", r.Dropped())
	}
}

func TestUntrackUntrackedIsNoop(t *testing.T) {
	r := New(4)
	r.Untrack(ptrAt(0)) // never tracked
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestConcurrentTrackUntrack(t *testing.T) {
	r := New(1000)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := ptrAt(i)
			r.Track(p, &header.Header{Magic: header.MagicLive})
			r.Untrack(p)
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after concurrent track/untrack", r.Len())
	}
}
