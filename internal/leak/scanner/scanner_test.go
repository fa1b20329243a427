package scanner

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/kolkov/leaktracer/internal/leak/activeset"
	"github.com/kolkov/leaktracer/internal/leak/clock"
	"github.com/kolkov/leaktracer/internal/leak/eventchan"
	"github.com/kolkov/leaktracer/internal/leak/header"
)

// fakeTracer satisfies the Tracer interface with a real Registry and
// Publisher, plus a settable threshold, so scanner tests can drive a
// sweep without depending on the tracer package.
type fakeTracer struct {
	registry  *activeset.Registry
	publisher *eventchan.Publisher
	threshold atomic.Int64
}

func newFakeTracer(thresholdNS int64) *fakeTracer {
	ft := &fakeTracer{
		registry:  activeset.New(100),
		publisher: eventchan.NewPublisher(&eventchan.Buffer{}),
	}
	ft.threshold.Store(thresholdNS)
	return ft
}

func (f *fakeTracer) Registry() *activeset.Registry          { return f.registry }
func (f *fakeTracer) Publisher() *eventchan.Publisher         { return f.publisher }
func (f *fakeTracer) StalenessThresholdNS() int64             { return f.threshold.Load() }

// allocEntry creates a live header backed by a real Go allocation and
// tracks it in the registry, returning the user pointer.
func allocEntry(t *testing.T, reg *activeset.Registry, allocTimeNS, lastAccessNS int64) unsafe.Pointer {
	t.Helper()
	raw := make([]byte, header.Size+32)
	h := (*header.Header)(unsafe.Pointer(&raw[0]))
	h.Magic = header.MagicLive
	h.Size = 32
	h.AllocTime = allocTimeNS
	h.LastAccess = lastAccessNS
	userPtr := header.UserPointer(unsafe.Pointer(&raw[0]))
	reg.Track(userPtr, h)
	return userPtr
}

func TestTickDetectsStaleAllocation(t *testing.T) {
	ft := newFakeTracer(int64(time.Second)) // 1s threshold

	now := clock.NowNS()
	stalePtr := allocEntry(t, ft.registry, now-int64(10*time.Second), now-int64(10*time.Second))

	var out bytes.Buffer
	s := New(ft, time.Hour, nil, &out)
	s.tick()

	if !strings.Contains(out.String(), "[LEAK]") {
		t.Fatalf("expected a LEAK line in output, got: %q", out.String())
	}
	if ft.publisher.Stats().LeakCount != 1 {
		t.Fatalf("LeakCount = %d, want 1", ft.publisher.Stats().LeakCount)
	}
	_ = stalePtr
}

func TestTickIgnoresFreshAllocation(t *testing.T) {
	ft := newFakeTracer(int64(time.Second))

	now := clock.NowNS()
	allocEntry(t, ft.registry, now, now)

	var out bytes.Buffer
	s := New(ft, time.Hour, nil, &out)
	s.tick()

	if strings.Contains(out.String(), "[LEAK]") {
		t.Fatalf("expected no LEAK line, got: %q", out.String())
	}
	if ft.publisher.Stats().LeakCount != 0 {
		t.Fatalf("LeakCount = %d, want 0", ft.publisher.Stats().LeakCount)
	}
}

func TestTickSkipsFreedEntry(t *testing.T) {
	ft := newFakeTracer(0)

	now := clock.NowNS()
	ptr := allocEntry(t, ft.registry, now-int64(time.Hour), now-int64(time.Hour))

	h := header.At(ptr)
	h.Clear() // simulate a concurrent free mid-sweep

	var out bytes.Buffer
	s := New(ft, time.Hour, nil, &out)
	s.tick()

	if strings.Contains(out.String(), "[LEAK]") {
		t.Fatalf("freed entry must not be reported, got: %q", out.String())
	}
}

func TestTickWithSamplingDisabledScansEverything(t *testing.T) {
	ft := newFakeTracer(0)
	now := clock.NowNS()
	for i := 0; i < 20; i++ {
		allocEntry(t, ft.registry, now-int64(time.Hour), now-int64(time.Hour))
	}

	sampler := NewSampler(SamplerConfig{}) // disabled by default
	var out bytes.Buffer
	s := New(ft, time.Hour, sampler, &out)
	s.tick()

	if ft.publisher.Stats().LeakCount != 20 {
		t.Fatalf("LeakCount = %d, want 20 with sampling disabled", ft.publisher.Stats().LeakCount)
	}
}

func TestStartStopRunsAtLeastOnce(t *testing.T) {
	ft := newFakeTracer(0)
	now := clock.NowNS()
	allocEntry(t, ft.registry, now-int64(time.Hour), now-int64(time.Hour))

	var out bytes.Buffer
	s := New(ft, 5*time.Millisecond, nil, &out)
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if ft.publisher.Stats().LeakCount == 0 {
		t.Fatal("expected at least one tick to have run and found the stale entry")
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	ft := newFakeTracer(0)
	var out bytes.Buffer
	s := New(ft, time.Hour, nil, &out)
	s.Start()
	s.Start() // must not panic or spawn a second loop
	s.Stop()
}
