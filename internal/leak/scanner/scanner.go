// Package scanner implements the periodic sweep that identifies stale
// allocations and emits leak events (spec §4.F).
package scanner

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/kolkov/leaktracer/internal/leak/activeset"
	"github.com/kolkov/leaktracer/internal/leak/clock"
	"github.com/kolkov/leaktracer/internal/leak/eventchan"
)

// DefaultInterval is T_scan from spec §4.F (default 5 seconds).
const DefaultInterval = 5 * time.Second

// Tracer is the subset of tracer.Tracer the Scanner depends on, kept as an
// interface so scanner tests don't need the full tracer package.
type Tracer interface {
	Registry() *activeset.Registry
	Publisher() *eventchan.Publisher
	StalenessThresholdNS() int64
}

// Scanner runs the periodic stale-allocation sweep on a dedicated
// goroutine (spec §4.F, §5 "one additional thread").
type Scanner struct {
	tracer   Tracer
	interval time.Duration
	sampler  *Sampler
	out      io.Writer

	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// New creates a Scanner. out receives the human-readable summary line
// emitted every tick (spec §4.F step 5); pass os.Stderr in production.
func New(tr Tracer, interval time.Duration, sampler *Sampler, out io.Writer) *Scanner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if sampler == nil {
		sampler = NewSampler(SamplerConfig{})
	}
	return &Scanner{
		tracer:   tr,
		interval: interval,
		sampler:  sampler,
		out:      out,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the scan loop detached, as spec §4.G Startup step 4
// requires ("Spawn the scanner thread detached"). Calling Start twice is
// a no-op.
func (s *Scanner) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.loop()
}

// Stop ends the scan loop and waits for the current tick, if any, to
// finish. Shutdown (spec §4.G) does not strictly require this — the
// original relies on the OS terminating the thread at process exit — but
// tests need a clean stop.
func (s *Scanner) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *Scanner) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick performs one sweep (spec §4.F steps 1-5). It is a separate,
// unexported method so tests can drive a single sweep deterministically
// instead of waiting on the ticker.
func (s *Scanner) tick() {
	registry := s.tracer.Registry()
	snapshot := registry.Snapshot()
	threshold := s.tracer.StalenessThresholdNS()
	now := clock.NowNS()

	leaksFound := 0
	for _, entry := range snapshot {
		if !s.sampler.ShouldScan(len(snapshot)) {
			continue
		}

		h := entry.Header
		if !h.IsLive() {
			// Entry was concurrently freed mid-sweep; the magic check
			// filters the torn read (spec §4.F step 2, §9 Open Question).
			continue
		}

		staleness := h.Staleness(now)
		if staleness <= threshold {
			continue
		}

		leaksFound++
		s.reportLeak(entry, staleness, now)
	}

	s.summarize(registry, leaksFound)
}

func (s *Scanner) reportLeak(entry activeset.Entry, staleness, now int64) {
	h := entry.Header

	if pub := s.tracer.Publisher(); pub != nil {
		pub.Publish(eventchan.Event{
			EventType: eventchan.EventLeak,
			Timestamp: now,
			ThreadID:  h.ThreadID,
			Payload: eventchan.Payload{
				Address: uint64(uintptr(entry.UserPtr)),
				Size:    h.Size,
				Extra:   staleness,
				SiteID:  uint32(h.SiteID),
			},
		})
		pub.AddLeak()
	}

	if s.out != nil {
		fmt.Fprintf(s.out, "[LEAK] %p: %d bytes, stale for %.2fs, site_id=%d\n",
			entry.UserPtr, h.Size, float64(staleness)/1e9, h.SiteID)
	}
}

func (s *Scanner) summarize(registry *activeset.Registry, leaksFound int) {
	if s.out == nil {
		return
	}
	fmt.Fprintf(s.out, "[SCANNER] active allocations: %d\n", registry.Len())
	if leaksFound > 0 {
		fmt.Fprintf(s.out, "[SCANNER] found %d potential leak(s)\n", leaksFound)
	}
}
