// Package clock provides the timestamps and identifiers that back every
// allocation header and event record: a monotonic nanosecond clock, a
// stable OS thread identifier, and a compact call-site fingerprint.
//
// Every function here is called on the allocator hot path, so the same
// performance discipline the teacher runtime applies to its epoch package
// applies here: no allocations, no locks beyond what the platform already
// pays for.
package clock

import (
	"bytes"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// start anchors NowNS's monotonic reading. time.Since is itself monotonic
// on all platforms Go supports, so this only exists to produce a clock that
// starts near zero instead of near the Unix epoch, matching the spirit of
// CLOCK_MONOTONIC in the original C agent.
var start = time.Now()

// NowNS returns nanoseconds on a monotonic clock, used for both header
// timestamps and event timestamps so staleness comparisons are internally
// consistent (spec §4.A).
//
//go:nosplit
func NowNS() int64 {
	return int64(time.Since(start))
}

// ThreadID returns a stable identifier for the calling OS thread.
//
// REDESIGN (spec §9 Design Notes, "Thread identifier width"): the source
// agent casts pthread_self() to a 32-bit int, which truncates on LP64
// platforms. This implementation returns a genuine 64-bit identifier: the
// kernel thread id on Linux (stable for the life of the OS thread, and
// immune to the goroutine-to-thread reassignment the Go scheduler performs
// between blocking calls), or the calling goroutine's own id elsewhere.
//
//go:nosplit
func ThreadID() uint64 {
	if tid, ok := linuxGettid(); ok {
		return tid
	}
	return fallbackThreadID()
}

func linuxGettid() (uint64, bool) {
	if runtime.GOOS != "linux" {
		return 0, false
	}
	return uint64(unix.Gettid()), true
}

// fallbackThreadID extracts the runtime's own goroutine id from the
// "goroutine N [state]:" header of a stack trace. It is only used on
// platforms without a cheap kernel thread id (non-Linux); unlike the
// kernel tid, this identifies the goroutine rather than the OS thread it
// happens to be running on, which is the closest stable substitute
// available without calling into the runtime's private scheduler state.
func fallbackThreadID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return 0
	}
	line = line[len(prefix):]
	end := bytes.IndexByte(line, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(line[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// SiteID returns a compact fingerprint of the caller's return address:
// (returnAddress >> 4) & 0xFFFF (spec §4.A). It is stable across a single
// process run, cheap to compute, and small enough to aggregate by call
// site externally — no symbolication is attempted (spec §1 Non-goals).
//
// skip controls how many additional frames to discard beyond SiteID's own
// frame, mirroring runtime.Callers' skip parameter: pass 0 to fingerprint
// SiteID's direct caller.
//
//go:nosplit
func SiteID(skip int) uint16 {
	var pcs [1]uintptr
	n := runtime.Callers(2+skip, pcs[:])
	if n == 0 {
		return 0
	}
	return uint16((pcs[0] >> 4) & 0xFFFF)
}
