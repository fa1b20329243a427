//go:build !unix

package eventchan

import "fmt"

// ErrMapFailed is returned by OpenNamed when the shared-memory object
// can't be created or mapped.
var ErrMapFailed = fmt.Errorf("eventchan: shared memory unsupported on this platform")

// MappedBuffer is a no-op placeholder on platforms without mmap support.
type MappedBuffer struct {
	*Buffer
}

// OpenNamed always fails on non-unix platforms; the Tracer treats this as
// the "Shared-memory failure" degraded mode of spec §7.
func OpenNamed(name string) (*MappedBuffer, error) {
	return nil, ErrMapFailed
}

// OpenExistingNamed always fails on non-unix platforms.
func OpenExistingNamed(name string) (*MappedBuffer, error) {
	return nil, ErrMapFailed
}

// Close is a no-op.
func (m *MappedBuffer) Close() error { return nil }
