//go:build unix

package eventchan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrMapFailed is returned by OpenNamed when the shared-memory object can't
// be created or mapped. Callers should treat this as non-fatal (spec §7
// "Shared-memory failure"): the Tracer degrades to headers-and-counters-only
// operation, dropping events silently.
var ErrMapFailed = errors.New("eventchan: failed to create or map shared memory")

// shmDir is where the named object backing a Buffer lives. On Linux,
// /dev/shm is the tmpfs that glibc's shm_open itself uses under the hood,
// so opening a file there is the same mechanism the POSIX API wraps (spec
// §6: "Name: a fixed POSIX shared-memory name"). Other unix targets don't
// have a conventional tmpfs mount point, so they fall back to the OS temp
// directory — still a real mmap'd, shared, named file, just not
// guaranteed to be memory-backed.
func shmDir() string {
	if runtime.GOOS == "linux" {
		return "/dev/shm"
	}
	return os.TempDir()
}

// MappedBuffer is a Buffer backed by a named, memory-mapped shared-memory
// object, plus the handles needed to unmap and unlink it on Close.
type MappedBuffer struct {
	*Buffer
	mem    []byte
	fd     int
	path   string
	unlink bool
}

// OpenNamed creates (or opens) the shared-memory object named name,
// truncates it to sizeof(Buffer), maps it PROT_READ|PROT_WRITE MAP_SHARED,
// and zeroes it, whether or not this call created it (spec §4.G Startup, §6
// "Permissions 0666").
func OpenNamed(name string) (*MappedBuffer, error) {
	path := filepath.Join(shmDir(), name)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMapFailed, path, err)
	}

	size := int(unsafe.Sizeof(Buffer{}))
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: ftruncate %s: %v", ErrMapFailed, path, err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrMapFailed, path, err)
	}

	for i := range mem {
		mem[i] = 0
	}

	return &MappedBuffer{
		Buffer: (*Buffer)(unsafe.Pointer(&mem[0])),
		mem:    mem,
		fd:     fd,
		path:   path,
		unlink: true,
	}, nil
}

// OpenExistingNamed attaches to an already-created shared-memory object
// without truncating or zeroing it, for use by external readers (spec §1,
// §4.E "An external reader attaches to (E) by name").
func OpenExistingNamed(name string) (*MappedBuffer, error) {
	path := filepath.Join(shmDir(), name)

	fd, err := unix.Open(path, unix.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMapFailed, path, err)
	}

	size := int(unsafe.Sizeof(Buffer{}))
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrMapFailed, path, err)
	}

	return &MappedBuffer{
		Buffer: (*Buffer)(unsafe.Pointer(&mem[0])),
		mem:    mem,
		fd:     fd,
		path:   path,
	}, nil
}

// Close unmaps and unlinks the shared-memory object (spec §4.G Shutdown,
// §8 "Idempotent shutdown": re-running the tracer in a new process must
// succeed after a clean exit).
func (m *MappedBuffer) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(m.mem); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(m.fd); err != nil {
		errs = append(errs, err)
	}
	if m.unlink {
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
