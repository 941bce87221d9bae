package daq

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kenichisakai-git/tofcore/internal/errs"
	"golang.org/x/sys/unix"
)

// ShmRegion is a POSIX shared memory segment backing the run's
// inter-process frame buffer, named the way shm_open names it
// (a leading "/", resolved here under /dev/shm since Go has no
// portable shm_open wrapper).
type ShmRegion struct {
	name string
	fd   int
	Mem  []byte
}

// OpenShm creates (or attaches to) the named segment, sized to size
// bytes.
func OpenShm(name string, size int) (*ShmRegion, error) {
	path := filepath.Join("/dev/shm", strings.TrimPrefix(name, "/"))
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0660)
	if err != nil {
		return nil, errs.NewResource(fmt.Errorf("open shm %q: %w", name, err))
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, errs.NewResource(fmt.Errorf("truncate shm %q to %d: %w", name, size, err))
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errs.NewResource(fmt.Errorf("mmap shm %q: %w", name, err))
	}
	return &ShmRegion{name: name, fd: fd, Mem: mem}, nil
}

// Release unmaps and closes the segment's fd. The segment itself is
// left in /dev/shm for the next run to attach to; only cleanup()'s
// caller decides whether to unlink it (spec.md does not require
// unlinking shared memory on worker cleanup, only the UNIX socket).
func (s *ShmRegion) Release() error {
	if s.Mem != nil {
		if err := unix.Munmap(s.Mem); err != nil {
			return errs.NewResource(err)
		}
		s.Mem = nil
	}
	return unix.Close(s.fd)
}
