package dma

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/kenichisakai-git/tofcore/internal/errs"
	"golang.org/x/sys/unix"
)

// ioctl request numbers for /dev/psdaqN. Constructed the same way
// golang.org/x/sys/unix encodes _IOR/_IOW/_IOWR elsewhere in the
// package: direction, size, type, and number packed into the request
// word passed to SYS_IOCTL.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	psdaqType = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (psdaqType << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

var (
	ioctlReadRegister  = ioc(iocRead, 1, unsafe.Sizeof(regIO{}))
	ioctlWriteRegister = ioc(iocWrite, 2, unsafe.Sizeof(regIO{}))
	ioctlReadVersion   = ioc(iocRead, 3, unsafe.Sizeof(uint32(0)))
)

type regIO struct {
	Offset uint32
	Value  uint32
}

// unixDevice drives a real /dev/psdaqN node via raw SYS_IOCTL calls,
// and reads the partitioned DMA buffer through the device's mmap'd
// region opened alongside the fd.
type unixDevice struct {
	fd    int
	buf   []byte // mmap'd DMA buffer, B = 4096*8*N bytes
	parts int
	psize int // B/N, bytes per partition including header
}

// OpenDevice opens path (e.g. "/dev/psdaq0"), mmaps its DMA buffer,
// and returns an IoctlDevice driving it.
func OpenDevice(path string, partitions int) (IoctlDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errs.NewIO(fmt.Errorf("open %s: %w", path, err))
	}
	psize := 4096 * 8
	size := psize * partitions
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errs.NewIO(fmt.Errorf("mmap %s: %w", path, err))
	}
	return &unixDevice{fd: fd, buf: mem, parts: partitions, psize: psize}, nil
}

func (d *unixDevice) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *unixDevice) ReadRegister(offset uint32) (uint32, error) {
	io := regIO{Offset: offset}
	if err := d.ioctl(ioctlReadRegister, unsafe.Pointer(&io)); err != nil {
		return 0, errs.NewIO(fmt.Errorf("read register %d: %w", offset, err))
	}
	return io.Value, nil
}

func (d *unixDevice) WriteRegister(offset, value uint32) error {
	io := regIO{Offset: offset, Value: value}
	if err := d.ioctl(ioctlWriteRegister, unsafe.Pointer(&io)); err != nil {
		return errs.NewIO(fmt.Errorf("write register %d: %w", offset, err))
	}
	return nil
}

func (d *unixDevice) ReadVersion() (uint32, error) {
	var v uint32
	if err := d.ioctl(ioctlReadVersion, unsafe.Pointer(&v)); err != nil {
		return 0, errs.NewIO(fmt.Errorf("read version: %w", err))
	}
	return v, nil
}

func (d *unixDevice) ReadPartitionHeader(idx int) (uint64, error) {
	if idx < 0 || idx >= d.parts {
		return 0, errs.NewIO(fmt.Errorf("partition index %d out of range [0,%d)", idx, d.parts))
	}
	off := idx * d.psize
	return binary.LittleEndian.Uint64(d.buf[off : off+8]), nil
}

func (d *unixDevice) CopyPartitionBody(idx int, dst []byte, n int) error {
	if idx < 0 || idx >= d.parts {
		return errs.NewIO(fmt.Errorf("partition index %d out of range [0,%d)", idx, d.parts))
	}
	if n > d.psize-8 || n > len(dst) {
		return errs.NewIO(fmt.Errorf("partition body length %d exceeds available space", n))
	}
	off := idx*d.psize + 8
	copy(dst[:n], d.buf[off:off+n])
	return nil
}

func (d *unixDevice) Close() error {
	unix.Munmap(d.buf)
	return unix.Close(d.fd)
}
