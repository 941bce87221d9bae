package dma

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/kenichisakai-git/tofcore/internal/errs"
)

// SimDevice is an in-memory stand-in for the hardware ring, used in
// --no-fpga mode and by tests exercising the no-overtake invariant. It
// reproduces the producer/consumer modulo-2N bookkeeping exactly; only
// the BAR0/mmap mechanics are simulated away.
type SimDevice struct {
	mu        sync.Mutex
	parts     int
	psize     int
	partition [][]byte // parts entries, each psize bytes (header + body)
	producer  uint32   // modulo 2*parts
	armed     bool
	version   uint32

	consumer uint32 // last value written to RegConsumer, for test assertions
}

// NewSimDevice constructs a simulated device with the given partition
// count and per-partition size (header included).
func NewSimDevice(partitions, partitionSize int) *SimDevice {
	bufs := make([][]byte, partitions)
	for i := range bufs {
		bufs[i] = make([]byte, partitionSize)
	}
	return &SimDevice{parts: partitions, psize: partitionSize, partition: bufs, version: 1}
}

// PushFrame writes a partition-sized frame (header + body, caller
// supplies nwords in the header already) at the current producer slot
// and advances the producer modulo 2N. It is the simulated equivalent
// of the FPGA depositing a new partition.
func (d *SimDevice) PushFrame(header uint64, body []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// "full" is producer-consumer difference == N; callers are
	// expected not to outrun the consumer, so this only guards against
	// a test bug, not a real backpressure signal -- the real signal is
	// the consumer's own no-overtake check in Ring.Read.
	if (d.producer+uint32(2*d.parts)-d.consumer)%uint32(2*d.parts) == uint32(d.parts) {
		return fmt.Errorf("ring full: producer %d is %d partitions ahead of consumer %d", d.producer, d.parts, d.consumer)
	}

	idx := int(d.producer) % d.parts
	if len(body)+8 > d.psize {
		return fmt.Errorf("frame body %d bytes exceeds partition capacity", len(body))
	}
	binary.LittleEndian.PutUint64(d.partition[idx][:8], header)
	copy(d.partition[idx][8:], body)

	d.producer = (d.producer + 1) % uint32(2*d.parts)
	return nil
}

func (d *SimDevice) ReadRegister(offset uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case RegProducer:
		return d.producer, nil
	default:
		return 0, nil
	}
}

func (d *SimDevice) WriteRegister(offset, value uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset == RegArm {
		d.armed = value&armBit == armBit
	}
	if offset == RegConsumer {
		d.consumer = value
	}
	return nil
}

// Consumer reports the last value the ring wrote back to RegConsumer.
func (d *SimDevice) Consumer() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumer
}

func (d *SimDevice) ReadVersion() (uint32, error) {
	return d.version, nil
}

func (d *SimDevice) ReadPartitionHeader(idx int) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= d.parts {
		return 0, errs.NewIO(fmt.Errorf("partition index %d out of range [0,%d)", idx, d.parts))
	}
	return binary.LittleEndian.Uint64(d.partition[idx][:8]), nil
}

func (d *SimDevice) CopyPartitionBody(idx int, dst []byte, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= d.parts {
		return errs.NewIO(fmt.Errorf("partition index %d out of range [0,%d)", idx, d.parts))
	}
	if n > d.psize-8 || n > len(dst) {
		return errs.NewIO(fmt.Errorf("partition body length %d exceeds available space", n))
	}
	copy(dst[:n], d.partition[idx][8:8+n])
	return nil
}

func (d *SimDevice) Close() error { return nil }
