package dma

import (
	"sync"
	"time"

	"github.com/kenichisakai-git/tofcore/internal/errs"
)

const pollQuantum = 10 * time.Microsecond
const pollAttempts = 10

// Ring drains a partitioned DMA buffer through dev, reproducing the
// kernel driver's read() algorithm from the spec's §4.6 step by step:
// arm, poll briefly on an empty ring, copy one partition body per
// iteration, advance the consumer modulo 2N, and stop once the
// caller's buffer cannot hold another whole partition.
type Ring struct {
	dev           IoctlDevice
	partitions    int
	partitionSize int // B/N, header included

	mu       sync.Mutex
	consumer uint32 // modulo 2*partitions
}

// NewRing wraps dev, which must expose a ring of the given geometry.
func NewRing(dev IoctlDevice, partitions, partitionSize int) *Ring {
	return &Ring{dev: dev, partitions: partitions, partitionSize: partitionSize}
}

// Read fills buf with as many whole partition bodies as fit,
// returning the number of bytes written. A return of 0 with a nil
// error means the ring was empty for the full poll window.
func (r *Ring) Read(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bodySize := r.partitionSize - 8
	if err := r.dev.WriteRegister(RegArm, armBit|uint32(r.partitionSize)); err != nil {
		return 0, errs.NewResource(err)
	}

	written := 0
	for {
		producer, err := r.dev.ReadRegister(RegProducer)
		if err != nil {
			r.disarm()
			return written, errs.NewResource(err)
		}

		if producer == r.consumer {
			empty := true
			for i := 0; i < pollAttempts; i++ {
				time.Sleep(pollQuantum)
				producer, err = r.dev.ReadRegister(RegProducer)
				if err != nil {
					r.disarm()
					return written, errs.NewResource(err)
				}
				if producer != r.consumer {
					empty = false
					break
				}
			}
			if empty {
				return written, nil
			}
		}

		idx := int(r.consumer) % r.partitions
		header, err := r.dev.ReadPartitionHeader(idx)
		if err != nil {
			r.disarm()
			return written, errs.NewResource(err)
		}
		nwords := int((header >> headerWordCountShift) & headerWordCountMask)
		nbytes := nwords * 8
		if nbytes > bodySize {
			r.disarm()
			return written, errs.NewProtocol(errPartitionOverflow(nwords, bodySize/8))
		}

		if err := r.dev.CopyPartitionBody(idx, buf[written:written+nbytes], nbytes); err != nil {
			r.disarm()
			return written, errs.NewResource(err)
		}
		written += nbytes
		r.consumer = (r.consumer + 1) % uint32(2*r.partitions)
		if err := r.dev.WriteRegister(RegConsumer, r.consumer); err != nil {
			r.disarm()
			return written, errs.NewResource(err)
		}

		if len(buf)-written < r.partitionSize {
			return written, nil
		}
	}
}

// disarm clears the arm bit and writes back the consumer pointer, so
// a faulting device still sees the reader's true position.
func (r *Ring) disarm() {
	r.dev.WriteRegister(RegArm, 0)
	r.dev.WriteRegister(RegConsumer, r.consumer)
}

// Occupancy reports the number of unconsumed partitions, derived from
// the modulo-2N producer/consumer difference: 0 is empty, partitions
// is full.
func (r *Ring) Occupancy() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	producer, err := r.dev.ReadRegister(RegProducer)
	if err != nil {
		return 0, errs.NewResource(err)
	}
	diff := (producer + uint32(2*r.partitions) - r.consumer) % uint32(2*r.partitions)
	return diff, nil
}
