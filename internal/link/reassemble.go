// Package link implements the Command Link and Event Link: persistent
// outbound TCP connections to the Hub with automatic reconnect and
// framed-stream reassembly. See spec.md §4.4/§4.5.
package link

import (
	"github.com/kenichisakai-git/tofcore/internal/errs"
	"github.com/kenichisakai-git/tofcore/internal/frame"
)

// Reassembler turns a raw TCP byte stream into a sequence of framed
// Packets. It must persist for the lifetime of one connection -- the
// Design Notes call out the original bug pattern of treating a single
// recv() as "one packet"; this type exists specifically to avoid that.
type Reassembler struct {
	acc []byte
}

// Feed appends newData to the accumulator and extracts every complete
// packet now available. It returns the packets in wire order. A
// non-nil error means the stream is corrupt (argc overflow or a parse
// failure) and the connection must be closed and reconnected; whatever
// packets were successfully extracted before the corruption are still
// returned alongside the error.
func (r *Reassembler) Feed(newData []byte) ([]frame.Packet, error) {
	r.acc = append(r.acc, newData...)

	var out []frame.Packet
	for len(r.acc) >= 14 {
		argc := frame.PeekArgc(r.acc)
		if argc > frame.MaxArgc {
			return out, errs.NewProtocol(errArgcOverflow(argc))
		}
		expected := 14 + 4*argc
		if len(r.acc) < expected {
			break
		}

		frameBytes := r.acc[:expected]
		r.acc = r.acc[expected:]

		pkt, err := frame.Parse(frameBytes)
		if err != nil {
			return out, err
		}
		out = append(out, pkt)
	}
	return out, nil
}

// Reset discards any partial data in the accumulator. Call this after
// a reconnect -- a new TCP connection starts a new byte stream.
func (r *Reassembler) Reset() {
	r.acc = r.acc[:0]
}
