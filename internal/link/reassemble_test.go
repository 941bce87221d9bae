package link

import (
	"testing"

	"github.com/kenichisakai-git/tofcore/internal/frame"
)

func serialize(t *testing.T, pkt frame.Packet) []byte {
	t.Helper()
	buf, err := frame.Serialize(pkt)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return buf
}

// TestReassemblyArbitraryChunking drives property 2: for any partition
// of the concatenated serializations of a packet sequence into
// arbitrary chunks, feeding them in order yields exactly that
// sequence.
func TestReassemblyArbitraryChunking(t *testing.T) {
	pkts := []frame.Packet{
		{Code: frame.MakeSimpleChannelMap},
		{Code: frame.MakeSimpleDiscSetTable, Argv: []int32{1, 2, 3}},
		{Code: frame.AcquireSiPMData, Argv: []int32{60, 1}},
	}
	var whole []byte
	for _, p := range pkts {
		whole = append(whole, serialize(t, p)...)
	}

	chunkSizes := [][]int{
		{len(whole)},                     // one chunk
		splitEvery(whole, 1),              // byte-at-a-time
		splitEvery(whole, 7),              // arbitrary small chunks
		{len(whole) / 2, len(whole) - len(whole)/2},
	}

	for _, sizes := range chunkSizes {
		var r Reassembler
		var got []frame.Packet
		off := 0
		for _, n := range sizes {
			chunk := whole[off : off+n]
			off += n
			pkts, err := r.Feed(chunk)
			if err != nil {
				t.Fatalf("Feed: %v", err)
			}
			got = append(got, pkts...)
		}
		if len(got) != len(pkts) {
			t.Fatalf("got %d packets, want %d (sizes=%v)", len(got), len(pkts), sizes)
		}
		for i := range pkts {
			if got[i].Code != pkts[i].Code || !int32SliceEqual(got[i].Argv, pkts[i].Argv) {
				t.Fatalf("packet %d mismatch: got %+v, want %+v", i, got[i], pkts[i])
			}
		}
	}
}

func splitEvery(data []byte, n int) []int {
	var sizes []int
	for len(data) > 0 {
		c := n
		if c > len(data) {
			c = len(data)
		}
		sizes = append(sizes, c)
		data = data[c:]
	}
	return sizes
}

func int32SliceEqual(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReassemblyRejectsArgcOverflow(t *testing.T) {
	var r Reassembler
	buf := make([]byte, 14)
	buf[6], buf[7] = 0x27, 0x0F // argc = 9999
	_, err := r.Feed(buf)
	if err == nil {
		t.Fatalf("expected error for argc overflow")
	}
}

func TestReassemblyWaitsForMoreData(t *testing.T) {
	var r Reassembler
	pkt := frame.Packet{Code: frame.InitSystem, Argv: []int32{1, 2}}
	whole := serialize(t, pkt)

	pkts, err := r.Feed(whole[:len(whole)-1])
	if err != nil {
		t.Fatalf("Feed partial: %v", err)
	}
	if len(pkts) != 0 {
		t.Fatalf("expected no packets yet, got %d", len(pkts))
	}

	pkts, err = r.Feed(whole[len(whole)-1:])
	if err != nil {
		t.Fatalf("Feed remainder: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}
}

func TestResetDiscardsPartialData(t *testing.T) {
	var r Reassembler
	pkt := frame.Packet{Code: frame.InitSystem}
	whole := serialize(t, pkt)
	r.Feed(whole[:10])
	r.Reset()
	pkts, err := r.Feed(whole[10:])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(pkts) != 0 {
		t.Fatalf("expected 0 packets after reset discarded the prefix, got %d", len(pkts))
	}
}
