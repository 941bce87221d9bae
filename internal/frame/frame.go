// Package frame implements the control-plane wire framing: a fixed
// big-endian layout with a magic header, a command code, a bounded
// argument vector, a CRC, and a footer. See spec.md §4.2.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/kenichisakai-git/tofcore/internal/errs"
)

const (
	magic1 uint16 = 0xEB90
	magic2 uint16 = 0x5B6A
	foot1  uint16 = 0xC5A4
	foot2  uint16 = 0xD279

	// MaxArgc is the hard cap on argument count.
	MaxArgc = 32

	// minSize is the wire size of a packet with argc == 0.
	minSize = 14
)

// Packet is one unit of control-plane traffic.
type Packet struct {
	Code CommandCode
	Argv []int32
}

// New builds a Packet, enforcing the argc cap.
func New(code CommandCode, argv ...int32) (Packet, error) {
	if len(argv) > MaxArgc {
		return Packet{}, errs.NewProtocol(fmt.Errorf("argc %d exceeds cap %d", len(argv), MaxArgc))
	}
	return Packet{Code: code, Argv: append([]int32(nil), argv...)}, nil
}

// Size returns the wire size of pkt: 14 + 4*argc bytes.
func Size(pkt Packet) int {
	return minSize + 4*len(pkt.Argv)
}

// Serialize produces the wire bytes for pkt with a freshly computed
// CRC.
func Serialize(pkt Packet) ([]byte, error) {
	return serializeWithCRCFunc(pkt, nil)
}

// SerializeWithCRC produces the wire bytes for pkt using a
// caller-supplied CRC value, for interoperability testing against
// peers that compute CRC differently.
func SerializeWithCRC(pkt Packet, crc uint16) ([]byte, error) {
	c := crc
	return serializeWithCRCFunc(pkt, &c)
}

func serializeWithCRCFunc(pkt Packet, crcOverride *uint16) ([]byte, error) {
	if len(pkt.Argv) > MaxArgc {
		return nil, errs.NewProtocol(fmt.Errorf("argc %d exceeds cap %d", len(pkt.Argv), MaxArgc))
	}
	size := Size(pkt)
	buf := make([]byte, size)

	binary.BigEndian.PutUint16(buf[0:2], magic1)
	binary.BigEndian.PutUint16(buf[2:4], magic2)
	binary.BigEndian.PutUint16(buf[4:6], uint16(pkt.Code))
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(pkt.Argv)))
	for i, v := range pkt.Argv {
		binary.BigEndian.PutUint32(buf[8+4*i:12+4*i], uint32(v))
	}

	crcEnd := 8 + 4*len(pkt.Argv)
	var crc uint16
	if crcOverride != nil {
		crc = *crcOverride
	} else {
		crc = crc16(buf[:crcEnd])
	}
	binary.BigEndian.PutUint16(buf[crcEnd:crcEnd+2], crc)
	binary.BigEndian.PutUint16(buf[crcEnd+2:crcEnd+4], foot1)
	binary.BigEndian.PutUint16(buf[crcEnd+4:crcEnd+6], foot2)

	return buf, nil
}

// Parse decodes exactly one framed packet from buf, which must contain
// precisely one packet's bytes (no trailing data, no partial data).
// Use a Reassembler (reassemble.go) to find packet boundaries in a
// byte stream first.
func Parse(buf []byte) (Packet, error) {
	if len(buf) < minSize {
		return Packet{}, errs.NewProtocol(fmt.Errorf("buffer too short: %d bytes, need >= %d", len(buf), minSize))
	}
	if binary.BigEndian.Uint16(buf[0:2]) != magic1 || binary.BigEndian.Uint16(buf[2:4]) != magic2 {
		return Packet{}, errs.NewProtocol(fmt.Errorf("magic mismatch"))
	}
	code := CommandCode(binary.BigEndian.Uint16(buf[4:6]))
	argc := int(binary.BigEndian.Uint16(buf[6:8]))
	if argc > MaxArgc {
		return Packet{}, errs.NewProtocol(fmt.Errorf("argc %d exceeds cap %d", argc, MaxArgc))
	}
	expected := minSize + 4*argc
	if len(buf) < expected {
		return Packet{}, errs.NewProtocol(fmt.Errorf("declared length %d exceeds buffer %d", expected, len(buf)))
	}

	crcEnd := 8 + 4*argc
	wantCRC := binary.BigEndian.Uint16(buf[crcEnd : crcEnd+2])
	gotCRC := crc16(buf[:crcEnd])
	if wantCRC != gotCRC {
		return Packet{}, errs.NewProtocol(fmt.Errorf("CRC mismatch: got %#04x want %#04x", gotCRC, wantCRC))
	}
	if binary.BigEndian.Uint16(buf[crcEnd+2:crcEnd+4]) != foot1 || binary.BigEndian.Uint16(buf[crcEnd+4:crcEnd+6]) != foot2 {
		return Packet{}, errs.NewProtocol(fmt.Errorf("footer mismatch"))
	}

	argv := make([]int32, argc)
	for i := 0; i < argc; i++ {
		argv[i] = int32(binary.BigEndian.Uint32(buf[8+4*i : 12+4*i]))
	}

	return Packet{Code: code, Argv: argv}, nil
}

// PeekArgc reads the declared argc from the first 8 bytes of buf
// without validating anything else. buf must be at least 8 bytes.
func PeekArgc(buf []byte) int {
	return int(binary.BigEndian.Uint16(buf[6:8]))
}
