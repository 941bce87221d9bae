package daq

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/kenichisakai-git/tofcore/internal/dma"
	"github.com/kenichisakai-git/tofcore/internal/errs"
)

// gbeFrameServer talks to a network front-end over UDP; PETSYS
// requests arriving on the UNIX listener are forwarded as one
// datagram per request and answered with whatever comes back first.
type gbeFrameServer struct {
	frontEndAddr string
	conn         *net.UDPConn
}

func newGBEFrameServer(frontEndAddr string) *gbeFrameServer {
	return &gbeFrameServer{frontEndAddr: frontEndAddr}
}

func (g *gbeFrameServer) Open() error {
	addr, err := net.ResolveUDPAddr("udp", g.frontEndAddr)
	if err != nil {
		return errs.NewInit(err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return errs.NewInit(err)
	}
	g.conn = conn
	return nil
}

func (g *gbeFrameServer) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

func (g *gbeFrameServer) HandleRequest(conn net.Conn) (bool, error) {
	return relayRequest(conn, g.conn)
}

// pfpKX7FrameServer talks to a list of PCIe cards via the DMA ring
// consumer (internal/dma); each request is answered by draining
// whichever card's ring currently has data.
type pfpKX7FrameServer struct {
	cards         []int
	noFPGA        bool
	partitions    int
	partitionSize int

	devices []dma.IoctlDevice
	rings   []*dma.Ring
}

func newPFPKX7FrameServer(cards []int, noFPGA bool, partitions, partitionSize int) *pfpKX7FrameServer {
	return &pfpKX7FrameServer{cards: cards, noFPGA: noFPGA, partitions: partitions, partitionSize: partitionSize}
}

func (p *pfpKX7FrameServer) Open() error {
	for _, card := range p.cards {
		var dev dma.IoctlDevice
		var err error
		if p.noFPGA {
			dev = dma.NewSimDevice(p.partitions, p.partitionSize)
		} else {
			dev, err = dma.OpenDevice(fmt.Sprintf("/dev/psdaq%d", card), p.partitions)
		}
		if err != nil {
			p.closeOpened()
			return errs.NewInit(err)
		}
		p.devices = append(p.devices, dev)
		p.rings = append(p.rings, dma.NewRing(dev, p.partitions, p.partitionSize))
	}
	return nil
}

func (p *pfpKX7FrameServer) closeOpened() {
	for _, dev := range p.devices {
		dev.Close()
	}
	p.devices = nil
	p.rings = nil
}

func (p *pfpKX7FrameServer) Close() error {
	var firstErr error
	for _, dev := range p.devices {
		if err := dev.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *pfpKX7FrameServer) HandleRequest(conn net.Conn) (bool, error) {
	ok, err := relayRequest(conn, nil)
	if !ok || err != nil {
		return ok, err
	}

	buf := make([]byte, p.partitionSize)
	for _, ring := range p.rings {
		n, rerr := ring.Read(buf)
		if rerr != nil {
			return false, rerr
		}
		if n == 0 {
			continue
		}
		var replyLen [4]byte
		binary.BigEndian.PutUint32(replyLen[:], uint32(n))
		if _, err := conn.Write(replyLen[:]); err != nil {
			return false, errs.NewTransport(err)
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return false, errs.NewTransport(err)
		}
		return true, nil
	}
	var zero [4]byte
	if _, err := conn.Write(zero[:]); err != nil {
		return false, errs.NewTransport(err)
	}
	return true, nil
}

// relayRequest reads one length-prefixed PETSYS request from conn and,
// when upstream is non-nil, forwards it and relays the reply back.
// A io.EOF or length of zero signals the client hung up; that is a
// normal connection end, not an error.
func relayRequest(conn net.Conn, upstream io.ReadWriter) (bool, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, errs.NewTransport(err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return false, nil
	}
	req := make([]byte, n)
	if _, err := io.ReadFull(conn, req); err != nil {
		return false, errs.NewTransport(err)
	}

	if upstream == nil {
		return true, nil
	}
	if _, err := upstream.Write(req); err != nil {
		return false, errs.NewTransport(err)
	}
	reply := make([]byte, 65536)
	rn, err := upstream.Read(reply)
	if err != nil {
		return false, errs.NewTransport(err)
	}
	var replyLen [4]byte
	binary.BigEndian.PutUint32(replyLen[:], uint32(rn))
	if _, err := conn.Write(replyLen[:]); err != nil {
		return false, errs.NewTransport(err)
	}
	if _, err := conn.Write(reply[:rn]); err != nil {
		return false, errs.NewTransport(err)
	}
	return true, nil
}
