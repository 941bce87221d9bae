package link

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/kenichisakai-git/tofcore/internal/fdreg"
	"github.com/kenichisakai-git/tofcore/internal/frame"
	"github.com/op/go-logging"
)

func testLogger() *logging.Logger {
	return logging.MustGetLogger("test")
}

// TestCommandLinkAcksEachReceivedPacket drives scenario S1:
// a single command produces exactly one ACK naming the received
// packet's size.
func TestCommandLinkAcksEachReceivedPacket(t *testing.T) {
	hubListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer hubListener.Close()

	received := make(chan frame.Packet, 4)
	reg := fdreg.New()
	cl := NewCommandLink(hubListener.Addr().String(), func(pkt frame.Packet) {
		received <- pkt
	}, reg, testLogger())
	cl.Start()
	defer cl.Stop()

	hubConn, err := hubListener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer hubConn.Close()

	sent := frame.Packet{Code: frame.InitSystem}
	sentBuf, err := frame.Serialize(sent)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if _, err := hubConn.Write(sentBuf); err != nil {
		t.Fatalf("write: %v", err)
	}

	hubConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ackBuf := make([]byte, 32)
	n, err := io.ReadAtLeast(hubConn, ackBuf, 14)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ackPkt, err := frame.Parse(ackBuf[:n])
	if err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if ackPkt.Code != sent.Code {
		t.Fatalf("ack code = %v, want %v (ack must echo the received command's code)", ackPkt.Code, sent.Code)
	}
	if len(ackPkt.Argv) != 1 || ackPkt.Argv[0] != int32(frame.Size(sent)) {
		t.Fatalf("ack argv = %v, want [%d]", ackPkt.Argv, frame.Size(sent))
	}

	select {
	case pkt := <-received:
		if pkt.Code != sent.Code {
			t.Fatalf("handler got code %v, want %v", pkt.Code, sent.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler was not invoked")
	}
}

func TestCommandLinkReconnectsAfterHubRestart(t *testing.T) {
	hubListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := hubListener.Addr().String()

	received := make(chan frame.Packet, 4)
	reg := fdreg.New()
	cl := NewCommandLink(addr, func(pkt frame.Packet) {
		received <- pkt
	}, reg, testLogger())
	cl.Start()
	defer cl.Stop()

	conn1, err := hubListener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	conn1.Close()
	hubListener.Close()

	// restart the hub listener on the same address
	hubListener2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer hubListener2.Close()

	conn2, err := hubListener2.Accept()
	if err != nil {
		t.Fatalf("accept after restart: %v", err)
	}
	defer conn2.Close()

	sent := frame.Packet{Code: frame.MakeSimpleChannelMap}
	buf, _ := frame.Serialize(sent)
	if _, err := conn2.Write(buf); err != nil {
		t.Fatalf("write after reconnect: %v", err)
	}

	select {
	case pkt := <-received:
		if pkt.Code != sent.Code {
			t.Fatalf("got %v, want %v", pkt.Code, sent.Code)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("command link did not reconnect and deliver the packet")
	}
}
