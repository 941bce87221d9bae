package link

import (
	"net"
	"testing"
	"time"

	"github.com/kenichisakai-git/tofcore/internal/fdreg"
	"github.com/kenichisakai-git/tofcore/internal/frame"
)

func TestEventLinkSendPacketDeliversOverActiveConn(t *testing.T) {
	hubListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer hubListener.Close()

	reg := fdreg.New()
	el := NewEventLink(hubListener.Addr().String(), nil, reg, testLogger())
	el.Start()
	defer el.Stop()

	hubConn, err := hubListener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer hubConn.Close()

	// wait for the link to register its connection before sending.
	deadline := time.Now().Add(2 * time.Second)
	for {
		el.connMu.Lock()
		conn := el.conn
		el.connMu.Unlock()
		if conn != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event link never established a connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	pkt, err := frame.New(frame.Callback, 1, 2, 3)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	if err := el.SendPacket(pkt); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	hubConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := hubConn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := frame.Parse(buf[:n])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Code != frame.Callback || len(got.Argv) != 3 {
		t.Fatalf("got %+v, want Callback with 3 args", got)
	}
}

func TestEventLinkSendPacketFailsWhenDisconnected(t *testing.T) {
	reg := fdreg.New()
	el := NewEventLink("127.0.0.1:1", nil, reg, testLogger())
	pkt, _ := frame.New(frame.HeartBeat)
	if err := el.SendPacket(pkt); err == nil {
		t.Fatalf("expected error sending with no active connection")
	}
}
