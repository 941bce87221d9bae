package link

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kenichisakai-git/tofcore/internal/errs"
	"github.com/kenichisakai-git/tofcore/internal/fdreg"
	"github.com/kenichisakai-git/tofcore/internal/frame"
	"github.com/kenichisakai-git/tofcore/internal/logx"
	"github.com/op/go-logging"
)

// Sink receives packets the Hub sends unsolicited over the event
// link. Used today only for diagnostics, per spec.md §4.5.
type Sink func(pkt frame.Packet)

// EventLink is the outbound half of the dual connection: it transmits
// CALLBACK and HEART_BEAT packets to the Hub and, in the background,
// parses and forwards anything the Hub sends back. Reconnect policy
// and reassembly discipline mirror CommandLink.
type EventLink struct {
	hubAddr string
	sink    Sink
	log     *logging.Logger
	reg     *fdreg.Registry

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	done       chan struct{}
	connMu     sync.Mutex
	conn       net.Conn
	connFD     int
	connIsReg  bool
}

func NewEventLink(hubAddr string, sink Sink, reg *fdreg.Registry, log *logging.Logger) *EventLink {
	return &EventLink{hubAddr: hubAddr, sink: sink, reg: reg, log: log}
}

func (e *EventLink) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(e.stop, e.done)
}

func (e *EventLink) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stop, done := e.stop, e.done
	e.running = false
	e.mu.Unlock()

	close(stop)
	<-done
}

func (e *EventLink) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", e.hubAddr, connectBackoff)
		if err != nil {
			backoff := connectBackoff
			if isAddrOrLookupError(err) {
				backoff = socketErrBackoff
			}
			e.log.Warning(logx.Yellow(fmt.Sprintf("event link: connect failed: %s", err)))
			if waitOrStop(backoff, stop) {
				return
			}
			continue
		}

		fd, fdErr := rawFD(conn)
		e.connMu.Lock()
		e.conn = conn
		e.connFD = fd
		e.connIsReg = fdErr == nil
		e.connMu.Unlock()
		if fdErr == nil {
			e.reg.AddClient(fd)
		}

		exit := e.serve(conn, stop)

		e.connMu.Lock()
		e.conn = nil
		e.connMu.Unlock()
		if fdErr == nil {
			e.reg.RemoveClient(fd)
		} else {
			conn.Close()
		}
		if exit {
			return
		}
	}
}

func (e *EventLink) serve(conn net.Conn, stop <-chan struct{}) (exit bool) {
	var r Reassembler
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-stop:
			return true
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			e.log.Notice("event link: read error, reconnecting:", err)
			return false
		}
		if n == 0 {
			continue
		}

		pkts, rerr := r.Feed(buf[:n])
		for _, pkt := range pkts {
			if e.sink != nil {
				logx.RecoverToLog(func() { e.sink(pkt) }, e.log)
			}
		}
		if rerr != nil {
			e.log.Error("event link: stream corrupt, reconnecting:", rerr)
			return false
		}
	}
}

// SendPacket serializes pkt and transmits it over the current
// connection, if any. Concurrent callers are serialized by the FD
// Registry's per-fd mutex when the connection's fd could be
// registered; otherwise they write through conn directly. connMu
// guards only the lookup of the current connection.
func (e *EventLink) SendPacket(pkt frame.Packet) error {
	buf, err := frame.Serialize(pkt)
	if err != nil {
		return errs.NewProtocol(err)
	}

	e.connMu.Lock()
	conn, fd, isReg := e.conn, e.connFD, e.connIsReg
	e.connMu.Unlock()
	if conn == nil {
		return errs.NewTransport(errNotConnected)
	}

	if isReg {
		_, err = e.reg.SendOn(fd, buf)
	} else {
		_, err = conn.Write(buf)
	}
	if err != nil {
		return errs.NewTransport(err)
	}
	return nil
}
