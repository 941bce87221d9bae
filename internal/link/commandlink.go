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

const (
	readTimeout      = 100 * time.Millisecond
	readChunkSize    = 1024
	socketErrBackoff = 2 * time.Second
	connectBackoff   = 5 * time.Second
)

// Handler processes one received packet. It is invoked strictly in
// wire order, after the ACK for the same packet has already been sent
// -- see spec.md §4.4 step (g)/(h) and the ACK-before-CALLBACK
// ordering guarantee in §5.
type Handler func(pkt frame.Packet)

// CommandLink maintains one outbound TCP connection to the Hub's
// command port, reassembling the stream into Packets and delivering
// them to Handler in order, ACKing each after a successful parse.
//
// Grounded on the teacher's enclave_client.go request/response loop
// (goroutine + mutex-guarded state, logged and retried transport
// errors) generalized from a request/reply protocol to a persistent
// framed stream.
type CommandLink struct {
	hubAddr string
	handler Handler
	log     *logging.Logger
	reg     *fdreg.Registry

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewCommandLink(hubAddr string, handler Handler, reg *fdreg.Registry, log *logging.Logger) *CommandLink {
	return &CommandLink{hubAddr: hubAddr, handler: handler, reg: reg, log: log}
}

// Start launches the connect/reassemble/dispatch loop in a background
// goroutine. It is idempotent; calling Start twice without an
// intervening Stop is a no-op.
func (c *CommandLink) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
}

// Stop signals the loop to exit and blocks until it has joined.
func (c *CommandLink) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.running = false
	c.mu.Unlock()

	close(stop)
	<-done
}

func (c *CommandLink) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", c.hubAddr, connectBackoff)
		if err != nil {
			backoff := connectBackoff
			if isAddrOrLookupError(err) {
				backoff = socketErrBackoff
			}
			c.log.Warning(logx.Yellow(fmt.Sprintf("command link: connect failed: %s", err)))
			if waitOrStop(backoff, stop) {
				return
			}
			continue
		}

		fd, fdErr := rawFD(conn)
		if fdErr == nil {
			c.reg.AddClient(fd)
		}

		if c.serve(conn, fd, fdErr == nil, stop) {
			if fdErr == nil {
				c.reg.RemoveClient(fd)
			} else {
				conn.Close()
			}
			return
		}
		if fdErr == nil {
			c.reg.RemoveClient(fd)
		} else {
			conn.Close()
		}
	}
}

// serve reassembles and dispatches packets on conn until it is closed,
// an unrecoverable stream error occurs, or stop fires. It returns true
// if the caller should exit the outer reconnect loop entirely.
func (c *CommandLink) serve(conn net.Conn, fd int, registered bool, stop <-chan struct{}) (exit bool) {
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
			c.log.Notice("command link: read error, reconnecting:", err)
			return false
		}
		if n == 0 {
			continue
		}

		pkts, rerr := r.Feed(buf[:n])
		for _, pkt := range pkts {
			if sendErr := c.ack(conn, fd, registered, pkt); sendErr != nil {
				c.log.Error("command link: ack send failed, reconnecting:", sendErr)
				return false
			}
			logx.RecoverToLog(func() { c.handler(pkt) }, c.log)
		}
		if rerr != nil {
			c.log.Error("command link: stream corrupt, reconnecting:", rerr)
			return false
		}
	}
}

func (c *CommandLink) ack(conn net.Conn, fd int, registered bool, received frame.Packet) error {
	ackPkt, err := frame.New(received.Code, int32(frame.Size(received)))
	if err != nil {
		return errs.NewProtocol(err)
	}
	buf, err := frame.Serialize(ackPkt)
	if err != nil {
		return errs.NewProtocol(err)
	}
	if registered {
		_, err = c.reg.SendOn(fd, buf)
	} else {
		_, err = conn.Write(buf)
	}
	if err != nil {
		return errs.NewTransport(err)
	}
	return nil
}

// waitOrStop sleeps for d unless stop fires first; it reports whether
// stop fired.
func waitOrStop(d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return true
	case <-timer.C:
		return false
	}
}
