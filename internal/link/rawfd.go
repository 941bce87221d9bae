package link

import (
	"fmt"
	"net"
	"syscall"
)

// syscallConner is implemented by *net.TCPConn (and *net.UnixConn);
// it exposes the raw fd needed to register a connection with the FD
// Registry (fdreg), which issues MSG_NOSIGNAL sends on raw fds rather
// than through the Go runtime's net.Conn.Write path.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// rawFD extracts the underlying kernel fd from conn. The returned fd
// is NOT duplicated: closing it independently of conn will break conn.
func rawFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscallConner)
	if !ok {
		return 0, fmt.Errorf("connection type %T does not expose a raw fd", conn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := rc.Control(func(v uintptr) {
		fd = int(v)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
