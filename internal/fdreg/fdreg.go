// Package fdreg is the process-wide authority over every network and
// UNIX socket the control core opens. It generalizes the teacher's
// ad-hoc socket helpers (socket.go, socket_unix.go, socket_linux.go)
// into a single owned collaborator, per the Design Notes' guidance
// against ambient globals: the Controller constructs one Registry and
// passes it to the Command Link and Event Link, which register their
// Hub connections. The DAQ Worker does not receive it: its UNIX
// listener, accepted frame-client connections, shared memory and DMA
// device fds are not registered here.
package fdreg

import (
	"sync"

	"github.com/kenichisakai-git/tofcore/internal/errs"
	"golang.org/x/sys/unix"
)

// Role names a socket's purpose within the core.
type Role string

const (
	RoleCommandServer Role = "command"
	RoleEventServer   Role = "event"
	RoleDAQ           Role = "daq"
	RoleClient        Role = "client"
)

type entry struct {
	fd   int
	role Role
	mu   sync.Mutex
}

// Registry owns every fd added via Set*/Add* until it is removed or
// the registry is closed.
type Registry struct {
	mu       sync.Mutex
	servers  map[Role]*entry
	clients  map[int]*entry
}

func New() *Registry {
	return &Registry{
		servers: make(map[Role]*entry),
		clients: make(map[int]*entry),
	}
}

// SetServer atomically installs fd for role, closing any fd previously
// installed for the same role.
func (r *Registry) SetServer(role Role, fd int) error {
	if fd <= 2 {
		return errs.NewResource(errFDReserved(fd))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.servers[role]; ok {
		unix.Close(old.fd)
	}
	r.servers[role] = &entry{fd: fd, role: role}
	return nil
}

// GetServer returns the fd installed for role, or ok=false.
func (r *Registry) GetServer(role Role) (fd int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.servers[role]
	if !ok {
		return 0, false
	}
	return e.fd, true
}

// RemoveServer closes and forgets the fd installed for role, if any.
func (r *Registry) RemoveServer(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.servers[role]; ok {
		unix.Close(e.fd)
		delete(r.servers, role)
	}
}

// AddClient takes ownership of fd as a client connection (e.g. a
// link's Hub connection).
func (r *Registry) AddClient(fd int) error {
	if fd <= 2 {
		return errs.NewResource(errFDReserved(fd))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[fd] = &entry{fd: fd, role: RoleClient}
	return nil
}

// RemoveClient closes and forgets a client fd.
func (r *Registry) RemoveClient(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[fd]; ok {
		unix.Close(e.fd)
		delete(r.clients, fd)
	}
}

// ListClients returns the currently owned client fds.
func (r *Registry) ListClients() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.clients))
	for fd := range r.clients {
		out = append(out, fd)
	}
	return out
}

func (r *Registry) find(fd int) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.servers {
		if e.fd == fd {
			return e
		}
	}
	if e, ok := r.clients[fd]; ok {
		return e
	}
	return nil
}

// SendOn writes buf in full to fd, serialized by fd's own mutex. Short
// writes and EINTR are retried; MSG_NOSIGNAL keeps a peer disconnect
// from raising SIGPIPE and killing the process.
func (r *Registry) SendOn(fd int, buf []byte) (int, error) {
	e := r.find(fd)
	if e == nil {
		return 0, errs.NewResource(errFDUnowned(fd))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	for total < len(buf) {
		n, err := unix.Send(fd, buf[total:], unix.MSG_NOSIGNAL)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, errs.NewTransport(err)
		}
		if n <= 0 {
			return total, errs.NewTransport(errShortWrite)
		}
		total += n
	}
	return total, nil
}

// RecvOn issues a single non-blocking read into buf. It returns 0 on
// would-block, >0 on data received, and a negative value plus error on
// a hard failure.
func (r *Registry) RecvOn(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return -1, errs.NewTransport(err)
	}
	return n, nil
}

// Close releases every owned fd.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for role, e := range r.servers {
		unix.Close(e.fd)
		delete(r.servers, role)
	}
	for fd, e := range r.clients {
		unix.Close(e.fd)
		delete(r.clients, fd)
	}
}
