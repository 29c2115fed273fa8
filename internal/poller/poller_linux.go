//go:build linux

// Package poller wraps the epoll syscalls the server loop needs to
// multiplex many connections on one thread: register a file descriptor for
// readiness, then block until at least one is ready.
//
// Grounded on docker-compose/archutils/epoll.go, the only readiness-poller
// precedent in the retrieval pack — itself a thin wrapper over the
// standard library's syscall.EpollCreate1/EpollCtl/EpollWait, which is why
// this package stays on the standard library too (see DESIGN.md).
package poller

import "syscall"

// Interest names the readiness conditions a registration cares about.
type Interest uint32

const (
	Readable Interest = syscall.EPOLLIN
	Writable Interest = syscall.EPOLLOUT
)

// Event is one readiness notification: Fd is the descriptor that became
// ready, and Readable/Writable report which directions fired.
type Event struct {
	Fd       int32
	Readable bool
	Writable bool
}

// Poller owns one epoll instance.
type Poller struct {
	epfd int
}

// New creates an epoll instance.
func New() (*Poller, error) {
	fd, err := syscall.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: fd}, nil
}

// Add registers fd for the given interest set.
func (p *Poller) Add(fd int, interest Interest) error {
	ev := syscall.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes the interest set for an already-registered fd — used to
// start or stop watching for WRITABLE once a connection has (or clears)
// queued output.
func (p *Poller) Modify(fd int, interest Interest) error {
	ev := syscall.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready or timeoutMsec
// elapses, and returns dst truncated and refilled with this call's
// readiness events (its backing array is reused across calls to avoid
// allocating). A negative timeoutMsec blocks with no timeout, matching the
// server loop's steady-state poll.
func (p *Poller) Wait(dst []Event, timeoutMsec int) ([]Event, error) {
	var raw [128]syscall.EpollEvent
	n, err := syscall.EpollWait(p.epfd, raw[:], timeoutMsec)
	if err != nil {
		if err == syscall.EINTR {
			return dst[:0], nil
		}
		return dst, err
	}

	dst = dst[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, Event{
			Fd:       raw[i].Fd,
			Readable: raw[i].Events&syscall.EPOLLIN != 0,
			Writable: raw[i].Events&syscall.EPOLLOUT != 0,
		})
	}
	return dst, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return syscall.Close(p.epfd)
}
