//go:build linux

// Package netfd opens and drives TCP sockets directly through raw file
// descriptors instead of net.Conn/net.Listener, so the server loop has
// full control over non-blocking semantics and can register descriptors
// with its own epoll instance rather than fighting Go's runtime netpoller
// for ownership of the fd.
package netfd

import (
	"errors"
	"net"
	"syscall"
)

// ErrWouldBlock is returned by Read/Write/Accept when the syscall would
// have blocked — the non-blocking-I/O signal the connection engine treats
// as "no data ready" (SPEC_FULL.md's NoDataReady) rather than an error.
var ErrWouldBlock = errors.New("netfd: operation would block")

// Listen opens a non-blocking TCP listening socket bound to addr
// ("host:port").
func Listen(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, err
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return -1, err
	}

	var sa syscall.SockaddrInet4
	sa.Port = tcpAddr.Port
	if tcpAddr.IP != nil {
		copy(sa.Addr[:], tcpAddr.IP.To4())
	}

	if err := syscall.Bind(fd, &sa); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	if err := syscall.Listen(fd, 1024); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept accepts one pending connection on listenFd as a non-blocking fd.
// It returns ErrWouldBlock once the accept backlog is drained.
func Accept(listenFd int) (int, error) {
	nfd, _, err := syscall.Accept4(listenFd, syscall.SOCK_NONBLOCK)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return -1, ErrWouldBlock
		}
		return -1, err
	}
	return nfd, nil
}

// Read reads into buf, translating EAGAIN/EWOULDBLOCK to ErrWouldBlock and
// a zero-byte read to io's usual "closed" signal via (0, nil) — callers
// must treat (0, nil) as peer-closed the way io.Reader's contract does for
// io.EOF.
func Read(fd int, buf []byte) (int, error) {
	n, err := syscall.Read(fd, buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Write writes buf to fd, translating EAGAIN/EWOULDBLOCK to ErrWouldBlock
// so the caller can requeue the remainder for the next WRITABLE event.
func Write(fd int, buf []byte) (int, error) {
	n, err := syscall.Write(fd, buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Close closes fd.
func Close(fd int) error {
	return syscall.Close(fd)
}

// Shutdown half-closes both directions of fd (SHUT_RDWR), used to reject a
// connection gracefully — e.g. one accepted with no capacity left to serve
// it — without an abrupt RST from a bare Close.
func Shutdown(fd int) error {
	return syscall.Shutdown(fd, syscall.SHUT_RDWR)
}
