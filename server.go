package http2

import (
	"errors"
	"log/slog"
	"time"

	"github.com/domsolutions/h2reactor/internal/netfd"
	"github.com/domsolutions/h2reactor/internal/poller"
)

// Handler turns a completed Request into a Response. It is the one
// extension point this engine exposes to an application.
type Handler func(req *Request) *Response

// ServerOpts configures a Server. Grounded on the reference stack's own
// Server/ServerOpts-shaped construction in server.go, generalized past its
// fasthttp.Server coupling.
type ServerOpts struct {
	Addr           string
	ConnOpts       ConnOpts
	MaxConnections int // 0 means unbounded
	Logger         *slog.Logger
}

// tokenPool is a bounded free-list allocator for connection registry
// tokens. Token 0 is reserved for the listener itself, per
// original_source/src/http2.rs's Token(uid) usage and SPEC_FULL.md §4.1.
type tokenPool struct {
	free []int
	next int
	cap  int
}

func newTokenPool(capacity int) *tokenPool {
	return &tokenPool{next: 1, cap: capacity}
}

func (tp *tokenPool) acquire() (int, bool) {
	if n := len(tp.free); n > 0 {
		t := tp.free[n-1]
		tp.free = tp.free[:n-1]
		return t, true
	}
	if tp.cap > 0 && tp.next >= tp.cap {
		return 0, false
	}
	t := tp.next
	tp.next++
	return t, true
}

func (tp *tokenPool) release(token int) {
	tp.free = append(tp.free, token)
}

// connEntry is one accepted connection's bookkeeping: its raw fd, its
// assigned token, its protocol context, and any output that didn't fit in
// the last non-blocking write.
type connEntry struct {
	fd           int
	token        int
	cc           *ConnectionContext
	pendingWrite []byte
	watchWrite   bool
}

// Server owns the listening socket, the readiness poller, and the
// registry of live connections. Run drives all of it on the calling
// goroutine — the single-threaded, readiness-driven model SPEC_FULL.md §5
// requires.
type Server struct {
	opts    ServerOpts
	handler Handler

	listenFd int
	poll     *poller.Poller
	tokens   *tokenPool
	conns    map[int]*connEntry // keyed by fd

	log *slog.Logger
}

// NewServer builds a Server that will invoke handler for every completed
// request.
func NewServer(opts ServerOpts, handler Handler) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	// Token 0 is never handed out, so the pool needs one slot more than
	// the number of connections it may serve.
	capacity := opts.MaxConnections
	if capacity > 0 {
		capacity++
	}
	return &Server{
		opts:    opts,
		handler: handler,
		tokens:  newTokenPool(capacity),
		conns:   make(map[int]*connEntry),
		log:     log,
	}
}

// Run binds the listener and drives the event loop until it returns an
// error (including a clean shutdown request, once one exists).
func (s *Server) Run() error {
	fd, err := netfd.Listen(s.opts.Addr)
	if err != nil {
		return err
	}
	s.listenFd = fd

	s.poll, err = poller.New()
	if err != nil {
		netfd.Close(fd)
		return err
	}
	if err := s.poll.Add(s.listenFd, poller.Readable); err != nil {
		return err
	}

	timeoutMsec := -1
	if s.opts.ConnOpts.PingInterval > 0 {
		timeoutMsec = 1000
	}

	events := make([]poller.Event, 0, 128)
	for {
		events, err = s.poll.Wait(events, timeoutMsec)
		if err != nil {
			return err
		}

		for _, ev := range events {
			fd := int(ev.Fd)
			if fd == s.listenFd {
				s.acceptLoop()
				continue
			}
			entry := s.conns[fd]
			if entry == nil {
				continue
			}
			if ev.Readable {
				s.handleReadable(entry)
			}
			if ev.Writable && s.conns[fd] != nil {
				s.handleWritable(entry)
			}
		}

		if timeoutMsec > 0 {
			s.sweepPings()
		}
	}
}

func (s *Server) acceptLoop() {
	for {
		fd, err := netfd.Accept(s.listenFd)
		if err != nil {
			if !errors.Is(err, netfd.ErrWouldBlock) {
				s.log.Warn("accept failed", "error", err)
			}
			return
		}

		token, ok := s.tokens.acquire()
		if !ok {
			s.log.Warn("connection token pool exhausted, rejecting connection")
			s.rejectOverloaded(fd)
			continue
		}

		cc := NewConnectionContext(token, s.opts.ConnOpts, s.log)
		entry := &connEntry{fd: fd, token: token, cc: cc}
		s.conns[fd] = entry

		if err := s.poll.Add(fd, poller.Readable); err != nil {
			s.log.Warn("poller add failed", "error", err)
			s.closeConn(entry)
		}
	}
}

// rejectOverloaded drops a freshly accepted connection the server has no
// room to serve: it writes a short diagnostic payload (best-effort — the
// connection is being discarded regardless of whether it lands), half-closes
// both directions, and closes the fd, per SPEC_FULL.md §4.1's overload
// handling.
func (s *Server) rejectOverloaded(fd int) {
	_, _ = netfd.Write(fd, []byte("HTTP/2 server at capacity\n"))
	_ = netfd.Shutdown(fd)
	_ = netfd.Close(fd)
}

func (s *Server) handleReadable(entry *connEntry) {
	buf := make([]byte, entry.cc.opts.BufferSize)
	for {
		n, err := netfd.Read(entry.fd, buf)
		if err != nil {
			if errors.Is(err, netfd.ErrWouldBlock) {
				return
			}
			s.log.Warn("read failed", "error", err)
			s.closeConn(entry)
			return
		}
		if n == 0 {
			s.closeConn(entry)
			return
		}

		completed, err := entry.cc.HandleRead(buf[:n], false)
		for _, strm := range completed {
			s.dispatch(entry, strm)
		}
		s.flushWrites(entry)

		if err != nil {
			if IsRecoverable(err) {
				continue
			}
			var cerr *ContextError
			kind := KindIOError
			if errors.As(err, &cerr) {
				kind = cerr.Kind
			}
			entry.cc.Close(kind)
			s.flushWrites(entry)
			s.closeConn(entry)
			return
		}
	}
}

func (s *Server) dispatch(entry *connEntry, strm *Stream) {
	req := strm.IntoRequest()
	resp := s.handler(req)
	if resp == nil {
		resp = NewResponse(nil)
	}
	if err := NewResponder(entry.cc).Write(strm.ID(), resp); err != nil {
		s.log.Warn("response write failed", "stream", strm.ID(), "error", err)
	}
}

func (s *Server) handleWritable(entry *connEntry) {
	s.flushWrites(entry)
}

func (s *Server) flushWrites(entry *connEntry) {
	data := entry.pendingWrite
	if fresh := entry.cc.TakeWrites(); len(fresh) > 0 {
		data = append(data, fresh...)
	}
	entry.pendingWrite = nil

	for len(data) > 0 {
		n, err := netfd.Write(entry.fd, data)
		if err != nil {
			if errors.Is(err, netfd.ErrWouldBlock) {
				entry.pendingWrite = data
				break
			}
			s.log.Warn("write failed", "error", err)
			s.closeConn(entry)
			return
		}
		data = data[n:]
	}

	needsWrite := len(entry.pendingWrite) > 0
	if needsWrite != entry.watchWrite {
		entry.watchWrite = needsWrite
		interest := poller.Readable
		if needsWrite {
			interest |= poller.Writable
		}
		_ = s.poll.Modify(entry.fd, interest)
	}

	if entry.cc.Closed() && !needsWrite {
		s.closeConn(entry)
	}
}

func (s *Server) sweepPings() {
	now := time.Now()
	for _, entry := range s.conns {
		if err := entry.cc.MaybeSendPing(now); err != nil {
			s.closeConn(entry)
			continue
		}
		s.flushWrites(entry)
	}
}

func (s *Server) closeConn(entry *connEntry) {
	_ = s.poll.Remove(entry.fd)
	_ = netfd.Close(entry.fd)
	delete(s.conns, entry.fd)
	s.tokens.release(entry.token)
}
