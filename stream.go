package http2

import (
	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http2/hpack"
)

// State is a stream's position in the per-stream lifecycle this engine
// tracks. It is a coarser model than RFC 9113's full state machine: it
// only distinguishes the phases request assembly cares about.
type State int8

const (
	// StateNone is the zero value: the id has not been seen yet.
	StateNone State = iota
	// StateInitiate: a HEADERS frame opened the stream, END_HEADERS not
	// yet seen.
	StateInitiate
	// StateFillingHeaders: header block fragments are still arriving
	// across CONTINUATION frames.
	StateFillingHeaders
	// StateFillingData: headers are complete, DATA frames may still
	// arrive (END_STREAM not yet seen on the request side).
	StateFillingData
	// StateCompleted: END_STREAM seen; the request is ready for
	// into_request.
	StateCompleted
	// StateEnded: response delivered (or RST_STREAM/connection close);
	// the stream is eligible for removal from the registry.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateInitiate:
		return "Initiate"
	case StateFillingHeaders:
		return "FillingHeaders"
	case StateFillingData:
		return "FillingData"
	case StateCompleted:
		return "Completed"
	case StateEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Stream accumulates one HTTP/2 request as its frames arrive, in order, on
// a connection. It is owned exclusively by its ConnectionContext; nothing
// else may touch it concurrently.
type Stream struct {
	id    uint32
	state State

	headers    []hpack.HeaderField
	headersLen uint32

	body bytebufferpool.ByteBuffer

	// window is this stream's send budget: how much DATA we may still
	// write before waiting for the peer's next WINDOW_UPDATE. It is
	// seeded from the peer's advertised initial_window_size.
	window int64

	// selfWindow is how much more DATA we've told the peer it may send
	// us on this stream before we must grant more with a WINDOW_UPDATE
	// we emit. It is seeded from our own advertised initial_window_size.
	selfWindow int64

	endHeadersSeen bool
	endStreamSeen  bool

	// pendingBody holds a response body remainder that didn't fit under
	// the stream's or the connection's send window on the last write
	// attempt, queued here so Responder.FlushPending can resume it once
	// a WINDOW_UPDATE grants more room.
	pendingBody []byte
}

// NewStream allocates a fresh Stream ready to receive its first HEADERS
// frame. peerWindow seeds the stream's send budget (the peer's advertised
// initial_window_size); selfWindow seeds the receive allowance we've
// granted the peer (our own advertised initial_window_size).
func NewStream(id uint32, peerWindow, selfWindow uint32) *Stream {
	return &Stream{
		id:         id,
		state:      StateInitiate,
		window:     int64(peerWindow),
		selfWindow: int64(selfWindow),
	}
}

func (s *Stream) ID() uint32    { return s.id }
func (s *Stream) State() State  { return s.state }
func (s *Stream) SetState(state State) { s.state = state }

// AddHeaders appends decoded header fields and enforces maxHeaderListSize
// (0 means unlimited), per RFC 9113 §6.5.2's advisory MAX_HEADER_LIST_SIZE.
func (s *Stream) AddHeaders(fields []hpack.HeaderField, maxHeaderListSize uint32) error {
	for _, f := range fields {
		size := uint32(32 + len(f.Name) + len(f.Value))
		if maxHeaderListSize != 0 && s.headersLen+size > maxHeaderListSize {
			return newErr("stream.add_headers", KindMaxHeaderLenExceeded, nil)
		}
		s.headersLen += size
		s.headers = append(s.headers, f)
	}
	return nil
}

// WriteData appends a DATA frame payload to the stream's accumulated body.
func (s *Stream) WriteData(b []byte) {
	s.body.Write(b)
}

// SetWindow overwrites the stream's flow-control window outright. The
// connection does not call it when the peer changes initial_window_size:
// a new value applies only to streams opened afterwards.
func (s *Stream) SetWindow(win int64) { s.window = win }

// Window returns the stream's current flow-control window.
func (s *Stream) Window() int64 { return s.window }

// IncrWindow applies a WINDOW_UPDATE increment, returning a
// KindInvalidStream *ContextError (PROTOCOL_ERROR on GOAWAY) if the
// running total would exceed the 2^31-1 ceiling RFC 9113 §6.9.1 imposes.
func (s *Stream) IncrWindow(incr int64) error {
	if s.window+incr > maxWindowSize {
		return newErr("stream.incr_window", KindInvalidStream, nil)
	}
	s.window += incr
	return nil
}

// SelfWindow returns how much more DATA the peer may send on this stream
// before we must grant it more room.
func (s *Stream) SelfWindow() int64 { return s.selfWindow }

// DecrSelfWindow accounts for n bytes of DATA (including any padding)
// just received, returning a KindInvalidStream *ContextError
// (PROTOCOL_ERROR on GOAWAY) if the peer sent more than it was granted.
func (s *Stream) DecrSelfWindow(n int64) error {
	if n > s.selfWindow {
		return newErr("stream.decr_self_window", KindInvalidStream, nil)
	}
	s.selfWindow -= n
	return nil
}

// GrantSelfWindow records that we've sent the peer a WINDOW_UPDATE for n
// additional bytes of receive allowance on this stream.
func (s *Stream) GrantSelfWindow(n int64) { s.selfWindow += n }

// SetPendingBody queues a response body remainder for a later
// Responder.FlushPending.
func (s *Stream) SetPendingBody(b []byte) { s.pendingBody = b }

// TakePendingBody returns and clears any queued response body remainder,
// or nil if nothing is queued.
func (s *Stream) TakePendingBody() []byte {
	b := s.pendingBody
	s.pendingBody = nil
	return b
}

// EndHeaders/SetEndHeaders and EndStream/SetEndStream track the two
// terminal flags frames in a header block / message body can carry.
func (s *Stream) EndHeaders() bool        { return s.endHeadersSeen }
func (s *Stream) SetEndHeaders(v bool)    { s.endHeadersSeen = v }
func (s *Stream) EndStream() bool         { return s.endStreamSeen }
func (s *Stream) SetEndStream(v bool)     { s.endStreamSeen = v }

// Snapshot returns the decoded header fields and accumulated body bytes
// without draining either, for callers that want to inspect a
// still-in-progress stream.
func (s *Stream) Snapshot() ([]hpack.HeaderField, []byte) {
	return s.headers, s.body.B
}

// SnapshotAndDrainBody returns the header fields and the body accumulated
// so far, and empties the body buffer — used when streaming a large
// request body to the handler incrementally instead of buffering it all
// the way to END_STREAM.
func (s *Stream) SnapshotAndDrainBody() ([]hpack.HeaderField, []byte) {
	headers := s.headers
	body := append([]byte(nil), s.body.B...)
	s.body.Reset()
	return headers, body
}

// IntoRequest converts the accumulated headers/body into a Request,
// promoting HTTP/2 pseudo-headers (:method, :path, :scheme, :authority)
// into their dedicated fields and keeping the ordinary headers in order;
// any other pseudo-header is dropped. user-agent is both copied into
// UserAgent and kept among the ordinary headers.
func (s *Stream) IntoRequest() *Request {
	req := &Request{StreamID: s.id}
	for _, f := range s.headers {
		switch f.Name {
		case StringMethod:
			req.Method = f.Value
		case StringPath:
			req.Path = f.Value
		case StringScheme:
			req.Scheme = f.Value
		case StringAuthority:
			req.Authority = f.Value
		case StringUserAgent:
			req.UserAgent = f.Value
			req.Headers = append(req.Headers, f)
		default:
			if len(f.Name) == 0 || f.Name[0] != ':' {
				req.Headers = append(req.Headers, f)
			}
		}
	}
	req.Body = s.body.B
	return req
}
