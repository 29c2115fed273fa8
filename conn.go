package http2

import (
	"log/slog"
	"time"

	"github.com/domsolutions/h2reactor/internal/wire"
	"golang.org/x/net/http2"
)

// connWriter adapts a *[]byte pending-output buffer to the io.Writer
// FrameCodec writes frames through, so encoding never has to know whether
// the bytes are headed for a real socket or a test buffer.
type connWriter struct{ out *[]byte }

func (w connWriter) Write(p []byte) (int, error) {
	*w.out = append(*w.out, p...)
	return len(p), nil
}

// ConnOpts configures one ConnectionContext. Grounded on the reference
// stack's ConnOpts/ClientOpts option-struct pattern (conn.go, configure.go),
// generalized to the server-only settings this engine negotiates.
type ConnOpts struct {
	BufferSize        int
	HeaderTableSize   uint32
	EnablePush        bool
	MaxConcurrentStreams uint32
	InitialWindowSize uint32
	MaxFrameSize      uint32
	MaxHeaderListSize uint32
	PingInterval      time.Duration
	PingTimeout       time.Duration

	// MaxResponsePadding bounds the random DATA padding Responder adds to
	// each chunk (RFC 9113 §6.1). 0 disables padding.
	MaxResponsePadding int
}

// defaults fills in zero fields the way the reference stack's
// cnf.defaults() does, so a caller can pass a sparsely populated ConnOpts.
func (o ConnOpts) defaults() ConnOpts {
	if o.BufferSize == 0 {
		o.BufferSize = 4096
	}
	d := NewDefaultSettings()
	if o.HeaderTableSize == 0 {
		o.HeaderTableSize = d.HeaderTableSize()
	}
	if o.InitialWindowSize == 0 {
		o.InitialWindowSize = d.InitialWindowSize()
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = d.MaxFrameSize()
	}
	if !o.EnablePush {
		o.EnablePush = d.EnablePush()
	}
	return o
}

func (o ConnOpts) settings() *Settings {
	st := NewDefaultSettings()
	st.SetHeaderTableSize(o.HeaderTableSize)
	st.SetEnablePush(o.EnablePush)
	st.SetMaxConcurrentStreams(o.MaxConcurrentStreams)
	st.SetInitialWindowSize(o.InitialWindowSize)
	st.SetMaxFrameSize(o.MaxFrameSize)
	st.SetMaxHeaderListSize(o.MaxHeaderListSize)
	return st
}

// ConnectionContext owns everything scoped to one TCP connection: the
// framing codec, HPACK state, the stream registry and the settings
// negotiated in each direction. It is driven exclusively by its owning
// server-loop goroutine — nothing here is safe for concurrent use.
type ConnectionContext struct {
	Token int

	opts ConnOpts

	out   []byte
	codec *FrameCodec
	hpack *HpackContext

	streams      *Streams
	lastStreamID uint32
	openStreams  int

	// headersStreamID is the stream whose header block is still being
	// assembled across HEADERS+CONTINUATION, or 0 if none is in progress.
	// While set, RFC 9113 §6.2/§6.10 permit only a CONTINUATION frame for
	// this same stream; anything else is a connection error.
	headersStreamID uint32

	settings     *Settings // advertised by us
	peerSettings *Settings // advertised by the client

	connSelfWindow int64 // receive allowance we've granted the peer, connection-wide
	connPeerWindow int64 // send budget the peer has granted us, connection-wide

	readBuf    []byte
	handshaked bool

	lastActivity time.Time
	pingOpaque   [8]byte
	pingPending  bool
	closeRef     uint32
	closing      bool
	closed       bool

	log *slog.Logger
}

// NewConnectionContext builds a context ready to consume bytes starting at
// the connection preface.
func NewConnectionContext(token int, opts ConnOpts, log *slog.Logger) *ConnectionContext {
	opts = opts.defaults()
	st := opts.settings()

	cc := &ConnectionContext{
		Token:          token,
		opts:           opts,
		streams:        NewStreams(),
		settings:       st,
		peerSettings:   NewDefaultSettings(),
		connSelfWindow: int64(st.InitialWindowSize()),
		connPeerWindow: int64(NewDefaultSettings().InitialWindowSize()),
		lastActivity:   time.Now(),
		log:            log,
	}
	cc.hpack = NewHpackContext(st.HeaderTableSize())
	cc.codec = NewFrameCodec(connWriter{out: &cc.out}, maxFrameSize)
	return cc
}

// TakeWrites drains and returns the bytes queued for this connection since
// the last call, handing ownership of the slice to the caller.
func (cc *ConnectionContext) TakeWrites() []byte {
	if len(cc.out) == 0 {
		return nil
	}
	b := cc.out
	cc.out = nil
	return b
}

// HandleRead appends newly-read bytes to the connection's buffer and
// drains as many complete frames as are available, returning the streams
// that reached a terminal state (Completed) this call. If includePartial
// is set, it also returns, after each frame for a stream whose headers are
// complete but whose END_STREAM has not arrived (StateFillingData), a copy
// carrying the body bytes received since the previous copy, and clears the
// stream's own body buffer, so a handler can consume a request body
// incrementally; the Completed stream then carries only the bytes not yet
// handed out. Fewer bytes than the connection preface return no streams
// and no error.
func (cc *ConnectionContext) HandleRead(data []byte, includePartial bool) ([]*Stream, error) {
	cc.lastActivity = time.Now()
	cc.readBuf = append(cc.readBuf, data...)

	if !cc.handshaked {
		if len(cc.readBuf) < len(ClientPreface) {
			return nil, nil
		}
		if wire.B2S(cc.readBuf[:len(ClientPreface)]) != ClientPreface {
			return nil, newErr("conn.handshake", KindNotHTTP2, nil)
		}
		cc.readBuf = cc.readBuf[len(ClientPreface):]
		cc.handshaked = true
		if err := cc.codec.WriteSettings(cc.settings.AsWireSettings()...); err != nil {
			return nil, newErr("conn.handshake", KindIOError, err)
		}
	}

	var completed []*Stream
	for {
		fr, n, err := cc.codec.TryParse(cc.readBuf)
		if err != nil {
			if IsRecoverable(err) {
				break
			}
			return completed, err
		}
		cc.readBuf = cc.readBuf[n:]

		var before State
		if prev := cc.streams.Get(fr.Header().StreamID); prev != nil {
			before = prev.State()
		}
		sid, err := cc.dispatch(fr)
		if err != nil {
			return completed, err
		}
		if sid == 0 {
			continue
		}
		strm := cc.streams.Get(sid)
		if strm == nil {
			continue
		}
		switch {
		case strm.State() == StateCompleted && before != StateCompleted:
			completed = append(completed, strm)
		case includePartial && strm.State() == StateFillingData:
			headers, body := strm.SnapshotAndDrainBody()
			part := NewStream(sid, 0, 0)
			part.SetState(StateFillingData)
			part.headers = headers
			part.WriteData(body)
			completed = append(completed, part)
		}
	}
	return completed, nil
}

// dispatch applies one decoded frame to connection or stream state and
// returns the stream id it affected (0 for connection-scoped frames).
// Grounded on serverConn.go's handleFrame/readLoop switch, re-expressed
// over golang.org/x/net/http2's typed Frame variants instead of the
// reference stack's own FrameHeader.Body() type switch.
func (cc *ConnectionContext) dispatch(f http2.Frame) (uint32, error) {
	if cc.headersStreamID != 0 {
		if _, ok := f.(*http2.ContinuationFrame); !ok {
			return 0, newErr("conn.dispatch", KindInvalidStream, nil)
		}
	}
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		return 0, cc.handleSettings(fr)
	case *http2.WindowUpdateFrame:
		return cc.handleWindowUpdate(fr)
	case *http2.PingFrame:
		return 0, cc.handlePing(fr)
	case *http2.GoAwayFrame:
		return 0, newErr("conn.dispatch", KindClientDisconnected, nil)
	case *http2.PriorityFrame:
		return fr.StreamID, nil
	case *http2.HeadersFrame:
		return cc.handleHeaders(fr)
	case *http2.ContinuationFrame:
		return cc.handleContinuation(fr)
	case *http2.DataFrame:
		return cc.handleData(fr)
	case *http2.RSTStreamFrame:
		return cc.handleRSTStream(fr)
	case *http2.PushPromiseFrame:
		return 0, newErr("conn.dispatch", KindInvalidStream, nil)
	default:
		return 0, nil
	}
}

func (cc *ConnectionContext) handleSettings(fr *http2.SettingsFrame) error {
	if fr.IsAck() {
		return nil
	}
	var settings []http2.Setting
	if err := fr.ForeachSetting(func(s http2.Setting) error {
		settings = append(settings, s)
		return nil
	}); err != nil {
		return newErr("conn.handle_settings", KindInvalidStream, err)
	}
	if err := cc.peerSettings.Apply(settings); err != nil {
		return err
	}
	cc.hpack.SetEncoderTableSize(cc.peerSettings.HeaderTableSize())
	// RFC 7541 §4.2: the resize must apply before decoding any header
	// block that arrives after this SETTINGS frame.
	cc.hpack.Resize(cc.peerSettings.HeaderTableSize())
	if err := cc.codec.WriteSettingsAck(); err != nil {
		return newErr("conn.handle_settings", KindIOError, err)
	}
	return nil
}

func (cc *ConnectionContext) handleWindowUpdate(fr *http2.WindowUpdateFrame) (uint32, error) {
	if fr.Increment == 0 {
		return 0, newErr("conn.window_update", KindInvalidStream, nil)
	}
	if fr.StreamID == 0 {
		if cc.connPeerWindow+int64(fr.Increment) > maxWindowSize {
			return 0, newErr("conn.window_update", KindInvalidStream, nil)
		}
		cc.connPeerWindow += int64(fr.Increment)
		// A connection-level grant can unblock any stream with a
		// response body queued behind the shared send budget.
		resp := NewResponder(cc)
		var flushErr error
		cc.streams.Each(func(s *Stream) {
			if flushErr != nil {
				return
			}
			flushErr = resp.FlushPending(s)
		})
		return 0, flushErr
	}
	strm := cc.streams.Get(fr.StreamID)
	if strm == nil {
		return 0, nil
	}
	if err := strm.IncrWindow(int64(fr.Increment)); err != nil {
		return 0, err
	}
	if err := NewResponder(cc).FlushPending(strm); err != nil {
		return 0, err
	}
	return fr.StreamID, nil
}

func (cc *ConnectionContext) handlePing(fr *http2.PingFrame) error {
	if fr.IsAck() {
		if cc.pingPending && fr.Data == cc.pingOpaque {
			cc.pingPending = false
		}
		return nil
	}
	if err := cc.codec.WritePing(true, fr.Data); err != nil {
		return newErr("conn.handle_ping", KindIOError, err)
	}
	return nil
}

func (cc *ConnectionContext) handleRSTStream(fr *http2.RSTStreamFrame) (uint32, error) {
	strm := cc.streams.Del(fr.StreamID)
	if strm != nil {
		cc.openStreams--
		strm.SetState(StateEnded)
	}
	return fr.StreamID, nil
}

func (cc *ConnectionContext) handleHeaders(fr *http2.HeadersFrame) (uint32, error) {
	sid := fr.StreamID
	if sid == 0 {
		return 0, newErr("conn.handle_headers", KindInvalidStream, nil)
	}

	// The engine is permissive about stream id parity and ordering: it
	// accepts any non-zero id that is not still in the registry in the
	// Completed or Ended state. A stream removed by RST_STREAM is
	// forgotten, so its id is accepted again as a new stream.
	strm := cc.streams.Get(sid)
	if strm == nil {
		if max := cc.settings.MaxConcurrentStreams(); max != 0 && uint32(cc.openStreams) >= max {
			if err := cc.codec.WriteRSTStream(sid, http2.ErrCodeRefusedStream); err != nil {
				return 0, newErr("conn.handle_headers", KindIOError, err)
			}
			return 0, nil
		}
		strm = NewStream(sid, cc.peerSettings.InitialWindowSize(), cc.settings.InitialWindowSize())
		cc.streams.Insert(strm)
		if sid > cc.lastStreamID {
			cc.lastStreamID = sid
		}
		cc.openStreams++
	} else if strm.State() == StateCompleted || strm.State() == StateEnded {
		return 0, newErr("conn.handle_headers", KindInvalidStream, nil)
	}

	endHeaders := fr.HeadersEnded()
	if err := cc.consumeHeaderBlock(strm, fr.HeaderBlockFragment(), endHeaders, fr.StreamEnded()); err != nil {
		return 0, err
	}
	if !endHeaders {
		cc.headersStreamID = sid
	}
	return sid, nil
}

func (cc *ConnectionContext) handleContinuation(fr *http2.ContinuationFrame) (uint32, error) {
	if cc.headersStreamID == 0 || cc.headersStreamID != fr.StreamID {
		return 0, newErr("conn.handle_continuation", KindInvalidStream, nil)
	}
	strm := cc.streams.Get(fr.StreamID)
	if strm == nil || strm.EndHeaders() {
		return 0, newErr("conn.handle_continuation", KindInvalidStream, nil)
	}
	endHeaders := fr.HeadersEnded()
	if err := cc.consumeHeaderBlock(strm, fr.HeaderBlockFragment(), endHeaders, strm.EndStream()); err != nil {
		return 0, err
	}
	if endHeaders {
		cc.headersStreamID = 0
	}
	return fr.StreamID, nil
}

// consumeHeaderBlock decodes one fragment of a (possibly multi-frame)
// header block and, once END_HEADERS has been seen, finalizes the
// decoder and advances the stream's state — identical handling for the
// HEADERS frame's own fragment and any CONTINUATION frames that follow it,
// per RFC 9113 §6.2/§6.10's equivalence.
func (cc *ConnectionContext) consumeHeaderBlock(strm *Stream, fragment []byte, endHeaders, endStream bool) error {
	fields, _, err := cc.hpack.Decode(fragment)
	if err != nil {
		return err
	}
	if err := strm.AddHeaders(fields, cc.settings.MaxHeaderListSize()); err != nil {
		return err
	}
	if endStream {
		strm.SetEndStream(true)
	}
	strm.SetState(StateFillingHeaders)

	if endHeaders {
		strm.SetEndHeaders(true)
		if err := cc.hpack.Close(); err != nil {
			return newErr("conn.consume_header_block", KindHeaderDecodeError, err)
		}
		if strm.EndStream() {
			strm.SetState(StateCompleted)
		} else {
			strm.SetState(StateFillingData)
		}
	}
	return nil
}

func (cc *ConnectionContext) handleData(fr *http2.DataFrame) (uint32, error) {
	strm := cc.streams.Get(fr.StreamID)
	if strm == nil || !strm.EndHeaders() {
		return 0, newErr("conn.handle_data", KindInvalidStream, nil)
	}
	if strm.State() == StateCompleted || strm.State() == StateEnded {
		return 0, newErr("conn.handle_data", KindInvalidStream, nil)
	}

	accounted := int64(fr.Length)
	if accounted > cc.connSelfWindow {
		return 0, newErr("conn.handle_data", KindInvalidStream, nil)
	}
	if err := strm.DecrSelfWindow(accounted); err != nil {
		return 0, err
	}
	cc.connSelfWindow -= accounted

	strm.WriteData(fr.Data())

	if fr.StreamEnded() {
		strm.SetEndStream(true)
		strm.SetState(StateCompleted)
	}

	cc.maybeReplenishWindow(strm, accounted)
	return fr.StreamID, nil
}

// maybeReplenishWindow grants the peer more receive allowance once a
// stream's (or the connection's) self window has dropped under half of
// what we originally advertised, mirroring common HTTP/2 client behavior
// without waiting for the window to hit zero.
func (cc *ConnectionContext) maybeReplenishWindow(strm *Stream, justReceived int64) {
	half := int64(cc.settings.InitialWindowSize() / 2)
	if strm.SelfWindow() < half {
		incr := int64(cc.settings.InitialWindowSize()) - strm.SelfWindow()
		if err := cc.codec.WriteWindowUpdate(strm.ID(), uint32(incr)); err == nil {
			strm.GrantSelfWindow(incr)
		}
	}
	if cc.connSelfWindow < half {
		incr := int64(cc.settings.InitialWindowSize()) - cc.connSelfWindow
		if err := cc.codec.WriteWindowUpdate(0, uint32(incr)); err == nil {
			cc.connSelfWindow += incr
		}
	}
}

// MaybeSendPing emits a keepalive PING if opts.PingInterval has elapsed
// since the last frame we saw, and reports ClientDisconnected if a prior
// PING never got ACKed within opts.PingTimeout. Called from the server
// loop's idle sweep, not from the read path — see SPEC_FULL.md §4.7.
func (cc *ConnectionContext) MaybeSendPing(now time.Time) error {
	if cc.opts.PingInterval <= 0 {
		return nil
	}
	if cc.pingPending {
		if now.Sub(cc.lastActivity) > cc.opts.PingTimeout {
			return ErrClientDisconnected
		}
		return nil
	}
	if now.Sub(cc.lastActivity) < cc.opts.PingInterval {
		return nil
	}
	cc.pingOpaque[0]++
	if err := cc.codec.WritePing(false, cc.pingOpaque); err != nil {
		return newErr("conn.maybe_send_ping", KindIOError, err)
	}
	cc.pingPending = true
	// Measure the ACK deadline from this PING, not from the earlier
	// activity that started the idle interval.
	cc.lastActivity = now
	return nil
}

// Close sends a best-effort GOAWAY carrying the RFC 9113 error code for
// kind, then marks the context closed.
func (cc *ConnectionContext) Close(kind Kind) {
	if cc.closed {
		return
	}
	_ = cc.codec.WriteGoAway(cc.lastStreamID, kind.GoAwayCode(), nil)
	cc.closed = true
}

func (cc *ConnectionContext) Closed() bool { return cc.closed }

// Streams exposes the registry for Responder and tests.
func (cc *ConnectionContext) Streams() *Streams { return cc.streams }

// Codec exposes the frame codec for Responder.
func (cc *ConnectionContext) Codec() *FrameCodec { return cc.codec }

// Hpack exposes the HPACK context for Responder.
func (cc *ConnectionContext) Hpack() *HpackContext { return cc.hpack }

// MaxFrameSizeForWrites is the largest DATA/HEADERS chunk Responder should
// emit, bounded by what the peer told us it can read.
func (cc *ConnectionContext) MaxFrameSizeForWrites() uint32 {
	return cc.peerSettings.MaxFrameSize()
}

// MaxResponsePadding is the padding ceiling Responder should apply to each
// DATA frame it writes, per ConnOpts.MaxResponsePadding.
func (cc *ConnectionContext) MaxResponsePadding() int {
	return cc.opts.MaxResponsePadding
}

// ConnPeerWindow is the connection-wide send budget the peer has granted
// us, shared across every stream's DATA writes.
func (cc *ConnectionContext) ConnPeerWindow() int64 {
	return cc.connPeerWindow
}

// DecrConnPeerWindow accounts for n bytes (payload plus any padding) just
// written against the connection-wide send budget.
func (cc *ConnectionContext) DecrConnPeerWindow(n int64) {
	cc.connPeerWindow -= n
}
