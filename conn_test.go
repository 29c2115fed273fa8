package http2

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

func encodeHeaderBlock(t *testing.T, fields []hpack.HeaderField) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			t.Fatalf("WriteField() returned %v", err)
		}
	}
	return buf.Bytes()
}

func newTestConn(opts ConnOpts) *ConnectionContext {
	return NewConnectionContext(1, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// clientRequestBytes builds the raw bytes a conforming client would send to
// open stream 1 with a GET request and no body: the connection preface
// followed by one HEADERS frame with END_HEADERS|END_STREAM set.
func clientRequestBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(ClientPreface)

	framer := http2.NewFramer(&buf, nil)
	block := encodeHeaderBlock(t, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/hello"},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.test"},
	})
	if err := framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("WriteHeaders() returned %v", err)
	}
	return buf.Bytes()
}

func TestHandleReadCompletesARequestStream(t *testing.T) {
	cc := newTestConn(ConnOpts{})

	completed, err := cc.HandleRead(clientRequestBytes(t), false)
	if err != nil {
		t.Fatalf("HandleRead() returned %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("got %d completed streams, want 1", len(completed))
	}

	req := completed[0].IntoRequest()
	if req.Method != "GET" || req.Path != "/hello" {
		t.Fatalf("unexpected request: %+v", req)
	}

	// The handshake must have queued our own SETTINGS frame before
	// anything else.
	out := cc.TakeWrites()
	if len(out) == 0 {
		t.Fatalf("expected the handshake SETTINGS frame to be queued")
	}
}

func TestHandleReadRejectsBadPreface(t *testing.T) {
	cc := newTestConn(ConnOpts{})
	// At least 24 bytes, so the preface can be judged rather than awaited.
	_, err := cc.HandleRead([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), false)
	if err == nil {
		t.Fatalf("expected an error for a non-HTTP/2 preface")
	}
	var cerr *ContextError
	if !asContextError(err, &cerr) || cerr.Kind != KindNotHTTP2 {
		t.Fatalf("expected KindNotHTTP2, got %v", err)
	}
}

func TestHandleReadWaitsOnShortPreface(t *testing.T) {
	cc := newTestConn(ConnOpts{})
	completed, err := cc.HandleRead([]byte("PRI * HTTP"), false)
	if err != nil || len(completed) != 0 {
		t.Fatalf("a short preface should return no streams and no error, got %d streams and %v", len(completed), err)
	}
}

func TestConnectionContextRoundTripsAResponse(t *testing.T) {
	cc := newTestConn(ConnOpts{})
	completed, err := cc.HandleRead(clientRequestBytes(t), false)
	if err != nil {
		t.Fatalf("HandleRead() returned %v", err)
	}
	cc.TakeWrites() // drop the handshake SETTINGS

	resp := NewResponse([]byte("hello world"))
	resp.AddHeader("content-type", "text/plain")

	if err := NewResponder(cc).Write(completed[0].ID(), resp); err != nil {
		t.Fatalf("Responder.Write() returned %v", err)
	}

	out := cc.TakeWrites()
	framer := http2.NewFramer(io.Discard, bytes.NewReader(out))
	dec := NewHpackContext(defaultHeaderTableSize)

	var sawStatus, sawData bool
	for {
		fr, err := framer.ReadFrame()
		if err != nil {
			break
		}
		switch f := fr.(type) {
		case *http2.HeadersFrame:
			fields, _, err := dec.Decode(f.HeaderBlockFragment())
			if err != nil {
				t.Fatalf("Decode() on response headers returned %v", err)
			}
			for _, field := range fields {
				if field.Name == ":status" && field.Value == "200" {
					sawStatus = true
				}
			}
		case *http2.DataFrame:
			if string(f.Data()) == "hello world" {
				sawData = true
			}
		}
	}
	if !sawStatus {
		t.Fatalf("expected a :status 200 response header")
	}
	if !sawData {
		t.Fatalf("expected the response body to round-trip as DATA")
	}
}

// asContextError is a small helper so tests can assert on Kind without
// importing errors.As at every call site.
func asContextError(err error, target **ContextError) bool {
	ce, ok := err.(*ContextError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

// TestHandleSettingsResizesHpackDecoderTableImmediately covers the SPEC_FULL.md
// §3/§4.3 invariant that an incoming SETTINGS(HEADER_TABLE_SIZE) resizes the
// decoder before any further header block is decoded (RFC 7541 §4.2). It
// populates dynamic table index 62 with one entry, shrinks the table to 0
// via SETTINGS, then references index 62 from a second header block — if
// the resize had not taken effect the entry would still be live and the
// reference would decode cleanly instead of failing.
func TestHandleSettingsResizesHpackDecoderTableImmediately(t *testing.T) {
	cc := newTestConn(ConnOpts{})
	var buf bytes.Buffer
	buf.WriteString(ClientPreface)

	framer := http2.NewFramer(&buf, nil)

	// Literal Header Field with Incremental Indexing, New Name: adds
	// "x-custom: foo" to the dynamic table at index 62.
	literal := []byte{0x40, 0x08, 'x', '-', 'c', 'u', 's', 't', 'o', 'm', 0x03, 'f', 'o', 'o'}
	if err := framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: literal,
		EndHeaders:    true,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("WriteHeaders() returned %v", err)
	}

	if err := framer.WriteSettings(http2.Setting{ID: http2.SettingHeaderTableSize, Val: 0}); err != nil {
		t.Fatalf("WriteSettings() returned %v", err)
	}

	// Indexed Header Field, index 62 — the entry just evicted by the
	// resize above, if the resize took effect before this decode.
	indexed := []byte{0xBE}
	if err := framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      3,
		BlockFragment: indexed,
		EndHeaders:    true,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("WriteHeaders() returned %v", err)
	}

	_, err := cc.HandleRead(buf.Bytes(), false)
	if err == nil {
		t.Fatalf("expected decoding a reference to an evicted dynamic table entry to fail")
	}
	var cerr *ContextError
	if !asContextError(err, &cerr) || cerr.Kind != KindHeaderDecodeError {
		t.Fatalf("expected KindHeaderDecodeError, got %v", err)
	}
}

// TestHandleHeadersAcceptsAnyNonZeroStreamID covers the permissive stream-id
// invariant: the engine accepts any unique non-zero id, not just odd ids in
// increasing order.
func TestHandleHeadersAcceptsAnyNonZeroStreamID(t *testing.T) {
	cc := newTestConn(ConnOpts{})
	var buf bytes.Buffer
	buf.WriteString(ClientPreface)
	framer := http2.NewFramer(&buf, nil)

	block := encodeHeaderBlock(t, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
	})
	// Stream 2 is even; a strictly-RFC server could reject it as
	// client-initiated, but this engine is deliberately permissive.
	if err := framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      2,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("WriteHeaders() returned %v", err)
	}

	completed, err := cc.HandleRead(buf.Bytes(), false)
	if err != nil {
		t.Fatalf("HandleRead() returned %v", err)
	}
	if len(completed) != 1 || completed[0].ID() != 2 {
		t.Fatalf("expected stream 2 to complete, got %+v", completed)
	}
}

// TestDispatchRejectsFrameDuringInProgressHeaderBlock covers the
// cross-stream guard: while a header block is being assembled across
// HEADERS+CONTINUATION for one stream, any frame other than a CONTINUATION
// for that same stream is a connection error — even an otherwise-legal DATA
// frame for a different, already-open stream.
func TestDispatchRejectsFrameDuringInProgressHeaderBlock(t *testing.T) {
	cc := newTestConn(ConnOpts{})

	var setup bytes.Buffer
	setup.WriteString(ClientPreface)
	setupFramer := http2.NewFramer(&setup, nil)
	openBlock := encodeHeaderBlock(t, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/hello"},
	})
	// Stream 1 is opened and its headers finished, but EndStream is false
	// so it stays open for a later DATA frame — a legal target on its own.
	if err := setupFramer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: openBlock,
		EndHeaders:    true,
		EndStream:     false,
	}); err != nil {
		t.Fatalf("WriteHeaders() returned %v", err)
	}
	if _, err := cc.HandleRead(setup.Bytes(), false); err != nil {
		t.Fatalf("HandleRead() on setup returned %v", err)
	}

	var buf bytes.Buffer
	framer := http2.NewFramer(&buf, nil)

	block := encodeHeaderBlock(t, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/other"},
	})
	// Stream 3 HEADERS without END_HEADERS: a header block is now
	// in-progress for stream 3.
	if err := framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      3,
		BlockFragment: block,
		EndHeaders:    false,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("WriteHeaders() returned %v", err)
	}
	// A DATA frame for the already-open stream 1, arriving mid-header-block.
	if err := framer.WriteData(1, false, []byte("x")); err != nil {
		t.Fatalf("WriteData() returned %v", err)
	}

	_, err := cc.HandleRead(buf.Bytes(), false)
	if err == nil {
		t.Fatalf("expected a connection error for a non-CONTINUATION frame mid-header-block")
	}
	var cerr *ContextError
	if !asContextError(err, &cerr) || cerr.Kind != KindInvalidStream {
		t.Fatalf("expected KindInvalidStream, got %v", err)
	}
}
