package http2

import (
	"errors"
	"io"

	"golang.org/x/net/http2"
)

// sliceReader lets a single *http2.Framer be reused across many try-parse
// attempts against a growing connection read buffer, without ever copying
// the buffer: each ReadFrame call rewinds to the byte offset that follows
// the last fully-consumed frame, and a short buffer reports io.EOF instead
// of blocking, so an incomplete frame surfaces as "insufficient bytes"
// rather than a hung read.
type sliceReader struct {
	buf []byte
	off int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.off >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *sliceReader) reset(buf []byte) {
	r.buf = buf
	r.off = 0
}

// FrameCodec wraps golang.org/x/net/http2.Framer so ConnectionContext can
// try_parse a frame out of a byte slice without an io.Reader that blocks
// when data is short. One FrameCodec is created per connection and reused
// for the connection's whole lifetime (Framer internally reuses frame
// payload buffers across ReadFrame calls for the read path).
type FrameCodec struct {
	sr     sliceReader
	framer *http2.Framer
	w      io.Writer
}

// NewFrameCodec builds a codec that reads frames no larger than
// maxReadFrameSize and writes through w.
func NewFrameCodec(w io.Writer, maxReadFrameSize uint32) *FrameCodec {
	fc := &FrameCodec{w: w}
	fc.framer = http2.NewFramer(w, &fc.sr)
	fc.framer.SetMaxReadFrameSize(maxReadFrameSize)
	return fc
}

// TryParse attempts to decode one frame from the head of buf. It returns
// the decoded frame, the number of bytes it consumed from buf, and an
// error. A too-short buf yields ErrIncompleteStream and must not advance
// the caller's read buffer.
func (fc *FrameCodec) TryParse(buf []byte) (http2.Frame, int, error) {
	fc.sr.reset(buf)

	fr, err := fc.framer.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, newErr("frame.try_parse", KindIncompleteStream, err)
		}
		// A malformed frame payload (bad SETTINGS length, oversized
		// frame, etc.) is a connection-level protocol violation, not a
		// header-compression failure — that Kind is reserved for HPACK
		// decode errors surfaced through HpackContext.Decode.
		return nil, 0, newErr("frame.try_parse", KindInvalidStream, err)
	}
	return fr, fc.sr.off, nil
}

// WriteSettings/WritePing/... are thin pass-throughs kept on FrameCodec so
// callers never import golang.org/x/net/http2 directly to reach the
// encode side of the API.
func (fc *FrameCodec) WriteSettings(settings ...http2.Setting) error {
	return fc.framer.WriteSettings(settings...)
}

func (fc *FrameCodec) WriteSettingsAck() error {
	return fc.framer.WriteSettingsAck()
}

func (fc *FrameCodec) WritePing(ack bool, data [8]byte) error {
	return fc.framer.WritePing(ack, data)
}

func (fc *FrameCodec) WriteGoAway(lastStreamID uint32, code http2.ErrCode, debugData []byte) error {
	return fc.framer.WriteGoAway(lastStreamID, code, debugData)
}

func (fc *FrameCodec) WriteRSTStream(streamID uint32, code http2.ErrCode) error {
	return fc.framer.WriteRSTStream(streamID, code)
}

func (fc *FrameCodec) WriteWindowUpdate(streamID uint32, incr uint32) error {
	return fc.framer.WriteWindowUpdate(streamID, incr)
}

func (fc *FrameCodec) WriteHeaders(p http2.HeadersFrameParam) error {
	return fc.framer.WriteHeaders(p)
}

func (fc *FrameCodec) WriteContinuation(streamID uint32, endHeaders bool, headerBlockFragment []byte) error {
	return fc.framer.WriteContinuation(streamID, endHeaders, headerBlockFragment)
}

func (fc *FrameCodec) WriteData(streamID uint32, endStream bool, data []byte) error {
	return fc.framer.WriteData(streamID, endStream, data)
}

// WriteDataPadded writes a DATA frame with the PADDED flag set, pad being
// the padding octets appended after data (RFC 9113 §6.1). A nil/empty pad
// behaves like WriteData.
func (fc *FrameCodec) WriteDataPadded(streamID uint32, endStream bool, data, pad []byte) error {
	if len(pad) == 0 {
		return fc.framer.WriteData(streamID, endStream, data)
	}
	return fc.framer.WriteDataPadded(streamID, endStream, data, pad)
}

// MaxFrameSizeCeiling is the largest value MAX_FRAME_SIZE may legally
// advertise (RFC 9113 §6.5.2).
const MaxFrameSizeCeiling = maxFrameSize
