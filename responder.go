package http2

import (
	"strconv"

	"github.com/domsolutions/h2reactor/internal/wire"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// Responder encodes a Response back to HEADERS(+CONTINUATION)+DATA frames
// on a connection, respecting the peer's advertised max_frame_size and the
// stream's/connection's remaining send windows.
//
// This resolves the "response emission" open contract named in
// SPEC_FULL.md §4.6/§9; grounded on serverConn.go's handleEndRequest,
// fasthttpResponseHeaders and streamWrite/writeData.
type Responder struct {
	cc *ConnectionContext
}

// NewResponder binds a Responder to a connection context.
func NewResponder(cc *ConnectionContext) *Responder {
	return &Responder{cc: cc}
}

// Write encodes resp for streamID and queues the resulting frames on the
// connection's pending-output buffer (drained by the server loop's
// writable-readiness branch).
func (r *Responder) Write(streamID uint32, resp *Response) error {
	fields := make([]hpack.HeaderField, 0, len(resp.Headers)+1)
	fields = append(fields, hpack.HeaderField{Name: StringStatus, Value: strconv.Itoa(resp.StatusCode)})
	fields = append(fields, resp.Headers...)

	block := r.cc.Hpack().Encode(nil, fields)

	hasBody := len(resp.Body) > 0
	if err := r.writeHeaderBlock(streamID, block, !hasBody); err != nil {
		return err
	}
	if hasBody {
		return r.writeBody(streamID, resp.Body)
	}
	return nil
}

func (r *Responder) writeHeaderBlock(streamID uint32, block []byte, endStream bool) error {
	maxFrame := int(r.cc.MaxFrameSizeForWrites())
	if maxFrame <= 0 {
		maxFrame = int(defaultMaxFrameSize)
	}

	first := block
	rest := []byte(nil)
	if len(first) > maxFrame {
		first, rest = block[:maxFrame], block[maxFrame:]
	}

	if err := r.cc.Codec().WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}); err != nil {
		return newErr("responder.write_header_block", KindIOError, err)
	}

	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > maxFrame {
			chunk = rest[:maxFrame]
		}
		rest = rest[len(chunk):]
		if err := r.cc.Codec().WriteContinuation(streamID, len(rest) == 0, chunk); err != nil {
			return newErr("responder.write_header_block", KindIOError, err)
		}
	}
	return nil
}

// writeBody chunks body into DATA frames no larger than max_frame_size and
// no larger than the stream's and the connection's remaining send windows.
func (r *Responder) writeBody(streamID uint32, body []byte) error {
	strm := r.cc.Streams().Get(streamID)
	if strm == nil {
		return nil
	}
	return r.writeChunks(strm, body)
}

// FlushPending resumes writing a stream's queued response body after a
// stream- or connection-level WINDOW_UPDATE has granted more send budget.
// A no-op if nothing is queued for strm.
func (r *Responder) FlushPending(strm *Stream) error {
	pending := strm.TakePendingBody()
	if pending == nil {
		return nil
	}
	return r.writeChunks(strm, pending)
}

// writeChunks writes as much of body as the stream's and the connection's
// current send windows allow, per §4.6's "respects the stream's and the
// connection's advertised windows." Any remainder that doesn't fit under
// either window is queued on strm via SetPendingBody instead of being
// dropped, so a later WINDOW_UPDATE can resume it through FlushPending.
func (r *Responder) writeChunks(strm *Stream, body []byte) error {
	maxPad := r.cc.MaxResponsePadding()
	maxFrame := int(r.cc.MaxFrameSizeForWrites())
	if maxFrame <= 0 {
		maxFrame = int(defaultMaxFrameSize)
	}

	for len(body) > 0 {
		budget := strm.Window()
		if connBudget := r.cc.ConnPeerWindow(); connBudget < budget {
			budget = connBudget
		}
		if budget <= 0 {
			strm.SetPendingBody(body)
			return nil
		}

		pad := wire.RandomPad(maxPad)
		// A padded DATA frame also carries a one-octet Pad Length field,
		// which counts against max_frame_size and the send windows.
		padCost := 0
		if len(pad) > 0 {
			padCost = len(pad) + 1
		}
		step := maxFrame - padCost
		if step <= 0 {
			pad, padCost = nil, 0
			step = maxFrame
		}
		if int64(step+padCost) > budget {
			step = int(budget) - padCost
			if step < 0 {
				step, pad, padCost = int(budget), nil, 0
			}
		}
		if step <= 0 {
			strm.SetPendingBody(body)
			return nil
		}
		if step > len(body) {
			step = len(body)
		}

		chunk := body[:step]
		body = body[step:]
		end := len(body) == 0

		if err := r.cc.Codec().WriteDataPadded(strm.ID(), end, chunk, pad); err != nil {
			return newErr("responder.write_body", KindIOError, err)
		}
		written := int64(step + padCost)
		_ = strm.IncrWindow(-written)
		r.cc.DecrConnPeerWindow(written)
	}
	strm.SetState(StateEnded)
	return nil
}
