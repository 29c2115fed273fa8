package http2

import (
	"github.com/domsolutions/h2reactor/internal/wire"
	"golang.org/x/net/http2/hpack"
)

// Request is what a completed stream turns into for the handler: pseudo
// headers promoted to dedicated fields, the rest left as an ordered header
// list, body fully assembled.
//
// Grounded on RequestHeader's pseudo-header promotion in the reference
// stack, generalized from fasthttp-specific fields to the plain byte
// fields this engine's handler contract needs.
type Request struct {
	StreamID uint32

	Method    string
	Path      string
	Scheme    string
	Authority string
	UserAgent string

	Headers []hpack.HeaderField
	Body    []byte
}

// Header returns the value of the first ordinary (non-pseudo) header
// named key, matching ASCII-case-insensitively so callers don't need to
// know HPACK already lower-cases names on the wire.
func (r *Request) Header(key string) string {
	kb := wire.S2B(key)
	for _, h := range r.Headers {
		if wire.EqualsFold(wire.S2B(h.Name), kb) {
			return h.Value
		}
	}
	return ""
}
