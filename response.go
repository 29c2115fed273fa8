package http2

import "golang.org/x/net/http2/hpack"

// Response is what a handler returns for a Request. Responder (§4.6)
// encodes it to HEADERS(+CONTINUATION)+DATA frames.
//
// Grounded on ResponseHeader's status/content-length synthesis in the
// reference stack, generalized away from its fasthttp.Response coupling.
type Response struct {
	StatusCode int
	Headers    []hpack.HeaderField
	Body       []byte
}

// NewResponse builds a 200 response with the given body and no extra
// headers, the common case for the engine's demo/test handlers.
func NewResponse(body []byte) *Response {
	return &Response{StatusCode: 200, Body: body}
}

// AddHeader appends an ordinary response header. Do not use it for
// ":status" — StatusCode controls that pseudo-header.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, hpack.HeaderField{Name: name, Value: value})
}
