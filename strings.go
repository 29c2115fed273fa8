package http2

// Pseudo-header and common header names, and the connection preface this
// engine requires before it will parse a single frame (h2c, prior
// knowledge — no TLS, no HTTP/1.1 upgrade).
const (
	StringMethod    = ":method"
	StringPath      = ":path"
	StringScheme    = ":scheme"
	StringAuthority = ":authority"
	StringStatus    = ":status"
	StringUserAgent = "user-agent"
)

// ClientPreface is the 24-byte magic every HTTP/2 connection opens with,
// client side, before any frame (RFC 9113 §3.4).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// H2Clean is the protocol token this engine speaks: cleartext HTTP/2 by
// prior knowledge. There is no ALPN token here because there is no TLS.
const H2Clean = "h2c"
