package http2

import "golang.org/x/net/http2/hpack"

// encodeTarget is the io.Writer hpack.Encoder writes to; it appends
// straight into whatever slice Encode is currently building, since
// hpack.Encoder writes each field's bytes as soon as WriteField returns
// rather than batching them.
type encodeTarget struct{ dst []byte }

func (t *encodeTarget) Write(p []byte) (int, error) {
	t.dst = append(t.dst, p...)
	return len(p), nil
}

// HpackContext owns one connection's HPACK dynamic table for decoding, and
// a matching encoder for the responses this connection writes back. RFC
// 7541 scopes the dynamic table to the connection, not the stream, so
// every stream on a ConnectionContext decodes through the same
// HpackContext in frame-arrival order.
type HpackContext struct {
	dec *hpack.Decoder
	enc *hpack.Encoder
	out *encodeTarget

	fields []hpack.HeaderField
}

// NewHpackContext builds a decoder whose dynamic table is capped at
// maxEntrySize bytes (RFC 7541 §4.1 accounting: 32 + name + value per
// entry), and an encoder that keeps the 4096-byte default table size until
// SetEncoderTableSize changes it.
func NewHpackContext(maxEntrySize uint32) *HpackContext {
	hc := &HpackContext{out: &encodeTarget{}}
	hc.enc = hpack.NewEncoder(hc.out)
	hc.dec = hpack.NewDecoder(maxEntrySize, hc.emit)
	return hc
}

func (hc *HpackContext) emit(f hpack.HeaderField) {
	hc.fields = append(hc.fields, f)
}

// Resize changes the decoder's maximum dynamic table size. Per RFC 7541
// §4.2 this must be applied before decoding the next header block that
// follows a SETTINGS_HEADER_TABLE_SIZE change from the peer.
func (hc *HpackContext) Resize(newByteCapacity uint32) {
	hc.dec.SetMaxDynamicTableSize(newByteCapacity)
}

// SetMaxTableSize bounds the dynamic table size updates that incoming
// header blocks may request, via hpack.Decoder.SetAllowedMaxDynamicTableSize.
func (hc *HpackContext) SetMaxTableSize(limit uint32) {
	hc.dec.SetAllowedMaxDynamicTableSize(limit)
}

// SetEncoderTableSize applies the peer's advertised HEADER_TABLE_SIZE to
// our own encoder, so responses never reference an index the peer's
// decoder hasn't allocated room for.
func (hc *HpackContext) SetEncoderTableSize(size uint32) {
	hc.enc.SetMaxDynamicTableSize(size)
}

// Decode feeds one header-block fragment to the decoder and returns every
// field it emitted, plus their summed RFC 7541 §4.1 accounting size.
func (hc *HpackContext) Decode(fragment []byte) ([]hpack.HeaderField, uint32, error) {
	hc.fields = hc.fields[:0]
	if _, err := hc.dec.Write(fragment); err != nil {
		return nil, 0, newErr("hpack.decode", KindHeaderDecodeError, err)
	}

	fields := hc.fields
	hc.fields = nil

	var size uint32
	for _, f := range fields {
		size += uint32(32 + len(f.Name) + len(f.Value))
	}
	return fields, size, nil
}

// Close finalizes the decoder, rejecting an incomplete header block left
// dangling (END_HEADERS never arrived).
func (hc *HpackContext) Close() error {
	return hc.dec.Close()
}

// Encode appends the HPACK representation of fields to dst and returns the
// extended slice — used by Responder to build an outbound header block.
func (hc *HpackContext) Encode(dst []byte, fields []hpack.HeaderField) []byte {
	hc.out.dst = dst
	for _, f := range fields {
		_ = hc.enc.WriteField(f)
	}
	dst = hc.out.dst
	hc.out.dst = nil
	return dst
}
