// Package wire holds small byte-level helpers shared by the connection
// engine: buffer growth, case-insensitive ASCII comparison, zero-copy
// string/byte conversions and response padding.
package wire

import (
	"crypto/rand"
	"reflect"
	"unsafe"

	"github.com/valyala/fastrand"
)

// Resize grows b so that len(b) == neededLen, reusing spare capacity first.
func Resize(b []byte, neededLen int) []byte {
	b = b[:cap(b)]
	if n := neededLen - len(b); n > 0 {
		b = append(b, make([]byte, n)...)
	}
	return b[:neededLen]
}

// EqualsFold reports whether a and b are equal ignoring ASCII case.
func EqualsFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// RandomPad returns a random byte slice between 1 and maxLen bytes, for use
// as the Pad argument to golang.org/x/net/http2.Framer.WriteDataPadded
// (RFC 9113 §6.1's PADDED flag). maxLen <= 0 returns nil (no padding).
func RandomPad(maxLen int) []byte {
	if maxLen <= 0 {
		return nil
	}
	n := int(fastrand.Uint32n(uint32(maxLen))) + 1
	pad := make([]byte, n)
	rand.Read(pad)
	return pad
}

// B2S converts a byte slice to a string without copying.
func B2S(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// S2B converts a string to a byte slice without copying. The result must
// not be mutated.
func S2B(s string) []byte {
	sh := (*reflect.StringHeader)(unsafe.Pointer(&s))
	bh := reflect.SliceHeader{Data: sh.Data, Len: sh.Len, Cap: sh.Len}
	return *(*[]byte)(unsafe.Pointer(&bh))
}
