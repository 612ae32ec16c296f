// Package pixel decodes the wire payloads carried by graphics commands:
// the lenient base64 framing used for both path arguments and chunked
// image data, and the raw/zlib pixel formats those payloads decode to.
package pixel

import "encoding/base64"

// base64Digits maps an input byte to its 6-bit sextet value. '=' maps
// to -1 and is used as a padding sentinel. Bytes with no assigned
// meaning decode as 0, the same value as 'A'; the printable-byte filter
// is the only gate in front of the table.
var base64Digits = buildBase64Table()

func buildBase64Table() [256]int8 {
	var t [256]int8
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	for i := 0; i < len(alphabet); i++ {
		t[alphabet[i]] = int8(i)
	}
	t['='] = -1
	return t
}

func isPrintableASCII(b byte) bool {
	return b >= 0x20 && b < 0x7f
}

// DecodeBase64 decodes src per the protocol's tolerant rules: bytes that
// aren't printable ASCII are skipped rather than treated as an error,
// a payload that runs out before a quartet completes is treated as if
// padded with '=', and decoding stops as soon as either of the first two
// sextets in a quartet is a pad character (no bytes are emitted for that
// quartet). The result length is floor(valid_sextets*6/8); an empty
// result means no usable data was found.
func DecodeBase64(src []byte) []byte {
	out := make([]byte, 0, (len(src)+3)/4*3)
	pos := 0

	next := func() int8 {
		for pos < len(src) && !isPrintableASCII(src[pos]) {
			pos++
		}
		if pos >= len(src) {
			return -1
		}
		b := src[pos]
		pos++
		return base64Digits[b]
	}

	for pos < len(src) {
		a := next()
		b := next()
		c := next()
		d := next()

		if a == -1 || b == -1 {
			break
		}
		out = append(out, byte(a<<2)|byte((b&0x30)>>4))

		if c == -1 {
			break
		}
		out = append(out, byte((b&0x0f)<<4)|byte((c&0x3c)>>2))

		if d == -1 {
			break
		}
		out = append(out, byte((c&0x03)<<6)|byte(d))
	}

	return out
}

// EncodeBase64 is the inverse used by tests and by any component that
// needs to round-trip a payload; standard padded base64 is always valid
// input to DecodeBase64.
func EncodeBase64(src []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(src)))
	base64.StdEncoding.Encode(out, src)
	return out
}
