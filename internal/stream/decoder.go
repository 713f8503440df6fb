package stream

import (
	"strings"
	"unicode/utf8"
)

// Decoder turns raw byte chunks into UTF-8 text. A multi-byte sequence split across two chunks is held back
// until the rest of it arrives, so only genuinely invalid bytes are ever replaced with utf8.RuneError.
//
// The zero value is ready to use. A Decoder must not be shared between streams.
type Decoder struct {
	carry []byte
}

// Decode returns all text that can be decoded from the pending carryover followed by chunk. A trailing
// incomplete sequence is kept for the next call.
func (d *Decoder) Decode(chunk []byte) string {
	buf := chunk
	if len(d.carry) > 0 {
		buf = append(d.carry, chunk...)
		d.carry = nil
	}

	cut := incompleteTail(buf)
	if cut < len(buf) {
		d.carry = append([]byte(nil), buf[cut:]...)
		buf = buf[:cut]
	}

	return decodeValid(buf)
}

// Flush returns whatever is left in the carryover. It is only called at end of stream, when an incomplete
// sequence can no longer be completed and is therefore invalid.
func (d *Decoder) Flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	s := decodeValid(d.carry)
	d.carry = nil
	return s
}

// incompleteTail returns the index where a trailing, still completable, UTF-8 sequence starts, or len(b) if
// the buffer ends on a rune boundary.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax+1; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		// FullRune reports false only for a valid prefix that lacks continuation bytes.
		if !utf8.FullRune(b[i:]) {
			return i
		}
		break
	}
	return len(b)
}

// decodeValid copies b into a string, replacing every byte that does not start a valid encoding with
// utf8.RuneError. Replacing per byte keeps the result identical however the input was chunked.
func decodeValid(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}
