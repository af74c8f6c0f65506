// Package utf16x converts between UTF-8 and UCS-2 (BMP-only UTF-16) without
// allocating. It is narrower than Go's unicode/utf16: codepoints outside the
// Basic Multilingual Plane are rejected rather than encoded as a surrogate
// pair, because long-file-name directory entries only ever carry single
// 16-bit code units.
package utf16x

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// 0xd800-0xdc00 encodes the high 10 bits of a pair.
	// 0xdc00-0xe000 encodes the low 10 bits of a pair.
	surr1 = 0xd800
	surr2 = 0xdc00
	surr3 = 0xe000

	// MaxRune is the highest codepoint this package will encode. Anything
	// above it lies outside the Basic Multilingual Plane and would need a
	// surrogate pair, which this package refuses to produce.
	MaxRune = 0xFFFF
)

var (
	errMultiple2    = errors.New("utf16x: UTF-16 byte length must be multiple of 2")
	errShortDst     = errors.New("utf16x: short destination buffer")
	errInvalidUTF8  = errors.New("utf16x: invalid utf8 sequence")
	errInvalidUTF16 = errors.New("utf16x: invalid utf16 sequence")
	// ErrNonBMP is returned when a source codepoint requires a surrogate
	// pair to represent, i.e. it is above MaxRune.
	ErrNonBMP = errors.New("utf16x: codepoint outside Basic Multilingual Plane")
)

// ToUTF8 converts UCS-2 code units in srcUTF16 to UTF-8 in dstUTF8, returning
// the number of bytes written to dstUTF8.
func ToUTF8(dstUTF8, srcUTF16 []byte, order16 binary.ByteOrder) (int, error) {
	if len(srcUTF16)%2 != 0 {
		return 0, errMultiple2
	}
	n := 0
	for len(srcUTF16) > 1 {
		r, size, err := DecodeRune(srcUTF16, order16)
		if err != nil {
			return n, err
		} else if utf8.RuneLen(r) > len(dstUTF8[n:]) {
			return n, errShortDst
		}
		srcUTF16 = srcUTF16[size:]
		n += utf8.EncodeRune(dstUTF8[n:], r)
	}
	return n, nil
}

// FromUTF8 converts UTF-8 in src8 to UCS-2 code units in dst16, returning the
// number of bytes written to dst16. It returns ErrNonBMP on the first
// codepoint that cannot be represented as a single UCS-2 unit.
func FromUTF8(dst16, src8 []byte, order16 binary.ByteOrder) (int, error) {
	n := 0
	for len(src8) > 0 {
		if len(dst16[n:]) < 2 {
			return n, errShortDst
		}
		r1, size := utf8.DecodeRune(src8)
		if r1 == utf8.RuneError && size <= 1 {
			return n, errInvalidUTF8
		}
		nn, err := EncodeRune(dst16[n:], r1, order16)
		if err != nil {
			return n, err
		}
		n += nn
		src8 = src8[size:]
	}
	return n, nil
}

// EncodeRune writes v as a single UCS-2 code unit to dst16. It returns
// ErrNonBMP if v cannot be represented in 16 bits.
func EncodeRune(dst16 []byte, v rune, order16 binary.ByteOrder) (sizeBytes int, err error) {
	if v < 0 || v > MaxRune || utf16.IsSurrogate(v) {
		return 0, ErrNonBMP
	}
	_ = dst16[1] // Eliminate bounds check.
	order16.PutUint16(dst16, uint16(v))
	return 2, nil
}

// DecodeRune reads a single UCS-2 code unit from srcUTF16. Lone surrogate
// units are rejected since this package never emits surrogate pairs.
func DecodeRune(srcUTF16 []byte, order16 binary.ByteOrder) (r rune, size int, err error) {
	_ = srcUTF16[1] // Eliminate bounds check.
	if len(srcUTF16) == 0 {
		return 0, 0, errInvalidUTF16
	}
	r = rune(order16.Uint16(srcUTF16))
	if surr1 <= r && r < surr3 {
		return 0, 0, errInvalidUTF16
	}
	return r, 2, nil
}
