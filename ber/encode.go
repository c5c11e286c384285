package ber

import "fmt"

// MaxLength is the largest content length expressible with MaxLengthBytes octets.
const MaxLength = 1<<32 - 1

// LengthSize returns the number of octets AppendLength emits for length.
func LengthSize(length int) int {
	if length < 0x80 {
		return 1
	}
	n := 1
	for v := uint64(length); v > 0; v >>= 8 {
		n++
	}
	return n
}

// HeaderSize returns the size of a tag plus the length field for a value of the given content length.
func HeaderSize(length int) int {
	return 1 + LengthSize(length)
}

// AppendLength appends the definite length encoding of length to dst.
//
// Lengths below 0x80 use the short form. Larger lengths use the long form with
// one to four big-endian octets. length must be within [0, MaxLength]; other
// values are a programming error and panic.
func AppendLength(dst []byte, length int) []byte {
	if length < 0 || uint64(length) > MaxLength {
		panic(fmt.Sprintf("ber: length %d out of range", length))
	}
	if length < 0x80 {
		return append(dst, byte(length))
	}
	n := LengthSize(length) - 1
	dst = append(dst, 0x80|byte(n))
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(length>>(8*uint(i))))
	}
	return dst
}

// AppendHeader appends a tag and the length of a constructed or primitive value.
func AppendHeader(dst []byte, tag byte, length int) []byte {
	dst = append(dst, tag)
	return AppendLength(dst, length)
}

// IntegerLength returns the content length of the minimal two's complement encoding of v.
func IntegerLength(v int32) int {
	n := 1
	for x := int64(v); x > 127 || x < -128; x >>= 8 {
		n++
	}
	return n
}

// AppendInteger appends v as a signed integer using the minimal two's complement form.
func AppendInteger(dst []byte, tag byte, v int32) []byte {
	n := IntegerLength(v)
	dst = AppendHeader(dst, tag, n)
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}

// UnsignedLength returns the content length of the minimal unsigned encoding of v,
// including the zero octet inserted when the leading octet has its top bit set.
func UnsignedLength(v uint64) int {
	n := 1
	for x := v >> 7; x != 0; x >>= 8 {
		n++
	}
	return n
}

// AppendUnsigned32 appends v as an unsigned 32 bit value (Counter32, Gauge32, TimeTicks).
func AppendUnsigned32(dst []byte, tag byte, v uint32) []byte {
	return appendUnsigned(dst, tag, uint64(v))
}

// AppendUnsigned64 appends v as an unsigned 64 bit value (Counter64).
func AppendUnsigned64(dst []byte, tag byte, v uint64) []byte {
	return appendUnsigned(dst, tag, v)
}

func appendUnsigned(dst []byte, tag byte, v uint64) []byte {
	n := UnsignedLength(v)
	dst = AppendHeader(dst, tag, n)
	for i := n - 1; i >= 0; i-- {
		// shifting a uint64 by 64 yields zero, which is the leading pad octet
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}

// AppendOctetString appends value as a primitive octet string.
func AppendOctetString(dst []byte, tag byte, value []byte) []byte {
	dst = AppendHeader(dst, tag, len(value))
	return append(dst, value...)
}

// AppendNull appends a zero length value. It is used for NULL and for the
// noSuchObject, noSuchInstance and endOfMibView exception markers.
func AppendNull(dst []byte, tag byte) []byte {
	return append(dst, tag, 0x00)
}

// OIDLength returns the content length of the encoding of oid.
func OIDLength(oid []uint32) int {
	if len(oid) < 2 {
		return 1
	}
	n := base128Length(uint64(oid[0])*40 + uint64(oid[1]))
	for _, sub := range oid[2:] {
		n += base128Length(uint64(sub))
	}
	return n
}

// AppendOID appends oid as an OBJECT IDENTIFIER.
//
// The first two sub-identifiers X and Y are packed as X*40+Y. An OID with
// fewer than two sub-identifiers is encoded as a single zero octet.
func AppendOID(dst []byte, oid []uint32) []byte {
	dst = AppendHeader(dst, TagOID, OIDLength(oid))
	if len(oid) < 2 {
		return append(dst, 0x00)
	}
	dst = appendBase128(dst, uint64(oid[0])*40+uint64(oid[1]))
	for _, sub := range oid[2:] {
		dst = appendBase128(dst, uint64(sub))
	}
	return dst
}

func base128Length(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

func appendBase128(dst []byte, v uint64) []byte {
	for i := base128Length(v) - 1; i >= 0; i-- {
		b := byte(v>>(7*uint(i))) & 0x7f
		if i != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}
