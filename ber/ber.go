// Package ber implements the subset of the ASN.1 Basic Encoding Rules used by SNMP.
//
// The package converts SNMP primitive values (integers, unsigned 32 and 64 bit
// integers, octet strings, object identifiers, null and exception markers) and
// constructed headers (sequences and PDUs) into their exact byte representation
// and back. Encoding is append-style and allocation friendly; decoding runs over
// a position-tracked Decoder so every failure reports where in the stream it
// happened.
//
// # Encoding
//
// Encoders append to a caller supplied slice:
//
//	buf := ber.AppendInteger(nil, ber.TagInteger, 42)
//	buf = ber.AppendOID(buf, []uint32{1, 3, 6, 1, 2, 1, 1, 1, 0})
//	buf = ber.AppendNull(buf, ber.TagNull)
//
// Constructed values are built by encoding the content first and prefixing it
// with a header:
//
//	content := ber.AppendOID(nil, oid)
//	content = ber.AppendNull(content, ber.TagNull)
//	varbind := ber.AppendHeader(nil, ber.TagSequence, len(content))
//	varbind = append(varbind, content...)
//
// # Decoding
//
// Each decode operation validates the tag it reads against the tags legal for
// the requested type and returns the observed tag together with the value:
//
//	d := ber.NewDecoder(packet, ber.DefaultOptions())
//	length, err := d.DecodeSequence(ber.TagSequence)
//	tag, value, err := d.DecodeInteger()
//
// # Strictness
//
// Length validation is controlled by an explicit Options value rather than
// package state. Lenient decoding is useful against agents that emit wrong
// sequence lengths:
//
//	d := ber.NewDecoder(packet, ber.Options{CheckSequenceLength: false, CheckValueLength: true})
//
// # Errors
//
// Decode failures are returned as *DecodeError values that wrap one of the
// package sentinel errors:
//
//	if errors.Is(err, ber.ErrIndefiniteLength) {
//		// agent used an indefinite length form
//	}
package ber

import (
	"errors"
	"fmt"
)

// Universal and SNMP application tags.
const (
	TagInteger     byte = 0x02
	TagOctetString byte = 0x04
	TagNull        byte = 0x05
	TagOID         byte = 0x06
	TagSequence    byte = 0x30

	TagIPAddress   byte = 0x40
	TagCounter32   byte = 0x41
	TagGauge32     byte = 0x42
	TagTimeTicks   byte = 0x43
	TagOpaque      byte = 0x44
	TagNsapAddress byte = 0x45
	TagCounter64   byte = 0x46
	TagUInteger32  byte = 0x47

	TagNoSuchObject   byte = 0x80
	TagNoSuchInstance byte = 0x81
	TagEndOfMibView   byte = 0x82
)

// Limits of the definite length forms supported by the codec.
const (
	// MaxLengthBytes is the largest number of length octets following a long form prefix.
	MaxLengthBytes = 4

	maxUnsigned32Bytes = 5
	maxUnsigned64Bytes = 9
	maxIntegerBytes    = 4
	maxSubIDBytes      = 5
)

// Sentinel errors wrapped by DecodeError.
var (
	ErrUnexpectedTag      = errors.New("unexpected tag")
	ErrIndefiniteLength   = errors.New("indefinite length form is not supported")
	ErrLengthTooLong      = errors.New("length form uses more than 4 octets")
	ErrLengthExceedsInput = errors.New("length exceeds remaining input")
	ErrTruncated          = errors.New("unexpected end of input")
	ErrValueTooLong       = errors.New("value encoding too long")
	ErrSubIDOverflow      = errors.New("sub-identifier exceeds 32 bits")
)

// Options controls how strictly a Decoder validates declared lengths.
type Options struct {
	// CheckSequenceLength rejects constructed values whose declared length is
	// larger than the remaining input. When false the length is clamped.
	CheckSequenceLength bool `json:"check_sequence_length" yaml:"check_sequence_length"`

	// CheckValueLength rejects primitive values whose declared length is larger
	// than the remaining input. When false the value is truncated to what is left.
	CheckValueLength bool `json:"check_value_length" yaml:"check_value_length"`
}

// DefaultOptions returns strict decoding options.
func DefaultOptions() Options {
	return Options{
		CheckSequenceLength: true,
		CheckValueLength:    true,
	}
}

// DecodeError describes a decoding failure at a given stream position.
type DecodeError struct {
	Op  string // decode operation, e.g. "integer"
	Tag byte   // tag observed at the failure, zero when not yet read
	Pos int    // offset of the tag of the value being decoded
	Err error  // one of the package sentinel errors
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ber: decode %s at offset %d (tag 0x%02x): %v", e.Op, e.Pos, e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TagName returns a human readable name for SNMP related tags.
func TagName(tag byte) string {
	switch tag {
	case TagInteger:
		return "INTEGER"
	case TagOctetString:
		return "OCTET STRING"
	case TagNull:
		return "NULL"
	case TagOID:
		return "OBJECT IDENTIFIER"
	case TagSequence:
		return "SEQUENCE"
	case TagIPAddress:
		return "IpAddress"
	case TagCounter32:
		return "Counter32"
	case TagGauge32:
		return "Gauge32"
	case TagTimeTicks:
		return "TimeTicks"
	case TagOpaque:
		return "Opaque"
	case TagNsapAddress:
		return "NsapAddress"
	case TagCounter64:
		return "Counter64"
	case TagUInteger32:
		return "UInteger32"
	case TagNoSuchObject:
		return "noSuchObject"
	case TagNoSuchInstance:
		return "noSuchInstance"
	case TagEndOfMibView:
		return "endOfMibView"
	default:
		return fmt.Sprintf("0x%02x", tag)
	}
}
