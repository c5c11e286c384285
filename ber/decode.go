package ber

import "slices"

// Decoder reads BER encoded values from a byte slice while tracking its position.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf  []byte
	pos  int
	opts Options
}

// NewDecoder returns a Decoder reading buf with the given strictness options.
func NewDecoder(buf []byte, opts Options) *Decoder {
	return &Decoder{buf: buf, opts: opts}
}

// Pos returns the offset of the next octet to be read.
func (d *Decoder) Pos() int { return d.pos }

// Remaining returns the number of unread octets.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Options returns the strictness options of the decoder.
func (d *Decoder) Options() Options { return d.opts }

// PeekTag returns the next tag without consuming it.
func (d *Decoder) PeekTag() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, &DecodeError{Op: "tag", Pos: d.pos, Err: ErrTruncated}
	}
	return d.buf[d.pos], nil
}

// Skip advances the decoder by n octets.
func (d *Decoder) Skip(n int) error {
	if n < 0 || n > d.Remaining() {
		return &DecodeError{Op: "skip", Pos: d.pos, Err: ErrTruncated}
	}
	d.pos += n
	return nil
}

// DecodeLength reads a length field at the current position.
//
// The declared length is checked against the remaining input when
// Options.CheckValueLength is set.
func (d *Decoder) DecodeLength() (int, error) {
	start := d.pos
	length, err := d.readLength()
	if err != nil {
		return 0, &DecodeError{Op: "length", Pos: start, Err: err}
	}
	if length > d.Remaining() {
		if d.opts.CheckValueLength {
			return 0, &DecodeError{Op: "length", Pos: start, Err: ErrLengthExceedsInput}
		}
		length = d.Remaining()
	}
	return length, nil
}

// DecodeHeader reads a tag and a length without validating the tag.
func (d *Decoder) DecodeHeader() (tag byte, length int, err error) {
	return d.header("header", d.opts.CheckValueLength, nil)
}

// DecodeSequence reads the header of a constructed value that must carry tag
// and returns its content length.
func (d *Decoder) DecodeSequence(tag byte) (int, error) {
	_, length, err := d.header("sequence", d.opts.CheckSequenceLength, []byte{tag})
	return length, err
}

// DecodeInteger reads a signed 32 bit integer. INTEGER, Counter32 and Gauge32
// tags are accepted. A Counter32 or Gauge32 value above math.MaxInt32 does not
// fit and yields ErrValueTooLong; use DecodeUnsigned32 for those.
func (d *Decoder) DecodeInteger() (byte, int32, error) {
	start := d.pos
	tag, content, err := d.value("integer", TagInteger, TagCounter32, TagGauge32)
	if err != nil {
		return tag, 0, err
	}
	if len(content) == maxIntegerBytes+1 && content[0] == 0 && tag != TagInteger {
		if content[1]&0x80 != 0 {
			return tag, 0, &DecodeError{Op: "integer", Tag: tag, Pos: start, Err: ErrValueTooLong}
		}
		content = content[1:]
	}
	switch {
	case len(content) == 0:
		return tag, 0, &DecodeError{Op: "integer", Tag: tag, Pos: start, Err: ErrTruncated}
	case len(content) > maxIntegerBytes:
		return tag, 0, &DecodeError{Op: "integer", Tag: tag, Pos: start, Err: ErrValueTooLong}
	}
	v := int64(int8(content[0]))
	for _, b := range content[1:] {
		v = v<<8 | int64(b)
	}
	return tag, int32(v), nil
}

// DecodeUnsigned32 reads an unsigned 32 bit value. Counter32, Gauge32,
// TimeTicks and UInteger32 tags are accepted.
func (d *Decoder) DecodeUnsigned32() (byte, uint32, error) {
	start := d.pos
	tag, content, err := d.value("unsigned32", TagCounter32, TagGauge32, TagTimeTicks, TagUInteger32)
	if err != nil {
		return tag, 0, err
	}
	v, err := parseUnsigned(content, maxUnsigned32Bytes)
	if err != nil {
		return tag, 0, &DecodeError{Op: "unsigned32", Tag: tag, Pos: start, Err: err}
	}
	return tag, uint32(v), nil
}

// DecodeUnsigned64 reads a Counter64 value.
func (d *Decoder) DecodeUnsigned64() (byte, uint64, error) {
	start := d.pos
	tag, content, err := d.value("unsigned64", TagCounter64)
	if err != nil {
		return tag, 0, err
	}
	v, err := parseUnsigned(content, maxUnsigned64Bytes)
	if err != nil {
		return tag, 0, &DecodeError{Op: "unsigned64", Tag: tag, Pos: start, Err: err}
	}
	return tag, v, nil
}

// DecodeOctetString reads a primitive octet string. OCTET STRING, IpAddress,
// Opaque and NsapAddress tags are accepted. The returned slice is a copy.
func (d *Decoder) DecodeOctetString() (byte, []byte, error) {
	tag, content, err := d.value("octet string", TagOctetString, TagIPAddress, TagOpaque, TagNsapAddress)
	if err != nil {
		return tag, nil, err
	}
	out := make([]byte, len(content))
	copy(out, content)
	return tag, out, nil
}

// DecodeNull reads a zero length value: NULL or one of the exception markers.
func (d *Decoder) DecodeNull() (byte, error) {
	start := d.pos
	tag, content, err := d.value("null", TagNull, TagNoSuchObject, TagNoSuchInstance, TagEndOfMibView)
	if err != nil {
		return tag, err
	}
	if len(content) != 0 {
		return tag, &DecodeError{Op: "null", Tag: tag, Pos: start, Err: ErrValueTooLong}
	}
	return tag, nil
}

// DecodeOID reads an OBJECT IDENTIFIER.
func (d *Decoder) DecodeOID() ([]uint32, error) {
	start := d.pos
	tag, content, err := d.value("oid", TagOID)
	if err != nil {
		return nil, err
	}
	oid, err := parseOID(content)
	if err != nil {
		return nil, &DecodeError{Op: "oid", Tag: tag, Pos: start, Err: err}
	}
	return oid, nil
}

// header reads a tag and a length. When legal is non-empty the tag must be one of its members.
func (d *Decoder) header(op string, check bool, legal []byte) (byte, int, error) {
	start := d.pos
	if d.pos >= len(d.buf) {
		return 0, 0, &DecodeError{Op: op, Pos: start, Err: ErrTruncated}
	}
	tag := d.buf[d.pos]
	if len(legal) > 0 && !slices.Contains(legal, tag) {
		return tag, 0, &DecodeError{Op: op, Tag: tag, Pos: start, Err: ErrUnexpectedTag}
	}
	d.pos++
	length, err := d.readLength()
	if err != nil {
		d.pos = start
		return tag, 0, &DecodeError{Op: op, Tag: tag, Pos: start, Err: err}
	}
	if length > d.Remaining() {
		if check {
			d.pos = start
			return tag, 0, &DecodeError{Op: op, Tag: tag, Pos: start, Err: ErrLengthExceedsInput}
		}
		length = d.Remaining()
	}
	return tag, length, nil
}

// value reads a primitive value whose tag must be one of legal and returns its content.
func (d *Decoder) value(op string, legal ...byte) (byte, []byte, error) {
	tag, length, err := d.header(op, d.opts.CheckValueLength, legal)
	if err != nil {
		return tag, nil, err
	}
	content := d.buf[d.pos : d.pos+length]
	d.pos += length
	return tag, content, nil
}

func (d *Decoder) readLength() (int, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrTruncated
	}
	first := d.buf[d.pos]
	d.pos++
	if first < 0x80 {
		return int(first), nil
	}
	n := int(first & 0x7f)
	switch {
	case n == 0:
		return 0, ErrIndefiniteLength
	case n > MaxLengthBytes:
		return 0, ErrLengthTooLong
	case n > d.Remaining():
		return 0, ErrTruncated
	}
	var length uint64
	for _, b := range d.buf[d.pos : d.pos+n] {
		length = length<<8 | uint64(b)
	}
	d.pos += n
	if length > uint64(len(d.buf)) {
		// cannot be satisfied by this buffer, and may not fit an int on 32 bit platforms
		return len(d.buf) + 1, nil
	}
	return int(length), nil
}

func parseUnsigned(content []byte, maxBytes int) (uint64, error) {
	switch {
	case len(content) == 0:
		return 0, ErrTruncated
	case len(content) > maxBytes:
		return 0, ErrValueTooLong
	case len(content) == maxBytes && content[0] != 0:
		return 0, ErrValueTooLong
	}
	if len(content) > 1 && content[0] == 0 {
		content = content[1:]
	}
	var v uint64
	for _, b := range content {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func parseOID(content []byte) ([]uint32, error) {
	if len(content) == 0 {
		return []uint32{}, nil
	}
	oid := make([]uint32, 0, len(content)+1)
	if content[0] == 0x2b {
		// 1.3 prefix shared by virtually every SNMP OID
		oid = append(oid, 1, 3)
		content = content[1:]
	} else {
		first, n, err := readSubID(content, maxSubIDBytes)
		if err != nil {
			return nil, err
		}
		content = content[n:]
		switch {
		case first < 40:
			oid = append(oid, 0, uint32(first))
		case first < 80:
			oid = append(oid, 1, uint32(first-40))
		default:
			if first-80 > 0xffffffff {
				return nil, ErrSubIDOverflow
			}
			oid = append(oid, 2, uint32(first-80))
		}
	}
	for len(content) > 0 {
		sub, n, err := readSubID(content, maxSubIDBytes)
		if err != nil {
			return nil, err
		}
		if sub > 0xffffffff {
			return nil, ErrSubIDOverflow
		}
		oid = append(oid, uint32(sub))
		content = content[n:]
	}
	return oid, nil
}

// readSubID decodes one base-128 value and returns it with the number of octets consumed.
func readSubID(content []byte, maxBytes int) (uint64, int, error) {
	var v uint64
	for i, b := range content {
		if i == maxBytes {
			return 0, 0, ErrSubIDOverflow
		}
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrTruncated
}
