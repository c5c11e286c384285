// Package snmp provides the SNMP object model used by the retrieval engine:
// object identifiers, variable bindings, PDUs, agent targets, and the
// community based (v1/v2c) message framing built on the ber codec.
//
// # Object Identifiers
//
//	oid := snmp.MustParseOID("1.3.6.1.2.1.2.2.1.2")
//	idx := instance.Suffix(len(oid)) // row index of a columnar instance
//	if instance.Within(oid) { ... }
//
// # Messages
//
//	msg := &snmp.Message{Version: snmp.Version2c, Community: "public", PDU: pdu}
//	packet, err := msg.Marshal()
//
//	resp, err := snmp.UnmarshalMessage(packet, ber.DefaultOptions())
package snmp

import (
	"errors"
	"fmt"

	"github.com/geekxflood/snmpbulk/ber"
)

// ErrUnsupportedVersion is returned when encoding or decoding a message whose
// version uses a security model this package does not implement.
var ErrUnsupportedVersion = errors.New("unsupported SNMP message version")

// Message is a community based SNMP message.
type Message struct {
	Version   Version
	Community string
	PDU       *PDU
}

// Marshal encodes the message.
func (m *Message) Marshal() ([]byte, error) {
	if m.Version != Version1 && m.Version != Version2c {
		return nil, fmt.Errorf("failed to marshal message: %w: %s", ErrUnsupportedVersion, m.Version)
	}
	if m.PDU == nil {
		return nil, errors.New("failed to marshal message: nil PDU")
	}
	pdu, err := m.PDU.Marshal()
	if err != nil {
		return nil, err
	}

	content := ber.AppendInteger(nil, ber.TagInteger, int32(m.Version))
	content = ber.AppendOctetString(content, ber.TagOctetString, []byte(m.Community))
	content = append(content, pdu...)

	out := ber.AppendHeader(make([]byte, 0, ber.HeaderSize(len(content))+len(content)), ber.TagSequence, len(content))
	return append(out, content...), nil
}

// Marshal encodes the PDU alone, starting with its context tag.
func (p *PDU) Marshal() ([]byte, error) {
	var vbs []byte
	for i, vb := range p.Bindings {
		item := ber.AppendOID(nil, vb.OID)
		item, err := encodeValue(item, vb)
		if err != nil {
			return nil, fmt.Errorf("failed to encode variable binding %d: %w", i, err)
		}
		vbs = ber.AppendHeader(vbs, ber.TagSequence, len(item))
		vbs = append(vbs, item...)
	}

	status, index := int32(p.ErrorStatus), p.ErrorIndex
	if p.Type == GetBulkRequest {
		status, index = p.NonRepeaters, p.MaxRepetitions
	}

	content := ber.AppendInteger(nil, ber.TagInteger, p.RequestID)
	content = ber.AppendInteger(content, ber.TagInteger, status)
	content = ber.AppendInteger(content, ber.TagInteger, index)
	content = ber.AppendHeader(content, ber.TagSequence, len(vbs))
	content = append(content, vbs...)

	out := ber.AppendHeader(nil, byte(p.Type), len(content))
	return append(out, content...), nil
}

// EncodedLength returns the number of bytes of the encoded PDU.
func (p *PDU) EncodedLength() (int, error) {
	b, err := p.Marshal()
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// UnmarshalMessage decodes a v1 or v2c message.
func UnmarshalMessage(packet []byte, opts ber.Options) (*Message, error) {
	d := ber.NewDecoder(packet, opts)
	if _, err := d.DecodeSequence(ber.TagSequence); err != nil {
		return nil, fmt.Errorf("failed to decode message header: %w", err)
	}
	_, version, err := d.DecodeInteger()
	if err != nil {
		return nil, fmt.Errorf("failed to decode message version: %w", err)
	}
	if Version(version) != Version1 && Version(version) != Version2c {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	_, community, err := d.DecodeOctetString()
	if err != nil {
		return nil, fmt.Errorf("failed to decode community: %w", err)
	}
	pdu, err := decodePDU(d)
	if err != nil {
		return nil, err
	}
	return &Message{Version: Version(version), Community: string(community), PDU: pdu}, nil
}

// UnmarshalPDU decodes a PDU starting at its context tag.
func UnmarshalPDU(b []byte, opts ber.Options) (*PDU, error) {
	return decodePDU(ber.NewDecoder(b, opts))
}

func decodePDU(d *ber.Decoder) (*PDU, error) {
	tag, err := d.PeekTag()
	if err != nil {
		return nil, fmt.Errorf("failed to decode PDU type: %w", err)
	}
	switch PDUType(tag) {
	case GetRequest, GetNextRequest, Response, SetRequest, GetBulkRequest, InformRequest, SNMPv2Trap, Report:
	default:
		return nil, fmt.Errorf("failed to decode PDU: %w", &ber.DecodeError{Op: "pdu", Tag: tag, Pos: d.Pos(), Err: ber.ErrUnexpectedTag})
	}
	if _, err := d.DecodeSequence(tag); err != nil {
		return nil, fmt.Errorf("failed to decode PDU header: %w", err)
	}

	pdu := &PDU{Type: PDUType(tag)}
	var fields [3]int32
	for i := range fields {
		_, v, err := d.DecodeInteger()
		if err != nil {
			return nil, fmt.Errorf("failed to decode PDU field %d: %w", i, err)
		}
		fields[i] = v
	}
	pdu.RequestID = fields[0]
	if pdu.Type == GetBulkRequest {
		pdu.NonRepeaters, pdu.MaxRepetitions = fields[1], fields[2]
	} else {
		pdu.ErrorStatus, pdu.ErrorIndex = ErrorStatus(fields[1]), fields[2]
	}

	length, err := d.DecodeSequence(ber.TagSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to decode variable bindings: %w", err)
	}
	end := d.Pos() + length
	for d.Pos() < end {
		vb, err := decodeBinding(d)
		if err != nil {
			return nil, fmt.Errorf("failed to decode variable binding %d: %w", len(pdu.Bindings), err)
		}
		pdu.Bindings = append(pdu.Bindings, vb)
	}
	return pdu, nil
}

func decodeBinding(d *ber.Decoder) (VariableBinding, error) {
	if _, err := d.DecodeSequence(ber.TagSequence); err != nil {
		return VariableBinding{}, err
	}
	oid, err := d.DecodeOID()
	if err != nil {
		return VariableBinding{}, err
	}
	syntax, value, err := decodeValue(d)
	if err != nil {
		return VariableBinding{}, err
	}
	return VariableBinding{OID: OID(oid), Syntax: syntax, Value: value}, nil
}
