package snmp

import (
	"fmt"
	"net"

	"github.com/geekxflood/snmpbulk/ber"
)

// Syntax identifies the type of a variable binding value by its BER tag.
type Syntax byte

// Syntaxes carried in variable bindings.
const (
	Integer          Syntax = Syntax(ber.TagInteger)
	OctetString      Syntax = Syntax(ber.TagOctetString)
	Null             Syntax = Syntax(ber.TagNull)
	ObjectIdentifier Syntax = Syntax(ber.TagOID)
	IPAddress        Syntax = Syntax(ber.TagIPAddress)
	Counter32        Syntax = Syntax(ber.TagCounter32)
	Gauge32          Syntax = Syntax(ber.TagGauge32)
	TimeTicks        Syntax = Syntax(ber.TagTimeTicks)
	Opaque           Syntax = Syntax(ber.TagOpaque)
	Counter64        Syntax = Syntax(ber.TagCounter64)
	NoSuchObject     Syntax = Syntax(ber.TagNoSuchObject)
	NoSuchInstance   Syntax = Syntax(ber.TagNoSuchInstance)
	EndOfMibView     Syntax = Syntax(ber.TagEndOfMibView)
)

func (s Syntax) String() string {
	return ber.TagName(byte(s))
}

// IsException reports whether s is one of the noSuchObject, noSuchInstance or
// endOfMibView markers.
func (s Syntax) IsException() bool {
	return s == NoSuchObject || s == NoSuchInstance || s == EndOfMibView
}

// VariableBinding pairs an OID with a value.
//
// Value holds an int32 for Integer, []byte for OctetString and Opaque, net.IP
// for IPAddress, OID for ObjectIdentifier, uint32 for Counter32, Gauge32 and
// TimeTicks, uint64 for Counter64 and nil for Null and the exception syntaxes.
type VariableBinding struct {
	OID    OID
	Syntax Syntax
	Value  any
}

// NewNullBinding returns a binding for oid carrying a NULL value, the form used in requests.
func NewNullBinding(oid OID) VariableBinding {
	return VariableBinding{OID: oid, Syntax: Null}
}

// IsException reports whether the binding carries an exception marker.
func (vb VariableBinding) IsException() bool {
	return vb.Syntax.IsException()
}

func (vb VariableBinding) String() string {
	switch v := vb.Value.(type) {
	case nil:
		return fmt.Sprintf("%s = %s", vb.OID, vb.Syntax)
	case []byte:
		return fmt.Sprintf("%s = %s: %q", vb.OID, vb.Syntax, v)
	default:
		return fmt.Sprintf("%s = %s: %v", vb.OID, vb.Syntax, v)
	}
}

// PDUType is the context specific tag of an SNMP PDU.
type PDUType byte

// PDU types of SNMPv1 and SNMPv2c.
const (
	GetRequest     PDUType = 0xa0
	GetNextRequest PDUType = 0xa1
	Response       PDUType = 0xa2
	SetRequest     PDUType = 0xa3
	GetBulkRequest PDUType = 0xa5
	InformRequest  PDUType = 0xa6
	SNMPv2Trap     PDUType = 0xa7
	Report         PDUType = 0xa8
)

func (t PDUType) String() string {
	switch t {
	case GetRequest:
		return "GET"
	case GetNextRequest:
		return "GETNEXT"
	case Response:
		return "RESPONSE"
	case SetRequest:
		return "SET"
	case GetBulkRequest:
		return "GETBULK"
	case InformRequest:
		return "INFORM"
	case SNMPv2Trap:
		return "TRAP"
	case Report:
		return "REPORT"
	default:
		return fmt.Sprintf("PDU(0x%02x)", byte(t))
	}
}

// ErrorStatus is the error-status field of a response PDU.
type ErrorStatus int32

// Error status values defined by RFC 3416.
const (
	NoError ErrorStatus = iota
	TooBig
	NoSuchName
	BadValue
	ReadOnly
	GenErr
	NoAccess
	WrongType
	WrongLength
	WrongEncoding
	WrongValue
	NoCreation
	InconsistentValue
	ResourceUnavailable
	CommitFailed
	UndoFailed
	AuthorizationError
	NotWritable
	InconsistentName
)

var errorStatusNames = [...]string{
	"noError", "tooBig", "noSuchName", "badValue", "readOnly", "genErr",
	"noAccess", "wrongType", "wrongLength", "wrongEncoding", "wrongValue",
	"noCreation", "inconsistentValue", "resourceUnavailable", "commitFailed",
	"undoFailed", "authorizationError", "notWritable", "inconsistentName",
}

func (e ErrorStatus) String() string {
	if e >= 0 && int(e) < len(errorStatusNames) {
		return errorStatusNames[e]
	}
	return fmt.Sprintf("errorStatus(%d)", int32(e))
}

// PDU is an SNMP protocol data unit.
//
// For GetBulkRequest the NonRepeaters and MaxRepetitions fields are encoded in
// place of ErrorStatus and ErrorIndex.
type PDU struct {
	Type           PDUType
	RequestID      int32
	ErrorStatus    ErrorStatus
	ErrorIndex     int32
	NonRepeaters   int32
	MaxRepetitions int32
	Bindings       []VariableBinding
}

// Add appends a binding to the PDU.
func (p *PDU) Add(vb VariableBinding) {
	p.Bindings = append(p.Bindings, vb)
}

// Clone returns a deep enough copy of p for it to be resent: bindings are copied
// but values are shared.
func (p *PDU) Clone() *PDU {
	out := *p
	out.Bindings = make([]VariableBinding, len(p.Bindings))
	copy(out.Bindings, p.Bindings)
	return &out
}

// encodeValue appends the BER encoding of a binding value.
func encodeValue(dst []byte, vb VariableBinding) ([]byte, error) {
	tag := byte(vb.Syntax)
	switch vb.Syntax {
	case Null, NoSuchObject, NoSuchInstance, EndOfMibView:
		return ber.AppendNull(dst, tag), nil
	case Integer:
		v, ok := vb.Value.(int32)
		if !ok {
			return nil, valueTypeError(vb)
		}
		return ber.AppendInteger(dst, tag, v), nil
	case OctetString, Opaque:
		v, ok := vb.Value.([]byte)
		if !ok {
			return nil, valueTypeError(vb)
		}
		return ber.AppendOctetString(dst, tag, v), nil
	case IPAddress:
		v, ok := vb.Value.(net.IP)
		if !ok {
			return nil, valueTypeError(vb)
		}
		ip4 := v.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("invalid IpAddress value %v for %s", v, vb.OID)
		}
		return ber.AppendOctetString(dst, tag, ip4), nil
	case ObjectIdentifier:
		v, ok := vb.Value.(OID)
		if !ok {
			return nil, valueTypeError(vb)
		}
		return ber.AppendOID(dst, v), nil
	case Counter32, Gauge32, TimeTicks:
		v, ok := vb.Value.(uint32)
		if !ok {
			return nil, valueTypeError(vb)
		}
		return ber.AppendUnsigned32(dst, tag, v), nil
	case Counter64:
		v, ok := vb.Value.(uint64)
		if !ok {
			return nil, valueTypeError(vb)
		}
		return ber.AppendUnsigned64(dst, tag, v), nil
	default:
		return nil, fmt.Errorf("unsupported syntax %s for %s", vb.Syntax, vb.OID)
	}
}

// decodeValue reads a binding value, dispatching on the tag found in the stream.
func decodeValue(d *ber.Decoder) (Syntax, any, error) {
	tag, err := d.PeekTag()
	if err != nil {
		return 0, nil, err
	}
	switch tag {
	case ber.TagNull, ber.TagNoSuchObject, ber.TagNoSuchInstance, ber.TagEndOfMibView:
		t, err := d.DecodeNull()
		return Syntax(t), nil, err
	case ber.TagInteger:
		t, v, err := d.DecodeInteger()
		return Syntax(t), v, err
	case ber.TagOctetString, ber.TagOpaque:
		t, v, err := d.DecodeOctetString()
		return Syntax(t), v, err
	case ber.TagIPAddress:
		t, v, err := d.DecodeOctetString()
		if err != nil {
			return Syntax(t), nil, err
		}
		return Syntax(t), net.IP(v), nil
	case ber.TagOID:
		v, err := d.DecodeOID()
		return ObjectIdentifier, OID(v), err
	case ber.TagCounter32, ber.TagGauge32, ber.TagTimeTicks:
		t, v, err := d.DecodeUnsigned32()
		return Syntax(t), v, err
	case ber.TagCounter64:
		t, v, err := d.DecodeUnsigned64()
		return Syntax(t), v, err
	default:
		// unknown application types are reported without a value
		t, length, err := d.DecodeHeader()
		if err != nil {
			return Syntax(t), nil, err
		}
		if err := d.Skip(length); err != nil {
			return Syntax(t), nil, err
		}
		return Syntax(t), nil, nil
	}
}

func valueTypeError(vb VariableBinding) error {
	return fmt.Errorf("invalid value type %T for syntax %s at %s", vb.Value, vb.Syntax, vb.OID)
}
