package walk

import (
	"github.com/geekxflood/snmpbulk/snmp"
)

// ResponseEvent is delivered to a ResponseHandler when a request completes.
type ResponseEvent struct {
	// Request is the PDU that was sent, as passed to Session.Send.
	Request *snmp.PDU

	// Response is the agent response. It is nil when the request timed out.
	Response *snmp.PDU

	// Err reports a transport failure. When set, Response is nil.
	Err error
}

// ResponseHandler receives the outcome of an asynchronous request.
type ResponseHandler func(event *ResponseEvent)

// Session sends request PDUs to agents. Implementations live in the transport package.
type Session interface {
	// Send transmits pdu to target and arranges for handler to be called exactly
	// once with the response, a nil response on timeout, or a transport error.
	// Send assigns pdu.RequestID. It must not call handler synchronously, and
	// handler is never called when Send returns an error.
	Send(target *snmp.Target, pdu *snmp.PDU, handler ResponseHandler) error

	// Cancel removes any pending registration for pdu. Calling it for a request
	// that already completed is a no-op.
	Cancel(pdu *snmp.PDU)
}

// PDUFactory creates the request PDUs a walker fills in.
type PDUFactory interface {
	CreatePDU(target *snmp.Target) *snmp.PDU
}

// DefaultPDUFactory creates empty request PDUs typed for the target version.
type DefaultPDUFactory struct{}

// CreatePDU returns a GETBULK PDU for v2c and v3 targets and a GETNEXT PDU for v1.
func (DefaultPDUFactory) CreatePDU(target *snmp.Target) *snmp.PDU {
	if target.Version.SupportsBulk() {
		return &snmp.PDU{Type: snmp.GetBulkRequest}
	}
	return &snmp.PDU{Type: snmp.GetNextRequest}
}

// prepareRequest turns a factory PDU into a retrieval request for target.
func prepareRequest(factory PDUFactory, target *snmp.Target, maxRepetitions int) *snmp.PDU {
	pdu := factory.CreatePDU(target)
	if target.Version.SupportsBulk() {
		pdu.Type = snmp.GetBulkRequest
		pdu.NonRepeaters = 0
		pdu.MaxRepetitions = int32(maxRepetitions)
	} else {
		pdu.Type = snmp.GetNextRequest
	}
	pdu.Bindings = pdu.Bindings[:0]
	return pdu
}
