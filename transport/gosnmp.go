package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/gosnmp/gosnmp"

	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

// HandlerFactory creates unconnected gosnmp clients.
type HandlerFactory func() gosnmp.Handler

// GoSNMPSession runs requests through gosnmp clients, one per target, each
// request on its own goroutine. Requests to the same target are serialized.
type GoSNMPSession struct {
	newHandler HandlerFactory
	logger     logging.Logger

	mu      sync.Mutex
	clients map[string]*gosnmpClient
	pending map[*snmp.PDU]struct{}
	nextID  int32
	closed  bool
	wg      sync.WaitGroup
}

type gosnmpClient struct {
	mu        sync.Mutex
	handler   gosnmp.Handler
	connected bool
}

// NewGoSNMPSession returns a session creating clients with newHandler, or
// gosnmp.NewHandler when it is nil.
func NewGoSNMPSession(newHandler HandlerFactory) *GoSNMPSession {
	if newHandler == nil {
		newHandler = gosnmp.NewHandler
	}
	return &GoSNMPSession{
		newHandler: newHandler,
		logger:     sessionLogger(KindGoSNMP),
		clients:    make(map[string]*gosnmpClient),
		pending:    make(map[*snmp.PDU]struct{}),
	}
}

// Send implements walk.Session.
func (s *GoSNMPSession) Send(target *snmp.Target, pdu *snmp.PDU, handler walk.ResponseHandler) error {
	if handler == nil {
		return errors.New("response handler cannot be nil")
	}
	if target.Version != snmp.Version1 && target.Version != snmp.Version2c {
		return fmt.Errorf("%w: %s", snmp.ErrUnsupportedVersion, target.Version)
	}
	switch pdu.Type {
	case snmp.GetRequest, snmp.GetNextRequest, snmp.GetBulkRequest:
	default:
		return fmt.Errorf("unsupported request type %s", pdu.Type)
	}
	addr, err := target.UDPAddress()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	key := clientKey(addr, target)
	client, ok := s.clients[key]
	if !ok {
		client = &gosnmpClient{handler: s.newHandler()}
		s.clients[key] = client
	}

	s.nextID++
	pdu.RequestID = s.nextID
	s.pending[pdu] = struct{}{}

	s.wg.Add(1)
	go s.exchange(client, addr, target, pdu, handler)
	return nil
}

// Cancel implements walk.Session. A canceled request still runs to completion
// inside gosnmp, but its handler is not called.
func (s *GoSNMPSession) Cancel(pdu *snmp.PDU) {
	s.mu.Lock()
	delete(s.pending, pdu)
	s.mu.Unlock()
}

// Close waits for running requests and closes every client.
func (s *GoSNMPSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for key, client := range s.clients {
		if client.connected {
			if err := client.handler.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close client %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *GoSNMPSession) exchange(client *gosnmpClient, addr string, target *snmp.Target, pdu *snmp.PDU, handler walk.ResponseHandler) {
	defer s.wg.Done()

	client.mu.Lock()
	packet, err := client.do(addr, target, pdu)
	client.mu.Unlock()

	s.mu.Lock()
	_, live := s.pending[pdu]
	delete(s.pending, pdu)
	s.mu.Unlock()
	if !live {
		return
	}

	ev := &walk.ResponseEvent{Request: pdu}
	switch {
	case err == nil:
		ev.Response, ev.Err = fromPacket(packet, pdu.RequestID)
	case isRequestTimeout(err):
		s.logger.Debug("request timed out", logging.FieldTarget, addr, logging.FieldRequestID, pdu.RequestID)
	default:
		ev.Err = err
	}
	handler(ev)
}

// do configures the client on first use and performs the request.
func (c *gosnmpClient) do(addr string, target *snmp.Target, pdu *snmp.PDU) (*gosnmp.SnmpPacket, error) {
	if !c.connected {
		if err := c.connect(addr, target); err != nil {
			return nil, err
		}
	}

	oids := make([]string, len(pdu.Bindings))
	for i, vb := range pdu.Bindings {
		oids[i] = vb.OID.String()
	}
	c.handler.SetMaxOids(max(len(oids), gosnmp.MaxOids))

	switch pdu.Type {
	case snmp.GetBulkRequest:
		return c.handler.GetBulk(oids, uint8(pdu.NonRepeaters), uint32(pdu.MaxRepetitions))
	case snmp.GetNextRequest:
		return c.handler.GetNext(oids)
	default:
		return c.handler.Get(oids)
	}
}

func (c *gosnmpClient) connect(addr string, target *snmp.Target) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid target address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid target port %q: %w", portStr, err)
	}

	c.handler.SetTarget(host)
	c.handler.SetPort(uint16(port))
	c.handler.SetCommunity(target.Community)
	c.handler.SetTimeout(target.Timeout)
	c.handler.SetRetries(target.Retries)
	if target.Version == snmp.Version1 {
		c.handler.SetVersion(gosnmp.Version1)
	} else {
		c.handler.SetVersion(gosnmp.Version2c)
	}

	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.connected = true
	return nil
}

func clientKey(addr string, target *snmp.Target) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", addr, target.Version, target.Community, target.Timeout, target.Retries)
}

func isRequestTimeout(err error) bool {
	return isTimeoutError(err) || strings.Contains(err.Error(), "request timeout")
}

// fromPacket converts a gosnmp response into a PDU carrying requestID.
func fromPacket(packet *gosnmp.SnmpPacket, requestID int32) (*snmp.PDU, error) {
	if packet == nil {
		return nil, errors.New("gosnmp returned no packet")
	}

	out := &snmp.PDU{
		Type:        snmp.Response,
		RequestID:   requestID,
		ErrorStatus: snmp.ErrorStatus(packet.Error),
		ErrorIndex:  int32(packet.ErrorIndex),
		Bindings:    make([]snmp.VariableBinding, 0, len(packet.Variables)),
	}
	if packet.PDUType == gosnmp.Report {
		out.Type = snmp.Report
	}

	for _, v := range packet.Variables {
		vb, err := fromVariable(v)
		if err != nil {
			return nil, err
		}
		out.Bindings = append(out.Bindings, vb)
	}
	return out, nil
}

func fromVariable(v gosnmp.SnmpPDU) (snmp.VariableBinding, error) {
	oid, err := snmp.ParseOID(v.Name)
	if err != nil {
		return snmp.VariableBinding{}, err
	}
	vb := snmp.VariableBinding{OID: oid}

	switch v.Type {
	case gosnmp.Integer:
		vb.Syntax = snmp.Integer
		vb.Value = int32(gosnmp.ToBigInt(v.Value).Int64())
	case gosnmp.OctetString, gosnmp.Opaque:
		vb.Syntax = snmp.Syntax(v.Type)
		switch val := v.Value.(type) {
		case []byte:
			vb.Value = val
		case string:
			vb.Value = []byte(val)
		default:
			return vb, fmt.Errorf("%s at %s has unexpected type %T", v.Type, oid, v.Value)
		}
	case gosnmp.ObjectIdentifier:
		s, ok := v.Value.(string)
		if !ok {
			return vb, fmt.Errorf("ObjectIdentifier at %s is not a string but %T", oid, v.Value)
		}
		value, err := snmp.ParseOID(s)
		if err != nil {
			return vb, err
		}
		vb.Syntax = snmp.ObjectIdentifier
		vb.Value = value
	case gosnmp.IPAddress:
		vb.Syntax = snmp.IPAddress
		switch val := v.Value.(type) {
		case string:
			vb.Value = net.ParseIP(val).To4()
		case []byte:
			vb.Value = net.IP(val)
		default:
			return vb, fmt.Errorf("IPAddress at %s has unexpected type %T", oid, v.Value)
		}
	case gosnmp.Counter32, gosnmp.TimeTicks:
		vb.Syntax = snmp.Syntax(v.Type)
		vb.Value = uint32(gosnmp.ToBigInt(v.Value).Uint64())
	case gosnmp.Gauge32, gosnmp.Uinteger32:
		vb.Syntax = snmp.Gauge32
		vb.Value = uint32(gosnmp.ToBigInt(v.Value).Uint64())
	case gosnmp.Counter64:
		vb.Syntax = snmp.Counter64
		vb.Value = gosnmp.ToBigInt(v.Value).Uint64()
	case gosnmp.Null, gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		vb.Syntax = snmp.Syntax(v.Type)
	default:
		return vb, fmt.Errorf("unsupported syntax %s at %s", v.Type, oid)
	}
	return vb, nil
}
