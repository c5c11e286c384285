package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/geekxflood/snmpbulk/ber"
	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

// errUnmatched marks a response no pending request is waiting for.
var errUnmatched = errors.New("unmatched response")

// UDPSession sends community based requests over a single UDP socket and
// matches responses to pending requests by request ID.
//
// Each request is resent Target.Retries times, Target.Timeout apart, before its
// handler receives a nil response.
type UDPSession struct {
	config  Config
	logger  logging.Logger
	conn    *net.UDPConn
	buffers *BufferPool
	workers *WorkerPool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	nextID  int32
	pending map[int32]*pendingRequest
	closed  bool
}

type pendingRequest struct {
	target   *snmp.Target
	pdu      *snmp.PDU
	addr     *net.UDPAddr
	packet   []byte
	attempts int
	timer    *time.Timer
	handler  walk.ResponseHandler
}

// NewUDPSession creates a session from configuration. Call Start before Send.
func NewUDPSession(config Config) (*UDPSession, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	s := &UDPSession{
		config:  config,
		logger:  sessionLogger(KindUDP),
		buffers: NewBufferPool(config.GetBufferSize()),
		nextID:  rand.Int32N(math.MaxInt32 / 2),
		pending: make(map[int32]*pendingRequest),
	}

	if config.GetWorkerPoolEnabled() {
		workers, err := NewWorkerPool(config.GetWorkerPoolSize(), s, s.buffers)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		workers.onError = s.logDropped
		s.workers = workers
	}

	return s, nil
}

// WithLogger replaces the session logger.
func (s *UDPSession) WithLogger(logger logging.Logger) *UDPSession {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Start opens the socket and starts the receive loop.
func (s *UDPSession) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.GetBindAddress())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", s.config.GetBindAddress(), err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address %s: %w", addr, err)
	}
	s.conn = conn

	if s.workers != nil {
		s.workers.Start()
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.listen(ctx)

	s.logger.Debug("session started", "local_address", conn.LocalAddr().String())
	return nil
}

// LocalAddr returns the address of the session socket.
func (s *UDPSession) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Send implements walk.Session.
func (s *UDPSession) Send(target *snmp.Target, pdu *snmp.PDU, handler walk.ResponseHandler) error {
	if handler == nil {
		return errors.New("response handler cannot be nil")
	}
	addrStr, err := target.UDPAddress()
	if err != nil {
		return err
	}
	addr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		return fmt.Errorf("failed to resolve target %s: %w", addrStr, err)
	}

	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	id := s.allocateIDLocked()
	pdu.RequestID = id
	msg := &snmp.Message{Version: target.Version, Community: target.Community, PDU: pdu}
	packet, err := msg.Marshal()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if len(packet) > s.config.GetBufferSize() {
		s.mu.Unlock()
		return fmt.Errorf("request of %d bytes exceeds buffer size %d", len(packet), s.config.GetBufferSize())
	}

	req := &pendingRequest{
		target:   target,
		pdu:      pdu,
		addr:     addr,
		packet:   packet,
		attempts: 1,
		handler:  handler,
	}
	s.pending[id] = req
	req.timer = time.AfterFunc(target.Timeout, func() { s.expire(id, req) })
	s.mu.Unlock()

	if _, err := s.conn.WriteToUDP(packet, addr); err != nil {
		s.remove(id, req)
		return fmt.Errorf("failed to send request to %s: %w", addr, err)
	}

	s.logger.Debug("request sent",
		logging.FieldTarget, addrStr,
		logging.FieldRequestID, id,
		"pdu_type", pdu.Type.String(),
		"bindings", len(pdu.Bindings))
	return nil
}

// Cancel implements walk.Session.
func (s *UDPSession) Cancel(pdu *snmp.PDU) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req, ok := s.pending[pdu.RequestID]; ok && req.pdu == pdu {
		delete(s.pending, pdu.RequestID)
		req.timer.Stop()
	}
}

// Pending returns the number of requests awaiting a response.
func (s *UDPSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops the receive loop and closes the socket. Handlers of requests
// still pending receive ErrSessionClosed.
func (s *UDPSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[int32]*pendingRequest)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.workers != nil {
		s.workers.Stop()
	}
	var closeErr error
	if s.conn != nil {
		closeErr = s.conn.Close()
	}

	for _, req := range pending {
		req.timer.Stop()
		req.handler(&walk.ResponseEvent{Request: req.pdu, Err: ErrSessionClosed})
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("session closed")
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *UDPSession) allocateIDLocked() int32 {
	for {
		s.nextID++
		if s.nextID <= 0 {
			s.nextID = 1
		}
		if _, used := s.pending[s.nextID]; !used {
			return s.nextID
		}
	}
}

func (s *UDPSession) remove(id int32, req *pendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[id] == req {
		delete(s.pending, id)
		req.timer.Stop()
	}
}

// expire runs when a request attempt times out.
func (s *UDPSession) expire(id int32, req *pendingRequest) {
	s.mu.Lock()
	if s.pending[id] != req {
		s.mu.Unlock()
		return
	}
	if req.attempts <= req.target.Retries {
		req.attempts++
		req.timer.Reset(req.target.Timeout)
		s.mu.Unlock()

		s.logger.Debug("request timed out, resending",
			logging.FieldTarget, req.addr.String(),
			logging.FieldRequestID, id,
			"attempt", req.attempts)
		if _, err := s.conn.WriteToUDP(req.packet, req.addr); err != nil {
			s.logger.Warn("failed to resend request", logging.FieldRequestID, id, "error", err)
		}
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	s.logger.Debug("request timed out",
		logging.FieldTarget, req.addr.String(),
		logging.FieldRequestID, id,
		"attempts", req.attempts)
	req.handler(&walk.ResponseEvent{Request: req.pdu})
}

func (s *UDPSession) listen(ctx context.Context) {
	defer s.wg.Done()

	buffer := make([]byte, s.config.GetBufferSize())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.config.GetReadTimeout())); err != nil {
			if isConnectionClosedError(err) {
				return
			}
		}

		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if isConnectionClosedError(err) {
				return
			}
			if !isTimeoutError(err) {
				s.logger.Warn("failed to read UDP packet", "error", err)
			}
			continue
		}

		if s.workers != nil {
			if err := s.workers.Submit(ctx, buffer[:n], addr); err != nil && ctx.Err() == nil {
				s.logDropped(err)
			}
			continue
		}
		if err := s.ProcessPacket(ctx, buffer[:n], addr); err != nil {
			s.logDropped(err)
		}
	}
}

// ProcessPacket decodes a response and completes the matching request.
func (s *UDPSession) ProcessPacket(_ context.Context, packet []byte, addr *net.UDPAddr) error {
	msg, err := snmp.UnmarshalMessage(packet, ber.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to decode packet from %s: %w", addr, err)
	}
	if msg.PDU.Type != snmp.Response && msg.PDU.Type != snmp.Report {
		return fmt.Errorf("unexpected %s PDU from %s", msg.PDU.Type, addr)
	}

	id := msg.PDU.RequestID
	s.mu.Lock()
	req, ok := s.pending[id]
	if !ok || !sameEndpoint(req.addr, addr) {
		s.mu.Unlock()
		return fmt.Errorf("%w %d from %s", errUnmatched, id, addr)
	}
	delete(s.pending, id)
	req.timer.Stop()
	s.mu.Unlock()

	s.logger.Debug("response received",
		logging.FieldTarget, addr.String(),
		logging.FieldRequestID, id,
		"error_status", msg.PDU.ErrorStatus.String(),
		"bindings", len(msg.PDU.Bindings))
	req.handler(&walk.ResponseEvent{Request: req.pdu, Response: msg.PDU})
	return nil
}

func (s *UDPSession) logDropped(err error) {
	s.logger.Debug("dropped packet", "error", err)
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

func isConnectionClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
