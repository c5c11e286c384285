package walk

import (
	"sync"
	"time"

	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/snmp"
)

// walker holds the state every retrieval state machine shares: the lock, the
// single in-flight request, counters and the terminal flag.
//
// All fields are guarded by mu. Session calls are made without holding mu so
// a session may deliver responses on any goroutine.
type walker struct {
	mu       sync.Mutex
	kind     string
	session  Session
	target   *snmp.Target
	log      logging.Logger
	observer Observer

	inflight *snmp.PDU
	finished bool
	requests int
	emitted  int
	started  time.Time

	// notify receives the terminal result exactly once
	notify func(*Result)
}

func (w *walker) init(kind string, session Session, target *snmp.Target, opts Options, notify func(*Result)) {
	w.kind = kind
	w.session = session
	w.target = target
	w.log = opts.Logger.With("walk", kind, "target", target.Address)
	w.observer = opts.Observer
	w.notify = notify
}

// track records pdu as the in-flight request. Callers hold mu.
func (w *walker) track(pdu *snmp.PDU) {
	if w.started.IsZero() {
		w.started = time.Now()
	}
	w.inflight = pdu
	w.requests++
	w.observer.RequestSent(w.kind, pdu.Type, len(pdu.Bindings))
	w.log.Debug("sending request", "round", w.requests, "pdu_type", pdu.Type.String(), "bindings", len(pdu.Bindings))
}

// dispatch hands pdu to the session. Callers must not hold mu.
func (w *walker) dispatch(pdu *snmp.PDU, handler ResponseHandler) {
	err := w.session.Send(w.target, pdu, handler)
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished || w.inflight != pdu {
		return
	}
	w.inflight = nil
	w.finishLocked(&Error{Status: StatusException, Err: err})
}

// accept deregisters the request of ev and reports whether the walker should
// process it. On true the caller holds mu and must release it.
func (w *walker) accept(ev *ResponseEvent) bool {
	w.session.Cancel(ev.Request)
	w.mu.Lock()
	if w.finished || ev.Request != w.inflight {
		w.mu.Unlock()
		return false
	}
	w.inflight = nil
	return true
}

// classify maps transport outcomes and PDU level errors to a terminal error.
func classify(ev *ResponseEvent) *Error {
	switch {
	case ev.Err != nil:
		return &Error{Status: StatusException, Err: ev.Err}
	case ev.Response == nil:
		return &Error{Status: StatusTimeout}
	case ev.Response.Type == snmp.Report:
		return &Error{Status: StatusReport, Report: ev.Response}
	case ev.Response.ErrorStatus != snmp.NoError:
		return &Error{
			Status:      StatusAgentError,
			ErrorStatus: ev.Response.ErrorStatus,
			ErrorIndex:  ev.Response.ErrorIndex,
		}
	}
	return nil
}

// v1EndOfView returns the zero based binding position an SNMPv1 agent flagged
// with noSuchName, the v1 way of reporting the end of the MIB view.
func v1EndOfView(ev *ResponseEvent) (int, bool) {
	if ev.Err != nil || ev.Response == nil || ev.Request == nil {
		return 0, false
	}
	if ev.Request.Type != snmp.GetNextRequest || ev.Response.ErrorStatus != snmp.NoSuchName {
		return 0, false
	}
	pos := int(ev.Response.ErrorIndex) - 1
	if pos < 0 || pos >= len(ev.Request.Bindings) {
		return 0, false
	}
	return pos, true
}

// finishLocked ends the walk and notifies the listener. A nil err means StatusOK.
func (w *walker) finishLocked(err *Error) {
	if w.finished {
		return
	}
	w.finished = true

	result := &Result{Status: StatusOK, Requests: w.requests, Emitted: w.emitted}
	if err != nil {
		result.Status = err.Status
		result.Err = err
	}

	var elapsed time.Duration
	if !w.started.IsZero() {
		elapsed = time.Since(w.started)
	}
	w.observer.WalkFinished(w.kind, result.Status, w.requests, elapsed)

	if err != nil && err.Status != StatusStopped {
		w.log.Warn("walk finished with error", "status", result.Status.String(), "requests", w.requests, "emitted", w.emitted, "error", err)
	} else {
		w.log.Debug("walk finished", "status", result.Status.String(), "requests", w.requests, "emitted", w.emitted, "duration", elapsed)
	}
	w.notify(result)
}

// stop ends the walk on behalf of the caller, e.g. when its context is done.
func (w *walker) stop(cause error) {
	w.mu.Lock()
	pending := w.inflight
	w.inflight = nil
	w.finishLocked(&Error{Status: StatusStopped, Err: cause})
	w.mu.Unlock()
	if pending != nil {
		w.session.Cancel(pending)
	}
}
