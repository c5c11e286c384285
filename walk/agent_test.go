package walk_test

import (
	"slices"
	"sync"
	"time"

	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

// Test fixtures shared by the walk tests.
var (
	ifEntry  = snmp.MustParseOID("1.3.6.1.2.1.2.2.1")
	ifNumber = snmp.MustParseOID("1.3.6.1.2.1.2.1.0")
	ipForw   = snmp.MustParseOID("1.3.6.1.2.1.4.1.0")
)

func column(n uint32) snmp.OID {
	return ifEntry.Append(n)
}

func intBinding(oid snmp.OID, v int32) snmp.VariableBinding {
	return snmp.VariableBinding{OID: oid, Syntax: snmp.Integer, Value: v}
}

// table builds the instances of a table: one entry per column, listing the
// row indexes present in that column. Values are column*100+index.
func table(rows map[uint32][]uint32) []snmp.VariableBinding {
	var vbs []snmp.VariableBinding
	for col, indexes := range rows {
		for _, idx := range indexes {
			vbs = append(vbs, intBinding(column(col).Append(idx), int32(col*100+idx)))
		}
	}
	return vbs
}

func rangeOf(n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i + 1)
	}
	return out
}

// fakeAgent is an in-memory agent implementing walk.Session. It answers
// GETNEXT and GETBULK requests from a sorted MIB view the way an SNMP agent
// does: endOfMibView past the end for v2c, noSuchName for v1.
//
// Responses are delivered on a new goroutine after Send returns. A script,
// when set, replaces the MIB view for the corresponding request.
type fakeAgent struct {
	mu       sync.Mutex
	mib      []snmp.VariableBinding
	requests []*snmp.PDU
	cancels  int
	nextID   int32

	// script answers request n with script[n] when it is set
	script []func(req *snmp.PDU) *snmp.PDU

	timeoutFrom int   // requests from this position on get no response, 0 disables
	silent      bool  // keep handlers without calling them
	sendErr     error // returned by Send

	pending []pendingResponse
}

type pendingResponse struct {
	event   *walk.ResponseEvent
	handler walk.ResponseHandler
}

func newFakeAgent(mibs ...[]snmp.VariableBinding) *fakeAgent {
	var mib []snmp.VariableBinding
	for _, m := range mibs {
		mib = append(mib, m...)
	}
	slices.SortFunc(mib, func(a, b snmp.VariableBinding) int {
		return a.OID.Compare(b.OID)
	})
	return &fakeAgent{mib: mib}
}

func (a *fakeAgent) Send(target *snmp.Target, pdu *snmp.PDU, handler walk.ResponseHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.nextID++
	pdu.RequestID = a.nextID
	n := len(a.requests)
	a.requests = append(a.requests, pdu.Clone())

	ev := &walk.ResponseEvent{Request: pdu}
	switch {
	case a.timeoutFrom > 0 && n+1 >= a.timeoutFrom:
	case n < len(a.script) && a.script[n] != nil:
		ev.Response = a.script[n](pdu)
	default:
		ev.Response = a.respond(target, pdu)
	}
	if ev.Response != nil {
		ev.Response.RequestID = pdu.RequestID
	}

	if a.silent {
		a.pending = append(a.pending, pendingResponse{event: ev, handler: handler})
		return nil
	}
	go handler(ev)
	return nil
}

func (a *fakeAgent) Cancel(*snmp.PDU) {
	a.mu.Lock()
	a.cancels++
	a.mu.Unlock()
}

func (a *fakeAgent) respond(target *snmp.Target, req *snmp.PDU) *snmp.PDU {
	resp := &snmp.PDU{Type: snmp.Response}
	if req.Type == snmp.GetNextRequest {
		for i, vb := range req.Bindings {
			next, ok := a.next(vb.OID)
			if !ok && target.Version == snmp.Version1 {
				resp.ErrorStatus = snmp.NoSuchName
				resp.ErrorIndex = int32(i + 1)
				resp.Bindings = slices.Clone(req.Bindings)
				return resp
			}
			resp.Add(next)
		}
		return resp
	}

	cursors := make([]snmp.OID, len(req.Bindings))
	for i, vb := range req.Bindings {
		cursors[i] = vb.OID
	}
	for r := int32(0); r < req.MaxRepetitions; r++ {
		ended := 0
		for i, cursor := range cursors {
			next, ok := a.next(cursor)
			if !ok {
				ended++
			}
			resp.Add(next)
			cursors[i] = next.OID
		}
		if ended == len(cursors) {
			break
		}
	}
	return resp
}

// next returns the first instance after oid, or endOfMibView at oid.
func (a *fakeAgent) next(oid snmp.OID) (snmp.VariableBinding, bool) {
	i, found := slices.BinarySearchFunc(a.mib, oid, func(vb snmp.VariableBinding, target snmp.OID) int {
		return vb.OID.Compare(target)
	})
	if found {
		i++
	}
	if i >= len(a.mib) {
		return snmp.VariableBinding{OID: oid, Syntax: snmp.EndOfMibView}, false
	}
	return a.mib[i], true
}

func (a *fakeAgent) sent() []*snmp.PDU {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.requests)
}

func (a *fakeAgent) cancelCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancels
}

// deliverPending hands the held responses of a silent agent to their handlers.
func (a *fakeAgent) deliverPending() {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, p := range pending {
		p.handler(p.event)
	}
}

// respondWith scripts a response carrying the given bindings.
func respondWith(vbs ...snmp.VariableBinding) func(*snmp.PDU) *snmp.PDU {
	return func(*snmp.PDU) *snmp.PDU {
		return &snmp.PDU{Type: snmp.Response, Bindings: vbs}
	}
}

func endOfView(oid snmp.OID) snmp.VariableBinding {
	return snmp.VariableBinding{OID: oid, Syntax: snmp.EndOfMibView}
}

// rowRecorder is a TableListener recording rows and the terminal result.
type rowRecorder struct {
	mu       sync.Mutex
	rows     []*walk.TableRow
	stopAt   int // stop after this many rows, 0 disables
	results  []*walk.Result
	finished chan struct{}
}

func newRowRecorder() *rowRecorder {
	return &rowRecorder{finished: make(chan struct{})}
}

func (r *rowRecorder) OnRow(row *walk.TableRow) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return r.stopAt == 0 || len(r.rows) < r.stopAt
}

func (r *rowRecorder) OnFinished(result *walk.Result) {
	r.mu.Lock()
	r.results = append(r.results, result)
	first := len(r.results) == 1
	r.mu.Unlock()
	if first {
		close(r.finished)
	}
}

func (r *rowRecorder) wait(timeout time.Duration) bool {
	select {
	case <-r.finished:
		return true
	case <-time.After(timeout):
		return false
	}
}

// observed counts walk lifecycle notifications.
type observed struct {
	mu       sync.Mutex
	requests map[string]int
	bindings int
	items    map[string]int
	statuses []walk.Status
}

func newObserved() *observed {
	return &observed{requests: map[string]int{}, items: map[string]int{}}
}

func (o *observed) RequestSent(kind string, _ snmp.PDUType, bindings int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests[kind]++
	o.bindings += bindings
}

func (o *observed) ItemsEmitted(kind string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[kind] += n
}

func (o *observed) WalkFinished(_ string, status walk.Status, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}
