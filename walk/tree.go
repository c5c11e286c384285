package walk

import (
	"github.com/geekxflood/snmpbulk/snmp"
)

// TreeEvent carries the values accepted in one step of a tree walk.
//
// When a walk has a single root, every event holds exactly one binding. With
// several roots an event holds one slot per root, in root order, for one
// repetition of the response; the slot of a root that produced nothing in
// that repetition is nil.
type TreeEvent struct {
	Bindings []*snmp.VariableBinding
}

// TreeListener receives the values of a subtree walk.
//
// OnNext returning false stops the walk. OnFinished is called exactly once.
type TreeListener interface {
	OnNext(event *TreeEvent) bool
	OnFinished(result *Result)
}

// treeWalker walks one or more subtrees depth first, advancing every active
// root by one binding per repetition.
type treeWalker struct {
	walker

	factory     PDUFactory
	roots       []snmp.OID
	listener    TreeListener
	maxReps     int
	ignoreOrder bool

	// frontier holds the last OID accepted per root, nil once the root is finished
	frontier []snmp.OID
	active   []int // root positions of the in-flight request
}

func newTreeWalker(session Session, factory PDUFactory, target *snmp.Target, roots []snmp.OID,
	listener TreeListener, opts Options) *treeWalker {
	w := &treeWalker{
		factory:     factory,
		roots:       roots,
		listener:    listener,
		maxReps:     opts.MaxRepetitions,
		ignoreOrder: opts.IgnoreLexicographicOrder,
		frontier:    make([]snmp.OID, len(roots)),
	}
	w.init(KindTree, session, target, opts, listener.OnFinished)
	copy(w.frontier, roots)
	return w
}

func (w *treeWalker) start() {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return
	}
	req := w.requestLocked()
	w.mu.Unlock()
	if req != nil {
		w.dispatch(req, w.onResponse)
	}
}

func (w *treeWalker) onResponse(ev *ResponseEvent) {
	if !w.accept(ev) {
		return
	}
	req := w.handleLocked(ev)
	w.mu.Unlock()
	if req != nil {
		w.dispatch(req, w.onResponse)
	}
}

func (w *treeWalker) handleLocked(ev *ResponseEvent) *snmp.PDU {
	active := w.active
	w.active = nil

	if pos, ok := v1EndOfView(ev); ok {
		w.frontier[active[pos]] = nil
		return w.requestLocked()
	}
	if err := classify(ev); err != nil {
		w.finishLocked(err)
		return nil
	}

	bindings := ev.Response.Bindings
	if len(bindings) == 0 {
		w.finishLocked(nil)
		return nil
	}

	width := len(active)
	done := make([]bool, width)
	for start := 0; start < len(bindings); start += width {
		var slots []*snmp.VariableBinding
		accepted := 0
		if len(w.roots) > 1 {
			slots = make([]*snmp.VariableBinding, len(w.roots))
		}
		for pos := 0; pos < width && start+pos < len(bindings); pos++ {
			if done[pos] {
				continue
			}
			root := active[pos]
			vb := bindings[start+pos]
			if vb.IsException() || !vb.OID.Within(w.roots[root]) {
				done[pos] = true
				w.frontier[root] = nil
				continue
			}
			if !w.ignoreOrder && vb.OID.Compare(w.frontier[root]) <= 0 {
				w.finishLocked(&Error{Status: StatusWrongOrder, OID: vb.OID})
				return nil
			}
			w.frontier[root] = vb.OID

			accepted++
			if len(w.roots) == 1 {
				if !w.deliverLocked(&TreeEvent{Bindings: []*snmp.VariableBinding{&vb}}, 1) {
					return nil
				}
				continue
			}
			slots[root] = &vb
		}
		if len(w.roots) > 1 && accepted > 0 {
			if !w.deliverLocked(&TreeEvent{Bindings: slots}, accepted) {
				return nil
			}
		}
	}
	return w.requestLocked()
}

func (w *treeWalker) deliverLocked(event *TreeEvent, values int) bool {
	w.emitted += values
	w.observer.ItemsEmitted(w.kind, values)
	if !w.listener.OnNext(event) {
		w.finishLocked(&Error{Status: StatusStopped})
		return false
	}
	return true
}

// requestLocked builds a request with the frontier of every active root, or
// finishes the walk when every root is done.
func (w *treeWalker) requestLocked() *snmp.PDU {
	req := prepareRequest(w.factory, w.target, w.maxReps)
	w.active = w.active[:0]
	for root, oid := range w.frontier {
		if oid != nil {
			req.Add(snmp.NewNullBinding(oid))
			w.active = append(w.active, root)
		}
	}
	if len(w.active) == 0 {
		w.finishLocked(nil)
		return nil
	}
	w.track(req)
	return req
}
