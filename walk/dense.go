package walk

import (
	"github.com/geekxflood/snmpbulk/snmp"
)

// denseTableWalker retrieves tables that have an instance of every column at
// every index.
//
// Every active column is queried in each request and the response is cut into
// rows of len(columns) bindings, repetition by repetition, without any
// reassembly. The row index is taken from the first column present in the
// slice. On a sparse table the repetitions of the columns drift apart and the
// rows produced mix instances of different indexes: callers choose this walker
// only for tables known to be dense.
type denseTableWalker struct {
	walker

	factory  PDUFactory
	columns  []snmp.OID
	upper    snmp.OID
	listener TableListener
	maxRows  int

	cursors []snmp.OID
	active  []int     // column positions of the in-flight request
	partial *TableRow // row being completed after a truncated response
}

func newDenseTableWalker(session Session, factory PDUFactory, target *snmp.Target, columns []snmp.OID,
	lower, upper snmp.OID, listener TableListener, opts Options) *denseTableWalker {
	w := &denseTableWalker{
		factory:  factory,
		columns:  columns,
		upper:    upper,
		listener: listener,
		maxRows:  opts.MaxRowsPerPDU,
		cursors:  make([]snmp.OID, len(columns)),
	}
	w.init(KindDenseTable, session, target, opts, listener.OnFinished)
	for i, col := range columns {
		w.cursors[i] = col.Append(lower...)
	}
	return w
}

func (w *denseTableWalker) start() {
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

func (w *denseTableWalker) onResponse(ev *ResponseEvent) {
	if !w.accept(ev) {
		return
	}
	req := w.handleLocked(ev)
	w.mu.Unlock()
	if req != nil {
		w.dispatch(req, w.onResponse)
	}
}

func (w *denseTableWalker) handleLocked(ev *ResponseEvent) *snmp.PDU {
	active := w.active
	w.active = nil

	if pos, ok := v1EndOfView(ev); ok {
		w.cursors[active[pos]] = nil
		if w.partial != nil {
			return w.fillLocked(nil, nil)
		}
		return w.requestLocked()
	}
	if err := classify(ev); err != nil {
		w.finishLocked(err)
		return nil
	}

	bindings := ev.Response.Bindings
	if len(bindings) == 0 {
		for _, col := range active {
			w.cursors[col] = nil
		}
		if w.partial != nil {
			return w.fillLocked(nil, nil)
		}
		return w.requestLocked()
	}
	width := len(active)
	if w.partial != nil || len(bindings) < width {
		return w.fillLocked(active, bindings)
	}

	// a trailing incomplete repetition is dropped, its columns are asked again
	rows := len(bindings) / width
	done := make([]bool, width)
	for r := 0; r < rows; r++ {
		row := &TableRow{Columns: make([]*snmp.VariableBinding, len(w.columns))}
		for pos, col := range active {
			if done[pos] {
				continue
			}
			if !w.placeLocked(row, col, bindings[r*width+pos]) {
				if w.finished {
					return nil
				}
				done[pos] = true
			}
		}
		if row.Index == nil {
			break
		}
		if !w.emitLocked(row) {
			return nil
		}
	}
	return w.requestLocked()
}

// fillLocked completes a row the agent truncated to fewer bindings than
// requested columns. Only the first repetition of each column is used so
// the cursors stay on the same index.
func (w *denseTableWalker) fillLocked(active []int, bindings []snmp.VariableBinding) *snmp.PDU {
	if w.partial == nil {
		w.partial = &TableRow{Columns: make([]*snmp.VariableBinding, len(w.columns))}
	}
	for pos := 0; pos < len(active) && pos < len(bindings); pos++ {
		if !w.placeLocked(w.partial, active[pos], bindings[pos]) && w.finished {
			return nil
		}
	}
	for col, cursor := range w.cursors {
		if cursor != nil && w.partial.Columns[col] == nil {
			return w.requestLocked()
		}
	}

	row := w.partial
	w.partial = nil
	if row.Index != nil && !w.emitLocked(row) {
		return nil
	}
	return w.requestLocked()
}

// placeLocked stores vb in row and advances the column cursor. It returns
// false when the column is exhausted or the walk finished on a wrong-order
// binding.
func (w *denseTableWalker) placeLocked(row *TableRow, col int, vb snmp.VariableBinding) bool {
	base := w.columns[col]
	if vb.IsException() || !vb.OID.Within(base) {
		w.cursors[col] = nil
		return false
	}
	if vb.OID.Compare(w.cursors[col]) <= 0 {
		w.finishLocked(&Error{Status: StatusWrongOrder, OID: vb.OID})
		return false
	}
	index := vb.OID.Suffix(len(base))
	if w.upper != nil && index.Compare(w.upper) > 0 {
		w.cursors[col] = nil
		return false
	}
	if row.Index == nil {
		row.Index = index
	}
	row.set(col, vb)
	w.cursors[col] = vb.OID
	return true
}

func (w *denseTableWalker) emitLocked(row *TableRow) bool {
	w.emitted++
	w.observer.ItemsEmitted(w.kind, 1)
	if !w.listener.OnRow(row) {
		w.finishLocked(&Error{Status: StatusStopped})
		return false
	}
	return true
}

// requestLocked builds a request for every active column, or finishes the walk
// when none is left. While a truncated row is pending only its missing
// columns are asked.
func (w *denseTableWalker) requestLocked() *snmp.PDU {
	req := prepareRequest(w.factory, w.target, w.maxRows)
	w.active = w.active[:0]
	for col, cursor := range w.cursors {
		if cursor != nil && (w.partial == nil || w.partial.Columns[col] == nil) {
			req.Add(snmp.NewNullBinding(cursor))
			w.active = append(w.active, col)
		}
	}
	if len(w.active) == 0 {
		w.finishLocked(nil)
		return nil
	}
	w.track(req)
	return req
}
