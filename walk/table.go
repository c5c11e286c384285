package walk

import (
	"github.com/geekxflood/snmpbulk/snmp"
)

// TableListener receives the rows of a table walk.
//
// OnRow is called for each row in ascending index order; returning false
// stops the walk. OnFinished is called exactly once when the walk ends. Both
// are called from the goroutine delivering responses and must not block.
type TableListener interface {
	OnRow(row *TableRow) bool
	OnFinished(result *Result)
}

// tableWalker retrieves the columns of one or more tables sharing an index.
//
// Columns are visited in passes. A pass queries every column that is still
// active in chunks of at most maxColumns columns, one request per chunk.
// Returned instances are reassembled in a row cache ordered by index and rows
// leave the cache from its head once complete.
type tableWalker struct {
	walker

	factory    PDUFactory
	columns    []snmp.OID
	lower      snmp.OID
	upper      snmp.OID
	listener   TableListener
	maxColumns int
	maxRows    int

	// cursors holds the next OID to query per column, nil once the column is exhausted
	cursors []snmp.OID
	cache   *rowCache

	pass  []int // column positions of the current pass
	next  int   // position in pass of the next column to query
	chunk []int // column positions of the in-flight request
}

func newTableWalker(session Session, factory PDUFactory, target *snmp.Target, columns []snmp.OID,
	lower, upper snmp.OID, listener TableListener, opts Options) *tableWalker {
	w := &tableWalker{
		factory:    factory,
		columns:    columns,
		lower:      lower,
		upper:      upper,
		listener:   listener,
		maxColumns: opts.MaxColumnsPerPDU,
		maxRows:    opts.MaxRowsPerPDU,
		cursors:    make([]snmp.OID, len(columns)),
		cache:      newRowCache(len(columns)),
	}
	w.init(KindTable, session, target, opts, listener.OnFinished)
	for i, col := range columns {
		// the lower bound is exclusive: GETNEXT returns the first instance after it
		w.cursors[i] = col.Append(lower...)
	}
	return w
}

func (w *tableWalker) start() {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return
	}
	req := w.advanceLocked()
	w.mu.Unlock()
	if req != nil {
		w.dispatch(req, w.onResponse)
	}
}

func (w *tableWalker) onResponse(ev *ResponseEvent) {
	if !w.accept(ev) {
		return
	}
	req := w.handleLocked(ev)
	w.mu.Unlock()
	if req != nil {
		w.dispatch(req, w.onResponse)
	}
}

// handleLocked processes one response and returns the next request, or nil
// when the walk is finished.
func (w *tableWalker) handleLocked(ev *ResponseEvent) *snmp.PDU {
	chunk := w.chunk
	w.chunk = nil

	if pos, ok := v1EndOfView(ev); ok {
		// the flagged column is exhausted, the others are asked again
		w.log.Debug("column exhausted", "oid", w.columns[chunk[pos]].String())
		w.cursors[chunk[pos]] = nil
		return w.advanceLocked()
	}
	if err := classify(ev); err != nil {
		w.finishLocked(err)
		return nil
	}

	bindings := ev.Response.Bindings
	if len(bindings) == 0 {
		for _, col := range chunk {
			w.cursors[col] = nil
		}
		return w.advanceLocked()
	}

	done := make([]bool, len(chunk))
	last := make([]snmp.OID, len(chunk))
	for i, vb := range bindings {
		pos := i % len(chunk)
		if done[pos] {
			continue
		}
		col := chunk[pos]
		base := w.columns[col]
		if vb.IsException() || !vb.OID.Within(base) {
			done[pos] = true
			w.cursors[col] = nil
			continue
		}
		if vb.OID.Compare(w.cursors[col]) <= 0 {
			w.finishLocked(&Error{Status: StatusWrongOrder, OID: vb.OID})
			return nil
		}
		index := vb.OID.Suffix(len(base))
		if w.upper != nil && index.Compare(w.upper) > 0 {
			done[pos] = true
			w.cursors[col] = nil
			continue
		}
		if !w.cache.row(index).set(col, vb) {
			w.finishLocked(&Error{Status: StatusWrongOrder, OID: vb.OID})
			return nil
		}
		w.cursors[col] = vb.OID
		last[pos] = index
	}

	// no row above the lowest last index of the chunk's active columns is final yet
	var bound snmp.OID
	for pos := range chunk {
		if !done[pos] && last[pos] != nil && (bound == nil || last[pos].Compare(bound) < 0) {
			bound = last[pos]
		}
	}
	if !w.emitLocked(bound) {
		return nil
	}
	return w.advanceLocked()
}

// emitLocked delivers complete rows from the head of the cache whose index
// does not exceed bound. It returns false when the listener stopped the walk.
func (w *tableWalker) emitLocked(bound snmp.OID) bool {
	for head := w.cache.head(); head != nil && head.Complete(); head = w.cache.head() {
		if bound != nil && head.Index.Compare(bound) > 0 {
			break
		}
		if !w.deliverLocked(w.cache.pop()) {
			return false
		}
	}
	return true
}

func (w *tableWalker) deliverLocked(row *TableRow) bool {
	w.emitted++
	w.observer.ItemsEmitted(w.kind, 1)
	if !w.listener.OnRow(row) {
		w.log.Debug("listener stopped walk", "index", row.Index.String())
		w.finishLocked(&Error{Status: StatusStopped})
		return false
	}
	return true
}

// advanceLocked builds the next request, starting a new pass when the current
// one is exhausted. When no column is active it flushes the cache, finishes
// the walk and returns nil.
func (w *tableWalker) advanceLocked() *snmp.PDU {
	for {
		if w.next >= len(w.pass) {
			w.pass = w.pass[:0]
			for col, cursor := range w.cursors {
				if cursor != nil {
					w.pass = append(w.pass, col)
				}
			}
			w.next = 0
			if len(w.pass) == 0 {
				w.flushLocked()
				return nil
			}
		}
		if req := w.chunkLocked(); req != nil {
			w.track(req)
			return req
		}
	}
}

// chunkLocked fills a request with the next active columns of the pass. A
// column is left for a later request when adding it would exceed the
// target's maximum PDU size, but a request always carries at least one column.
func (w *tableWalker) chunkLocked() *snmp.PDU {
	req := prepareRequest(w.factory, w.target, w.maxRows)
	w.chunk = w.chunk[:0]
	for w.next < len(w.pass) && len(w.chunk) < w.maxColumns {
		col := w.pass[w.next]
		if w.cursors[col] == nil {
			w.next++
			continue
		}
		req.Add(snmp.NewNullBinding(w.cursors[col]))
		if len(w.chunk) > 0 && w.exceedsPDUSize(req) {
			req.Bindings = req.Bindings[:len(req.Bindings)-1]
			break
		}
		w.chunk = append(w.chunk, col)
		w.next++
	}
	if len(w.chunk) == 0 {
		return nil
	}
	return req
}

func (w *tableWalker) exceedsPDUSize(req *snmp.PDU) bool {
	if w.target.MaxPDUSize <= 0 {
		return false
	}
	size, err := req.EncodedLength()
	return err != nil || size > w.target.MaxPDUSize
}

// flushLocked delivers every cached row, complete or not, and finishes the walk.
func (w *tableWalker) flushLocked() {
	for w.cache.len() > 0 {
		if !w.deliverLocked(w.cache.pop()) {
			return
		}
	}
	w.finishLocked(nil)
}
