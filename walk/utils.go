package walk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/geekxflood/snmpbulk/snmp"
)

// Argument errors returned by the facade entry points.
var (
	ErrNoSession = errors.New("session is required")
	ErrNoTarget  = errors.New("target is required")
	ErrNoColumns = errors.New("at least one column is required")
	ErrNoRoots   = errors.New("at least one root is required")
)

// retriever holds what TableUtils and TreeUtils share: the session, the PDU
// factory and the request shaping options, which may change at runtime.
type retriever struct {
	session Session
	factory PDUFactory

	mu   sync.RWMutex
	opts Options
}

func (r *retriever) init(component string, session Session, factory PDUFactory, opts []Option) {
	if factory == nil {
		factory = DefaultPDUFactory{}
	}
	r.session = session
	r.factory = factory
	r.opts = buildOptions(component, opts)
}

// Options returns a copy of the current options.
func (r *retriever) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Apply changes the options used by walks started afterwards. Walks already
// running keep the options they started with.
func (r *retriever) Apply(opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, opt := range opts {
		opt(&r.opts)
	}
}

// SetMaxColumnsPerPDU is a shorthand for Apply(WithMaxColumnsPerPDU(n)).
func (r *retriever) SetMaxColumnsPerPDU(n int) { r.Apply(WithMaxColumnsPerPDU(n)) }

// SetMaxRowsPerPDU is a shorthand for Apply(WithMaxRowsPerPDU(n)).
func (r *retriever) SetMaxRowsPerPDU(n int) { r.Apply(WithMaxRowsPerPDU(n)) }

// SetMaxRepetitions is a shorthand for Apply(WithMaxRepetitions(n)).
func (r *retriever) SetMaxRepetitions(n int) { r.Apply(WithMaxRepetitions(n)) }

// SetIgnoreLexicographicOrder is a shorthand for Apply(WithIgnoreLexicographicOrder(ignore)).
func (r *retriever) SetIgnoreLexicographicOrder(ignore bool) {
	r.Apply(WithIgnoreLexicographicOrder(ignore))
}

func (r *retriever) check(target *snmp.Target) error {
	if r.session == nil {
		return ErrNoSession
	}
	if target == nil {
		return ErrNoTarget
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	return nil
}

// contextBinding stops a walker when its context is done before the walk
// finishes.
type contextBinding struct {
	unregister func() bool
}

// bind registers w with ctx. The registration is made under w.mu so a walk
// finishing concurrently observes it.
func (b *contextBinding) bind(ctx context.Context, w *walker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b.unregister = context.AfterFunc(ctx, func() {
		w.stop(context.Cause(ctx))
	})
}

func (b *contextBinding) release() {
	if b.unregister != nil {
		b.unregister()
	}
}

func cloneOIDs(oids []snmp.OID) []snmp.OID {
	out := make([]snmp.OID, len(oids))
	for i, oid := range oids {
		out[i] = oid.Clone()
	}
	return out
}

// TableUtils retrieves SNMP tables.
//
// A TableUtils is safe for concurrent use; every call starts an independent
// walk with its own state.
type TableUtils struct {
	retriever
}

// NewTableUtils creates a table retriever sending requests through session.
// A nil factory selects DefaultPDUFactory.
func NewTableUtils(session Session, factory PDUFactory, opts ...Option) *TableUtils {
	u := &TableUtils{}
	u.init("table", session, factory, opts)
	return u
}

// tableFinisher wraps a TableListener so the context registration of the walk
// is released when it finishes.
type tableFinisher struct {
	TableListener
	contextBinding
}

func (f *tableFinisher) OnFinished(result *Result) {
	f.release()
	f.TableListener.OnFinished(result)
}

func (u *TableUtils) checkTable(target *snmp.Target, columns []snmp.OID, listener TableListener) error {
	if err := u.check(target); err != nil {
		return err
	}
	if len(columns) == 0 {
		return ErrNoColumns
	}
	if listener == nil {
		return errors.New("listener is required")
	}
	return nil
}

// TableAsync starts retrieving the given columns for the rows whose index is
// greater than lower and not greater than upper. A nil bound is open.
//
// Rows are delivered to listener in ascending index order. TableAsync returns
// immediately; the outcome of the walk is reported through
// listener.OnFinished, never as a returned error. When ctx is done before the
// walk finishes, the walk ends with StatusStopped.
func (u *TableUtils) TableAsync(ctx context.Context, target *snmp.Target, columns []snmp.OID,
	lower, upper snmp.OID, listener TableListener) error {
	if err := u.checkTable(target, columns, listener); err != nil {
		return err
	}
	f := &tableFinisher{TableListener: listener}
	w := newTableWalker(u.session, u.factory, target, cloneOIDs(columns), lower.Clone(), upper.Clone(), f, u.Options())
	f.bind(ctx, &w.walker)
	w.start()
	return nil
}

// DenseTableAsync is like TableAsync for tables that have an instance of
// every column at every index. It queries every column in each request and
// cuts responses into rows without reassembly, which is faster but produces
// misaligned rows on sparse tables.
//
// When the columns do not fit in one request the general table walker is
// used instead.
func (u *TableUtils) DenseTableAsync(ctx context.Context, target *snmp.Target, columns []snmp.OID,
	lower, upper snmp.OID, listener TableListener) error {
	if err := u.checkTable(target, columns, listener); err != nil {
		return err
	}
	opts := u.Options()
	if !u.fitsOneRequest(target, columns, lower, opts) {
		opts.Logger.Debug("columns do not fit one request, using table walker",
			"target", target.Address, "columns", len(columns))
		return u.TableAsync(ctx, target, columns, lower, upper, listener)
	}
	f := &tableFinisher{TableListener: listener}
	w := newDenseTableWalker(u.session, u.factory, target, cloneOIDs(columns), lower.Clone(), upper.Clone(), f, opts)
	f.bind(ctx, &w.walker)
	w.start()
	return nil
}

func (u *TableUtils) fitsOneRequest(target *snmp.Target, columns []snmp.OID, lower snmp.OID, opts Options) bool {
	if len(columns) > opts.MaxColumnsPerPDU {
		return false
	}
	if target.MaxPDUSize <= 0 {
		return true
	}
	req := prepareRequest(u.factory, target, opts.MaxRowsPerPDU)
	for _, col := range columns {
		req.Add(snmp.NewNullBinding(col.Append(lower...)))
	}
	size, err := req.EncodedLength()
	return err == nil && size <= target.MaxPDUSize
}

// tableCollector gathers the rows of a synchronous table walk.
type tableCollector struct {
	rows []*TableRow
	done chan *Result
}

func newTableCollector() *tableCollector {
	return &tableCollector{done: make(chan *Result, 1)}
}

func (c *tableCollector) OnRow(row *TableRow) bool {
	c.rows = append(c.rows, row)
	return true
}

func (c *tableCollector) OnFinished(result *Result) {
	c.done <- result
}

func (c *tableCollector) wait() ([]*TableRow, error) {
	result := <-c.done
	if result.Status != StatusOK {
		return c.rows, result.Err
	}
	return c.rows, nil
}

// Table retrieves the given columns and blocks until the walk finishes or ctx
// is done. It returns the rows received so far together with a *Error when the
// walk did not end with StatusOK.
func (u *TableUtils) Table(ctx context.Context, target *snmp.Target, columns []snmp.OID,
	lower, upper snmp.OID) ([]*TableRow, error) {
	c := newTableCollector()
	if err := u.TableAsync(ctx, target, columns, lower, upper, c); err != nil {
		return nil, err
	}
	return c.wait()
}

// DenseTable is the synchronous form of DenseTableAsync.
func (u *TableUtils) DenseTable(ctx context.Context, target *snmp.Target, columns []snmp.OID,
	lower, upper snmp.OID) ([]*TableRow, error) {
	c := newTableCollector()
	if err := u.DenseTableAsync(ctx, target, columns, lower, upper, c); err != nil {
		return nil, err
	}
	return c.wait()
}

// TreeUtils walks MIB subtrees.
//
// A TreeUtils is safe for concurrent use; every call starts an independent
// walk with its own state.
type TreeUtils struct {
	retriever
}

// NewTreeUtils creates a subtree retriever sending requests through session.
// A nil factory selects DefaultPDUFactory.
func NewTreeUtils(session Session, factory PDUFactory, opts ...Option) *TreeUtils {
	u := &TreeUtils{}
	u.init("tree", session, factory, opts)
	return u
}

type treeFinisher struct {
	TreeListener
	contextBinding
}

func (f *treeFinisher) OnFinished(result *Result) {
	f.release()
	f.TreeListener.OnFinished(result)
}

// WalkAsync starts walking the subtrees below roots.
//
// With a single root the listener receives one event per value. With several
// roots it receives one event per response repetition holding a slot per
// root. WalkAsync returns immediately; the outcome of the walk is reported
// through listener.OnFinished.
func (u *TreeUtils) WalkAsync(ctx context.Context, target *snmp.Target, roots []snmp.OID, listener TreeListener) error {
	if err := u.check(target); err != nil {
		return err
	}
	if len(roots) == 0 {
		return ErrNoRoots
	}
	if listener == nil {
		return errors.New("listener is required")
	}
	f := &treeFinisher{TreeListener: listener}
	w := newTreeWalker(u.session, u.factory, target, cloneOIDs(roots), f, u.Options())
	f.bind(ctx, &w.walker)
	w.start()
	return nil
}

type treeCollector struct {
	events []*TreeEvent
	done   chan *Result
}

func (c *treeCollector) OnNext(event *TreeEvent) bool {
	c.events = append(c.events, event)
	return true
}

func (c *treeCollector) OnFinished(result *Result) {
	c.done <- result
}

// Walk walks the subtrees below roots and blocks until the walk finishes or
// ctx is done. It returns the events received so far together with a *Error
// when the walk did not end with StatusOK.
func (u *TreeUtils) Walk(ctx context.Context, target *snmp.Target, roots []snmp.OID) ([]*TreeEvent, error) {
	c := &treeCollector{done: make(chan *Result, 1)}
	if err := u.WalkAsync(ctx, target, roots, c); err != nil {
		return nil, err
	}
	result := <-c.done
	if result.Status != StatusOK {
		return c.events, result.Err
	}
	return c.events, nil
}

// Subtree returns every value below root in lexicographic order.
func (u *TreeUtils) Subtree(ctx context.Context, target *snmp.Target, root snmp.OID) ([]snmp.VariableBinding, error) {
	events, err := u.Walk(ctx, target, []snmp.OID{root})
	if events == nil {
		return nil, err
	}
	values := make([]snmp.VariableBinding, 0, len(events))
	for _, ev := range events {
		for _, vb := range ev.Bindings {
			if vb != nil {
				values = append(values, *vb)
			}
		}
	}
	return values, err
}
