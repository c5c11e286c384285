// Package walk retrieves SNMP tables and MIB subtrees with multi-round
// GETBULK exchanges, or GETNEXT for SNMPv1 targets.
//
// Walkers are driven by a Session, which sends a request and later calls a
// handler with the response, or with a nil response when the request timed
// out. Every walker keeps at most one request in flight and never blocks the
// caller: rows and values are delivered to a listener, followed by exactly
// one terminal Result.
//
// Three walkers are provided:
//   - the table walker queries the columns in chunks and reassembles rows
//     by index, tolerating holes in sparse tables;
//   - the dense table walker queries every column in each request and cuts
//     the response into rows, for tables known to have no holes;
//   - the tree walker follows one or more subtrees in lexicographic order.
//
// # Basic Usage
//
//	tables := walk.NewTableUtils(session, nil,
//		walk.WithMaxRowsPerPDU(20),
//		walk.WithLogger(logger),
//	)
//	rows, err := tables.Table(ctx, target, []snmp.OID{ifDescr, ifInOctets}, nil, nil)
//	if err != nil {
//		var werr *walk.Error
//		if errors.As(err, &werr) && werr.Status == walk.StatusTimeout {
//			// rows holds what arrived before the timeout
//		}
//	}
//
//	trees := walk.NewTreeUtils(session, nil)
//	values, err := trees.Subtree(ctx, target, snmp.MustParseOID("1.3.6.1.2.1.1"))
//
// # Asynchronous Use
//
// TableAsync, DenseTableAsync and WalkAsync return as soon as the first
// request is sent. The listener may stop the walk by returning false, which
// finishes it with StatusStopped.
//
//	err := tables.TableAsync(ctx, target, columns, lower, upper, listener)
//
// # Runtime Tuning
//
// Options can be changed while walks run; a walk keeps the options it
// started with.
//
//	tables.Apply(walk.WithMaxColumnsPerPDU(5))
package walk
