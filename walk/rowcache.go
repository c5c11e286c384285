package walk

import (
	"slices"

	"github.com/geekxflood/snmpbulk/snmp"
)

// TableRow is one reassembled table row.
//
// Columns has one slot per requested column, in request order. A nil slot
// means the agent returned no instance of that column for this index.
type TableRow struct {
	Index   snmp.OID
	Columns []*snmp.VariableBinding

	filled int
}

func newTableRow(index snmp.OID, width int) *TableRow {
	return &TableRow{Index: index, Columns: make([]*snmp.VariableBinding, width)}
}

// set stores vb in the given column slot. It returns false when the slot is already filled.
func (r *TableRow) set(column int, vb snmp.VariableBinding) bool {
	if r.Columns[column] != nil {
		return false
	}
	r.Columns[column] = &vb
	r.filled++
	return true
}

// Complete reports whether every column slot holds a value.
func (r *TableRow) Complete() bool {
	return r.filled == len(r.Columns)
}

// Filled returns the number of populated column slots.
func (r *TableRow) Filled() int {
	return r.filled
}

// rowCache holds partially received rows ordered by index.
type rowCache struct {
	rows  []*TableRow
	width int
}

func newRowCache(width int) *rowCache {
	return &rowCache{width: width}
}

func (c *rowCache) search(index snmp.OID) (int, bool) {
	return slices.BinarySearchFunc(c.rows, index, func(r *TableRow, target snmp.OID) int {
		return r.Index.Compare(target)
	})
}

// row returns the row for index, inserting an empty one at its ordered position when absent.
func (c *rowCache) row(index snmp.OID) *TableRow {
	i, found := c.search(index)
	if found {
		return c.rows[i]
	}
	r := newTableRow(index, c.width)
	c.rows = slices.Insert(c.rows, i, r)
	return r
}

// head returns the row with the smallest index, or nil when empty.
func (c *rowCache) head() *TableRow {
	if len(c.rows) == 0 {
		return nil
	}
	return c.rows[0]
}

func (c *rowCache) pop() *TableRow {
	r := c.rows[0]
	c.rows[0] = nil
	c.rows = c.rows[1:]
	return r
}

func (c *rowCache) len() int {
	return len(c.rows)
}
