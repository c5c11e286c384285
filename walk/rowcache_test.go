package walk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/snmpbulk/snmp"
)

func TestRowCacheOrdersByIndex(t *testing.T) {
	cache := newRowCache(2)
	for _, idx := range []snmp.OID{{3}, {1, 5}, {2}, {1}, {10}} {
		cache.row(idx)
	}
	// an existing index returns the same row
	assert.Same(t, cache.row(snmp.OID{2}), cache.row(snmp.OID{2}))
	require.Equal(t, 5, cache.len())

	var got []string
	for cache.len() > 0 {
		got = append(got, cache.pop().Index.String())
	}
	assert.Equal(t, []string{"1", "1.5", "2", "3", "10"}, got)
	assert.Nil(t, cache.head())
}

func TestTableRowSet(t *testing.T) {
	row := newTableRow(snmp.OID{7}, 2)
	vb := snmp.VariableBinding{OID: snmp.MustParseOID("1.3.6.1.2.1.2.2.1.1.7"), Syntax: snmp.Integer, Value: int32(7)}

	assert.False(t, row.Complete())
	assert.True(t, row.set(0, vb))
	assert.False(t, row.set(0, vb), "a filled slot is not overwritten")
	assert.Equal(t, 1, row.Filled())

	assert.True(t, row.set(1, vb))
	assert.True(t, row.Complete())
}

func TestPrepareRequest(t *testing.T) {
	target := snmp.NewTarget("192.0.2.1")
	req := prepareRequest(DefaultPDUFactory{}, target, 25)
	assert.Equal(t, snmp.GetBulkRequest, req.Type)
	assert.Equal(t, int32(25), req.MaxRepetitions)
	assert.Empty(t, req.Bindings)

	target.Version = snmp.Version1
	req = prepareRequest(DefaultPDUFactory{}, target, 25)
	assert.Equal(t, snmp.GetNextRequest, req.Type)
	assert.Zero(t, req.MaxRepetitions)
}
