package walk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

func TestDenseTable(t *testing.T) {
	agent := newFakeAgent(table(map[uint32][]uint32{1: rangeOf(3), 2: rangeOf(3)}))
	obs := newObserved()
	utils := walk.NewTableUtils(agent, nil, walk.WithObserver(obs))

	rows, err := utils.DenseTable(testContext(t), snmp.NewTarget("192.0.2.1"),
		[]snmp.OID{column(1), column(2)}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, indexes(rows))
	for _, row := range rows {
		assert.True(t, row.Complete())
		assert.Equal(t, column(2).Append(row.Index...), row.Columns[1].OID)
	}
	assert.Len(t, agent.sent(), 1)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.requests[walk.KindDenseTable])
	assert.Equal(t, 3, obs.items[walk.KindDenseTable])
}

func TestDenseTableAcrossRequests(t *testing.T) {
	agent := newFakeAgent(
		[]snmp.VariableBinding{intBinding(ipForw, 2)},
		table(map[uint32][]uint32{1: rangeOf(5), 2: rangeOf(5)}),
	)
	utils := walk.NewTableUtils(agent, nil, walk.WithMaxRowsPerPDU(2))

	rows, err := utils.DenseTable(testContext(t), snmp.NewTarget("192.0.2.1"),
		[]snmp.OID{column(1), column(2)}, snmp.OID{1}, snmp.OID{4})
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "3", "4"}, indexes(rows))
	sent := agent.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, column(1).Append(3), sent[1].Bindings[0].OID)
	assert.Equal(t, column(2).Append(3), sent[1].Bindings[1].OID)
}

func TestDenseTableMisalignsSparseRows(t *testing.T) {
	agent := newFakeAgent(
		[]snmp.VariableBinding{intBinding(ipForw, 2)},
		table(map[uint32][]uint32{1: {1, 2, 3}, 2: {1, 3}}),
	)
	utils := walk.NewTableUtils(agent, nil)

	rows, err := utils.DenseTable(testContext(t), snmp.NewTarget("192.0.2.1"),
		[]snmp.OID{column(1), column(2)}, nil, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"1", "2", "3"}, indexes(rows))
	// the second row pairs index 2 of the first column with index 3 of the second
	assert.Equal(t, column(2).Append(3), rows[1].Columns[1].OID)
	assert.Nil(t, rows[2].Columns[1])
}

func TestDenseTableTruncatedResponse(t *testing.T) {
	agent := newFakeAgent(table(map[uint32][]uint32{1: rangeOf(3), 2: rangeOf(3), 3: rangeOf(3)}))
	agent.script = []func(*snmp.PDU) *snmp.PDU{
		respondWith(intBinding(column(1).Append(1), 101), intBinding(column(2).Append(1), 201)),
	}
	utils := walk.NewTableUtils(agent, nil)

	rows, err := utils.DenseTable(testContext(t), snmp.NewTarget("192.0.2.1"),
		[]snmp.OID{column(1), column(2), column(3)}, nil, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"1", "2", "3"}, indexes(rows))
	for _, row := range rows {
		assert.True(t, row.Complete())
		assert.Equal(t, column(3).Append(row.Index...), row.Columns[2].OID)
	}

	sent := agent.sent()
	require.Len(t, sent, 3)
	require.Len(t, sent[1].Bindings, 1, "only the missing column is asked again")
	assert.Equal(t, column(3), sent[1].Bindings[0].OID)
	assert.Len(t, sent[2].Bindings, 3)
	assert.Equal(t, column(1).Append(1), sent[2].Bindings[0].OID)
}

func TestDenseTableTruncatedLastColumnExhausted(t *testing.T) {
	agent := newFakeAgent(table(map[uint32][]uint32{1: {1}, 2: {1}}))
	agent.script = []func(*snmp.PDU) *snmp.PDU{
		respondWith(intBinding(column(1).Append(1), 101)),
		respondWith(endOfView(column(2))),
	}
	utils := walk.NewTableUtils(agent, nil)

	rows, err := utils.DenseTable(testContext(t), snmp.NewTarget("192.0.2.1"),
		[]snmp.OID{column(1), column(2)}, nil, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"1"}, indexes(rows))
	assert.NotNil(t, rows[0].Columns[0])
	assert.Nil(t, rows[0].Columns[1])
}

func TestDenseTableFallsBack(t *testing.T) {
	agent := newFakeAgent(
		[]snmp.VariableBinding{intBinding(ipForw, 2)},
		table(map[uint32][]uint32{1: {1, 2}, 2: {1, 2}, 3: {1, 2}}),
	)
	obs := newObserved()
	utils := walk.NewTableUtils(agent, nil, walk.WithMaxColumnsPerPDU(2), walk.WithObserver(obs))

	rows, err := utils.DenseTable(testContext(t), snmp.NewTarget("192.0.2.1"),
		[]snmp.OID{column(1), column(2), column(3)}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, indexes(rows))
	assert.Len(t, agent.sent()[0].Bindings, 2)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Zero(t, obs.requests[walk.KindDenseTable])
	assert.Equal(t, 2, obs.requests[walk.KindTable])
}

func TestDenseTableVersion1(t *testing.T) {
	agent := newFakeAgent(table(map[uint32][]uint32{1: {1, 2}, 2: {1, 2}}))
	utils := walk.NewTableUtils(agent, nil)
	target := snmp.NewTarget("192.0.2.1")
	target.Version = snmp.Version1

	rows, err := utils.DenseTable(testContext(t), target, []snmp.OID{column(1), column(2)}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, indexes(rows))
}

func TestDenseTableTimeout(t *testing.T) {
	agent := newFakeAgent(table(map[uint32][]uint32{1: rangeOf(3)}))
	agent.timeoutFrom = 1
	utils := walk.NewTableUtils(agent, nil)

	rows, err := utils.DenseTable(testContext(t), snmp.NewTarget("192.0.2.1"), []snmp.OID{column(1)}, nil, nil)
	assert.Empty(t, rows)
	assert.ErrorIs(t, err, walk.ErrTimeout)
}
