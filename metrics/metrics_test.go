package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

var system = snmp.MustParseOID("1.3.6.1.2.1.1")

// scriptedSession answers every request with the same bindings, or with a
// timeout when bindings is nil.
type scriptedSession struct {
	bindings []snmp.VariableBinding
}

func (s *scriptedSession) Send(_ *snmp.Target, pdu *snmp.PDU, handler walk.ResponseHandler) error {
	ev := &walk.ResponseEvent{Request: pdu}
	if s.bindings != nil {
		ev.Response = &snmp.PDU{Type: snmp.Response, RequestID: pdu.RequestID, Bindings: s.bindings}
	}
	go handler(ev)
	return nil
}

func (s *scriptedSession) Cancel(*snmp.PDU) {}

func TestWalkMetricsObserver(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewWalkMetrics("test", registry)
	require.NoError(t, err)

	m.RequestSent(walk.KindTable, snmp.GetBulkRequest, 4)
	m.RequestSent(walk.KindTable, snmp.GetBulkRequest, 2)
	m.RequestSent(walk.KindTree, snmp.GetNextRequest, 1)
	m.ItemsEmitted(walk.KindTable, 25)
	m.WalkFinished(walk.KindTable, walk.StatusOK, 2, 30*time.Millisecond)
	m.WalkFinished(walk.KindTree, walk.StatusTimeout, 1, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(walk.KindTable, "GETBULK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(walk.KindTree, "GETNEXT")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.bindings.WithLabelValues(walk.KindTable)))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.items.WithLabelValues(walk.KindTable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.walks.WithLabelValues(walk.KindTable, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.walks.WithLabelValues(walk.KindTree, "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))

	_, err = NewWalkMetrics("test", registry)
	assert.Error(t, err, "registering twice must fail")
}

func TestWalkMetricsFromTreeWalk(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewWalkMetrics("", registry)
	require.NoError(t, err)

	session := &scriptedSession{bindings: []snmp.VariableBinding{
		{OID: system.Append(1, 0), Syntax: snmp.OctetString, Value: []byte("router")},
		{OID: system.Append(3, 0), Syntax: snmp.TimeTicks, Value: uint32(4200)},
		{OID: snmp.MustParseOID("1.3.6.1.2.1.2.1.0"), Syntax: snmp.Integer, Value: int32(2)},
	}}
	utils := walk.NewTreeUtils(session, nil, walk.WithLogger(logging.Discard()), walk.WithObserver(m))

	values, err := utils.Subtree(context.Background(), snmp.NewTarget("192.0.2.1"), system)
	require.NoError(t, err)
	require.Len(t, values, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(walk.KindTree, "GETBULK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.items.WithLabelValues(walk.KindTree)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.walks.WithLabelValues(walk.KindTree, "ok")))

	expected := `
		# HELP snmpbulk_walks_total Total number of finished walks by terminal status
		# TYPE snmpbulk_walks_total counter
		snmpbulk_walks_total{kind="tree",status="ok"} 1
	`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "snmpbulk_walks_total"))
}

func TestWalkMetricsFromTimedOutTable(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewWalkMetrics("", registry)
	require.NoError(t, err)

	utils := walk.NewTableUtils(&scriptedSession{}, nil, walk.WithLogger(logging.Discard()), walk.WithObserver(m))
	_, err = utils.Table(context.Background(), snmp.NewTarget("192.0.2.1"),
		[]snmp.OID{snmp.MustParseOID("1.3.6.1.2.1.2.2.1.2")}, nil, nil)
	require.ErrorIs(t, err, walk.ErrTimeout)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.walks.WithLabelValues(walk.KindTable, "timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.items.WithLabelValues(walk.KindTable)))
}

func TestServerHandler(t *testing.T) {
	server, err := NewServer(Config{Namespace: "probe"}, logging.Discard())
	require.NoError(t, err)
	server.Walks().WalkFinished(walk.KindDenseTable, walk.StatusAgentError, 3, time.Millisecond)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + DefaultMetricsPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `probe_walks_total{kind="dense_table",status="agent_error"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(ts.URL + DefaultHealthPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerLifecycle(t *testing.T) {
	server, err := NewServer(Config{ListenAddress: "127.0.0.1:0"}, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, server.Registry())

	// stopping before start is a no-op
	require.NoError(t, server.Stop(context.Background()))

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return server.server != nil
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Error(t, server.Start(), "a stopped server cannot be restarted")
}
