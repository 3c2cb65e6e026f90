package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/core/protocol"
)

func gatheredNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)
	require.NotNil(t, m)

	// store
	m.StoreLoadDuration("station").ObserveDuration()
	m.StoreAppendDuration("station").ObserveDuration()
	m.EventsAppended("station", 3)

	// router
	m.DispatchDuration("create").ObserveDuration()
	m.CommandDispatched("create", true)
	m.CommandDispatched("boot", false)
	m.ConcurrencyConflict("station")

	// bus
	m.EventDelivered("created", true)

	names := gatheredNames(t, reg)
	assert.True(t, names["chargebridge_es_store_load_duration_seconds"])
	assert.True(t, names["chargebridge_es_events_appended_total"])
	assert.True(t, names["chargebridge_es_dispatch_duration_seconds"])
	assert.True(t, names["chargebridge_es_commands_dispatched_total"])
	assert.True(t, names["chargebridge_es_concurrency_conflicts_total"])
	assert.True(t, names["chargebridge_es_bus_events_delivered_total"])

	em := m.(*esMetrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(em.eventsAppended.WithLabelValues("station")))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.commandsDispatched.WithLabelValues("boot", "false")))
}

func TestNewProtocolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProtocolMetrics(reg)

	m.RequestDuration("OCPPJ15", "UnlockConnector").ObserveDuration()
	m.RequestHandled("OCPPJ15", "UnlockConnector", protocol.OutcomeOK)
	m.RequestHandled("OCPPS12", "DataTransfer", protocol.OutcomeUnsupported)

	expired := m.RequestExpired("OCPPJ15")
	expired.Inc()
	expired.Add(2)

	names := gatheredNames(t, reg)
	assert.True(t, names["chargebridge_protocol_request_duration_seconds"])
	assert.True(t, names["chargebridge_protocol_requests_total"])
	assert.True(t, names["chargebridge_protocol_requests_expired_total"])

	pm := m.(*protocolMetrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.requestsExpired.WithLabelValues("OCPPJ15")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.requestsHandled.WithLabelValues("OCPPS12", "DataTransfer", "unsupported")))
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	all := NewAllMetrics(reg)
	require.NotNil(t, all.ES)
	require.NotNil(t, all.Protocol)

	// registering twice on one registry panics
	assert.Panics(t, func() { NewAllMetrics(reg) })
}
