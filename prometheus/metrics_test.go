package prometheus_test

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/prometheus"
)

func TestMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	m := prometheus.NewMetrics(reg)

	m.AppendDuration("order").ObserveDuration()
	m.EventsAppended("order", 3)
	m.ConcurrencyConflict("order")
	m.ReadDuration("order").ObserveDuration()
	m.EventsRead("order", 2)
	m.HandlerDuration("OrderPlacedEvent").ObserveDuration()
	m.EventDelivered("OrderPlacedEvent", esclient.OutcomeAcked)
	m.EventDelivered("OrderPlacedEvent", esclient.OutcomeParked)
	m.InFlight("group", 2)
	m.InFlight("group", -1)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 8)

	count, err := testutil.GatherAndCount(reg, "esclient_subscription_deliveries_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "esclient_store_append_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prom.NewRegistry()
	prometheus.NewMetrics(reg)
	require.Panics(t, func() { prometheus.NewMetrics(reg) })
}

func TestMetrics_TimersRecordSamples(t *testing.T) {
	reg := prom.NewRegistry()
	var m esclient.Metrics = prometheus.NewMetrics(reg)

	timers := []esclient.Timer{
		m.AppendDuration("order"),
		m.ReadDuration("order"),
		m.HandlerDuration("OrderPlacedEvent"),
	}
	for _, tm := range timers {
		tm.ObserveDuration()
	}

	for _, name := range []string{
		"esclient_store_append_duration_seconds",
		"esclient_store_read_duration_seconds",
		"esclient_subscription_handler_duration_seconds",
	} {
		count, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		require.Equal(t, 1, count, name)
	}
}
