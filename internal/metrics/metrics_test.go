package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(NotificationFailures.WithLabelValues(StageFetch))
	NotificationFailures.WithLabelValues(StageFetch).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(NotificationFailures.WithLabelValues(StageFetch)))
}

func TestCollectorsRegisteredWithDefaultRegistry(t *testing.T) {
	MessagesReceived.Inc()
	ActionsRouted.WithLabelValues("read", "sent").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["notify_bridge_messages_received_total"])
	assert.True(t, names["notify_bridge_actions_routed_total"])
	assert.True(t, names["notify_bridge_connections_active"])
}
