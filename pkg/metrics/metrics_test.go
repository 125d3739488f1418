package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	BrokerRequests.WithLabelValues("ok").Inc()
	Validations.WithLabelValues("historical", "result").Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["roafetch_broker_requests_total"])
	assert.True(t, names["roafetch_session_validations_total"])

	// A second registry must accept the same collectors
	require.NotPanics(t, func() { NewRegistry() })
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(WindowAdvances)
	WindowAdvances.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(WindowAdvances))
}
