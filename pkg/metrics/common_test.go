package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonMetricsRegisteredAndSampled(t *testing.T) {
	registry := prometheus.NewRegistry()
	cm := newCommonMetrics("courier", "test", registry)

	cm.UpdateUptime()
	cm.UpdateSystemMetrics()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["courier_test_uptime_seconds"])
	assert.True(t, names["courier_test_memory_usage_bytes"])
	assert.True(t, names["courier_test_goroutines_active"])
	assert.True(t, names["courier_test_cpu_usage_percent"], "host CPU gauge must be registered")
}
