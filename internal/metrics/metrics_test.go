package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwarding-audit-go/internal/model"
)

func TestObserveStatistics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveStatistics(model.Statistics{
		TotalRules:       4,
		ActiveForwarding: 3,
		RulesWithFilters: 3,
		RulesWithErrors:  1,
		TotalFilters:     3,
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.TotalRules))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesWithErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TotalFilters))
}

func TestRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ReportsGenerated.WithLabelValues("full").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Panics(t, func() { NewMetrics(reg) })
}
