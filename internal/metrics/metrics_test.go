package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/metrics"
)

func TestPollCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.ObservePoll(metrics.PollOK, 0.2)
	m.ObservePoll(metrics.PollOK, 0.1)
	m.ObservePoll(metrics.PollError, 0.5)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "cursorbal_polls_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			counts[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"ok": 2, "error": 1}, counts)
}

func TestUsageGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.SetUsage(&balance.Usage{APIPercentUsed: 42, AutoPercentUsed: 7, TotalPercentUsed: 49, Used: 840, Limit: 2000})
	m.SetDetailed(balance.DetailedUsage{Total: 3, Auto: 1, Others: 2, Source: balance.SourceAPI})

	count, err := testutil.GatherAndCount(reg, "cursorbal_usage_percent")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	m.Reset()
	count, err = testutil.GatherAndCount(reg, "cursorbal_usage_percent")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	m.ObservePoll(metrics.PollOK, 1)
	m.SetUsage(&balance.Usage{})
	m.SetDetailed(balance.DetailedUsage{})
	m.Reset()
}
