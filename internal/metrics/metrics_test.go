package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/metrics"
)

func TestMetrics_RecordTransitionIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.RecordTransition("run", "PROCESSED")
	m.RecordTransition("run", "PROCESSED")

	families, err := reg.Gather()
	require.NoError(t, err)

	value := findCounterValue(t, families, "integration_pipeline_state_transitions_total", map[string]string{"entity": "run", "state": "PROCESSED"})
	require.Equal(t, float64(2), value)
}

func TestMetrics_SetPoolStatsSetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SetPoolStats("data", 8, 3, 5)

	families, err := reg.Gather()
	require.NoError(t, err)

	require.Equal(t, float64(8), findGaugeValue(t, families, "integration_pipeline_worker_pool_size", map[string]string{"stage": "data"}))
	require.Equal(t, float64(3), findGaugeValue(t, families, "integration_pipeline_workers_busy", map[string]string{"stage": "data"}))
	require.Equal(t, float64(5), findGaugeValue(t, families, "integration_pipeline_workers_idle", map[string]string{"stage": "data"}))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.RecordJob("run", "success", 0.1)
		m.SetPoolStats("run", 1, 1, 0)
		m.RecordTransition("run", "PROCESSED")
		m.SetCircuitBreakerState("run", 1)
		m.RecordPromotion("run")
	})
}

func findCounterValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func findGaugeValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, pair := range pairs {
		if want[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}
