package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordCreated()
	m.RecordCreated()
	m.RecordPaid("cash", decimal.RequireFromString("12.50"))
	m.RecordPaid("upi", decimal.RequireFromString("2.25"))
	m.RecordCancelled()
	m.RecordEdit()
	m.RecordHistoryCleared(3)
	m.RecordHistoryCleared(0)
	m.RecordConflict("pay")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.created))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paid.WithLabelValues("cash")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paid.WithLabelValues("upi")))
	assert.Equal(t, 14.75, testutil.ToFloat64(m.paidRevenue))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.edits))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.historyCleared))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("pay")))
}

func TestOrderMetrics_NilSafe(t *testing.T) {
	var m *OrderMetrics
	assert.NotPanics(t, func() {
		m.RecordCreated()
		m.RecordPaid("cash", decimal.NewFromInt(1))
		m.RecordCancelled()
		m.RecordEdit()
		m.RecordHistoryCleared(1)
		m.RecordConflict("cancel")
	})
}

func TestRegister_ReusesExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)
	second.RecordCreated()

	assert.Equal(t, 1.0, testutil.ToFloat64(first.created))
}

func TestRegister_PanicsOnConflictingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	registerGauge(reg, prometheus.GaugeOpts{Name: "pos_test_metric", Help: "gauge"})

	assert.Panics(t, func() {
		registerCounterVec(reg, prometheus.CounterOpts{Name: "pos_test_metric", Help: "gauge"}, []string{"result"})
	})
}

func TestWorkerAndHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	outbox := NewOutboxMetrics(reg)
	cleanup := NewCleanupMetrics(reg)
	httpMetrics := NewHTTPMetrics(reg)

	outbox.PublishAttempts.WithLabelValues("sent").Inc()
	outbox.PendingRecords.Set(4)
	cleanup.Deleted.Add(2)
	httpMetrics.RequestDuration.WithLabelValues("GET", "/api/orders", "200").Observe(0.02)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}

	require.Contains(t, byName, "pos_outbox_publish_attempts_total")
	require.Contains(t, byName, "pos_http_request_duration_seconds")
	assert.Equal(t, 4.0, byName["pos_outbox_pending_records"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 2.0, byName["pos_idempotency_cleanup_deleted_total"].GetMetric()[0].GetCounter().GetValue())
	assert.EqualValues(t, 1, byName["pos_http_request_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}
