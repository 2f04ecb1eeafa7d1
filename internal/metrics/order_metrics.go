package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// OrderMetrics содержит счётчики жизненного цикла заказов.
type OrderMetrics struct {
	created        prometheus.Counter
	paid           *prometheus.CounterVec
	cancelled      prometheus.Counter
	edits          prometheus.Counter
	historyCleared prometheus.Counter
	paidRevenue    prometheus.Counter
	conflicts      *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики заказов в default registry.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		created: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_orders_created_total",
			Help: "Total number of orders created",
		}),
		paid: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_orders_paid_total",
			Help: "Total number of orders marked paid grouped by payment method",
		}, []string{"method"}),
		cancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		edits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_order_edits_total",
			Help: "Total number of item edits on active orders",
		}),
		historyCleared: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_history_cleared_total",
			Help: "Total number of history orders removed by clear history",
		}),
		paidRevenue: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_paid_revenue_total",
			Help: "Sum of totals of paid orders",
		}),
		conflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_transition_conflicts_total",
			Help: "Total number of rejected concurrent transitions grouped by operation",
		}, []string{"operation"}),
	}
}

// RecordCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

// RecordPaid учитывает оплату и её сумму.
func (m *OrderMetrics) RecordPaid(method string, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.paid.WithLabelValues(method).Inc()
	m.paidRevenue.Add(total.InexactFloat64())
}

func (m *OrderMetrics) RecordCancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
}

func (m *OrderMetrics) RecordEdit() {
	if m == nil {
		return
	}
	m.edits.Inc()
}

// RecordHistoryCleared добавляет количество удалённых заказов истории.
func (m *OrderMetrics) RecordHistoryCleared(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.historyCleared.Add(float64(deleted))
}

// RecordConflict учитывает переход, отклонённый из-за гонки.
func (m *OrderMetrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}
