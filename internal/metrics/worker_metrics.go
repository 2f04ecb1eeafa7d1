package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics описывает публикацию transactional outbox.
type OutboxMetrics struct {
	PublishAttempts  *prometheus.CounterVec
	PendingRecords   prometheus.Gauge
	OldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox worker.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		PublishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		PendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		OldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

// CleanupMetrics описывает очистку ключей идемпотентности.
type CleanupMetrics struct {
	Runs        *prometheus.CounterVec
	Deleted     prometheus.Counter
	LastDeleted prometheus.Gauge
}

// NewCleanupMetrics регистрирует метрики idempotency cleanup worker.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	return &CleanupMetrics{
		Runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"}),
		Deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		}),
		LastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		}),
	}
}

// HTTPMetrics описывает обработку REST-запросов.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics регистрирует гистограмму длительности HTTP-запросов.
func NewHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	return &HTTPMetrics{
		RequestDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_http_request_duration_seconds",
			Help:    "Duration of HTTP requests grouped by route and status code.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method", "route", "status"}),
	}
}
