package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/chargebridge/core/es"
	"github.com/codewandler/chargebridge/core/metrics"
)

// esMetrics implements es.Metrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	// Router metrics
	dispatchDuration     *prometheus.HistogramVec
	commandsDispatched   *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	// Bus metrics
	eventsDelivered *prometheus.CounterVec
}

// NewESMetrics creates a new Prometheus implementation of es.Metrics.
func NewESMetrics(reg prometheus.Registerer) es.Metrics {
	m := &esMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_load_duration_seconds",
			Help:      "Event store load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_append_duration_seconds",
			Help:      "Event store append latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"aggregate_type"}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_dispatch_duration_seconds",
			Help:      "Command dispatch latency in seconds, retries included",
			Buckets:   defaultBuckets,
		}, []string{"command_type"}),

		commandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_commands_dispatched_total",
			Help:      "Total number of dispatched commands",
		}, []string{"command_type", "success"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_concurrency_conflicts_total",
			Help:      "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_bus_events_delivered_total",
			Help:      "Total number of events handed to bus subscribers",
		}, []string{"event_type", "success"}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.dispatchDuration,
		m.commandsDispatched,
		m.concurrencyConflicts,
		m.eventsDelivered,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return metrics.NewTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return metrics.NewTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) DispatchDuration(cmdType string) metrics.Timer {
	return metrics.NewTimer(m.dispatchDuration.WithLabelValues(cmdType))
}

func (m *esMetrics) CommandDispatched(cmdType string, success bool) {
	m.commandsDispatched.WithLabelValues(cmdType, boolToStr(success)).Inc()
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) EventDelivered(eventType string, success bool) {
	m.eventsDelivered.WithLabelValues(eventType, boolToStr(success)).Inc()
}

var _ es.Metrics = (*esMetrics)(nil)
