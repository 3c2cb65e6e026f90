package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/chargebridge/core/metrics"
	"github.com/codewandler/chargebridge/core/protocol"
)

// protocolMetrics implements protocol.Metrics using Prometheus.
type protocolMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestsHandled *prometheus.CounterVec
	requestsExpired *prometheus.CounterVec
}

func NewProtocolMetrics(reg prometheus.Registerer) protocol.Metrics {
	m := &protocolMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "protocol_request_duration_seconds",
			Help:      "Time spent handling a requested event, wire call included",
			Buckets:   wireBuckets,
		}, []string{"protocol", "operation"}),

		requestsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_requests_total",
			Help:      "Total number of requested events handled per outcome",
		}, []string{"protocol", "operation", "outcome"}),

		requestsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_requests_expired_total",
			Help:      "Total number of asynchronous requests that timed out unanswered",
		}, []string{"protocol"}),
	}

	reg.MustRegister(m.requestDuration, m.requestsHandled, m.requestsExpired)
	return m
}

func (m *protocolMetrics) RequestDuration(proto, operation string) metrics.Timer {
	return metrics.NewTimer(m.requestDuration.WithLabelValues(proto, operation))
}

func (m *protocolMetrics) RequestHandled(proto, operation, outcome string) {
	m.requestsHandled.WithLabelValues(proto, operation, outcome).Inc()
}

func (m *protocolMetrics) RequestExpired(proto string) metrics.Counter {
	return m.requestsExpired.WithLabelValues(proto)
}

var _ protocol.Metrics = (*protocolMetrics)(nil)
