// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the event log and the protocol bindings.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chargebridge"

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// wireBuckets cover station round trips.
var wireBuckets = []float64{
	.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
}

// AllMetrics holds the Prometheus implementations for the whole service.
type AllMetrics struct {
	ES       *esMetrics
	Protocol *protocolMetrics
}

// NewAllMetrics creates and registers every metric with reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:       NewESMetrics(reg).(*esMetrics),
		Protocol: NewProtocolMetrics(reg).(*protocolMetrics),
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
