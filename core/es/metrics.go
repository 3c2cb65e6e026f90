package es

import "github.com/codewandler/chargebridge/core/metrics"

// Metrics defines the instrumentation points of the store, the router and
// the bus. Implementations must be safe for concurrent use.
type Metrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Router
	DispatchDuration(cmdType string) metrics.Timer
	CommandDispatched(cmdType string, success bool)
	ConcurrencyConflict(aggType string)

	// Bus
	EventDelivered(eventType string, success bool)
}

type nopMetrics struct{}

func (nopMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)               {}
func (nopMetrics) DispatchDuration(string) metrics.Timer    { return metrics.NopTimer() }
func (nopMetrics) CommandDispatched(string, bool)           {}
func (nopMetrics) ConcurrencyConflict(string)               {}
func (nopMetrics) EventDelivered(string, bool)              {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
