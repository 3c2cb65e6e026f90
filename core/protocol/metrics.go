package protocol

import "github.com/codewandler/chargebridge/core/metrics"

// Outcome labels for Metrics.RequestHandled.
const (
	OutcomeOK            = "ok"
	OutcomeUnsupported   = "unsupported"
	OutcomeUnknownResult = "unknown_result"
	OutcomeError         = "error"
)

type Metrics interface {
	RequestDuration(protocol, operation string) metrics.Timer
	RequestHandled(protocol, operation, outcome string)
	// RequestExpired counts asynchronous requests that never got an answer.
	RequestExpired(protocol string) metrics.Counter
}

type nopMetrics struct{}

func (nopMetrics) RequestDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RequestHandled(string, string, string)        {}
func (nopMetrics) RequestExpired(string) metrics.Counter        { return metrics.NopCounter() }

func NopMetrics() Metrics { return nopMetrics{} }
