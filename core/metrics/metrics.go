// Package metrics holds the backend neutral instruments the router, the bus
// and the protocol bindings report to. adapters/prometheus implements them.
package metrics

import "time"

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Timer records the time between its creation and ObserveDuration.
type Timer interface {
	ObserveDuration()
}

// Observer takes one observation in seconds.
type Observer interface {
	Observe(value float64)
}

type timer struct {
	o     Observer
	start time.Time
	now   func() time.Time
}

func (t *timer) ObserveDuration() { t.o.Observe(t.now().Sub(t.start).Seconds()) }

// NewTimer starts a Timer reporting to o.
func NewTimer(o Observer) Timer { return newTimer(o, time.Now) }

func newTimer(o Observer, now func() time.Time) Timer {
	return &timer{o: o, start: now(), now: now}
}

type (
	nopCounter struct{}
	nopTimer   struct{}
)

func (nopCounter) Inc()           {}
func (nopCounter) Add(float64)    {}
func (nopTimer) ObserveDuration() {}

func NopCounter() Counter { return nopCounter{} }
func NopTimer() Timer     { return nopTimer{} }
