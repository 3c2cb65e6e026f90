package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/codewandler/chargebridge/core/es"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

type BindOption func(*Binding)

func WithLog(log *slog.Logger) BindOption { return func(b *Binding) { b.log = log } }
func WithMetrics(m Metrics) BindOption    { return func(b *Binding) { b.metrics = m } }

// Binding feeds requested events of stations speaking one protocol into a
// Handler. It runs on the bus delivery goroutine of the station, never
// under the router's per-station lock.
type Binding struct {
	handler Handler
	log     *slog.Logger
	metrics Metrics
}

func NewBinding(h Handler, opts ...BindOption) *Binding {
	b := &Binding{handler: h, log: slog.Default(), metrics: NopMetrics()}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(
		slog.String("component", "binding"),
		slog.String("protocol", h.Protocol()),
		slog.String("add_on", h.AddOn().String()),
	)
	return b
}

// Bind subscribes a new binding for h to every requested event on bus.
func Bind(bus *es.Bus, h Handler, opts ...BindOption) (cancel func()) {
	b := NewBinding(h, opts...)
	return bus.Subscribe("binding:"+h.Protocol(), b, cs.RequestedEventTypes...)
}

func (b *Binding) HandleEvent(ctx context.Context, env es.Envelope, ev es.Event) error {
	rev, ok := ev.(cs.RequestedEvent)
	if !ok || rev.StationProtocol() != b.handler.Protocol() {
		return nil
	}

	var (
		op    = OperationOf(rev)
		token = cs.CorrelationToken(env.MetaValue(es.MetaCorrelationToken))
		log   = b.log.With(
			slog.String("operation", op),
			slog.String("station_id", rev.ChargingStation().String()),
			slog.String("token", token.String()),
		)
	)
	if token == "" {
		log.Error("requested event without correlation token", slog.String("event_id", env.ID))
		b.metrics.RequestHandled(b.handler.Protocol(), op, OutcomeError)
		return nil
	}

	timer := b.metrics.RequestDuration(b.handler.Protocol(), op)
	err := Handle(ctx, b.handler, rev, token)
	timer.ObserveDuration()

	outcome := OutcomeOK
	switch {
	case err == nil:
		log.Debug("handled")
	case errors.Is(err, ErrUnsupportedOperation):
		outcome = OutcomeUnsupported
		log.Error("operation not supported by binding", slog.Any("error", err))
	case errors.Is(err, ErrUnknownResult):
		outcome = OutcomeUnknownResult
		log.Error("unknown wire result", slog.Any("error", err))
	default:
		outcome = OutcomeError
		log.Error("request failed", slog.Any("error", err))
	}
	b.metrics.RequestHandled(b.handler.Protocol(), op, outcome)

	return err
}

var _ es.Subscriber = (*Binding)(nil)
