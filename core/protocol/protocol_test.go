package protocol_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/chargebridge/core/es"
	"github.com/codewandler/chargebridge/core/metrics"
	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

// recorder accepts unlock and clear cache and rejects everything else.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(op string, token cs.CorrelationToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op+":"+token.String())
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Protocol() string        { return "TEST" }
func (r *recorder) AddOn() cs.AddOnIdentity { return cs.AddOnIdentity{Type: "TEST", InstanceID: "1"} }

func (r *recorder) UnlockConnector(_ context.Context, _ *cs.UnlockConnectorRequested, token cs.CorrelationToken) error {
	r.record(protocol.OpUnlockConnector, token)
	return nil
}
func (r *recorder) ClearCache(_ context.Context, _ *cs.ClearCacheRequested, token cs.CorrelationToken) error {
	r.record(protocol.OpClearCache, token)
	return nil
}
func (r *recorder) ChangeConfiguration(context.Context, *cs.ChangeConfigurationItemRequested, cs.CorrelationToken) error {
	return &protocol.UnknownResultError{Protocol: "TEST", Operation: protocol.OpChangeConfiguration, Result: "Maybe"}
}
func (r *recorder) Reset(context.Context, *cs.ResetRequested, cs.CorrelationToken) error {
	return errors.New("connection refused")
}
func (r *recorder) ChangeAvailability(context.Context, *cs.ChangeAvailabilityRequested, cs.CorrelationToken) error {
	return protocol.Unsupported("TEST", protocol.OpChangeAvailability)
}
func (r *recorder) DataTransfer(context.Context, *cs.DataTransferRequested, cs.CorrelationToken) error {
	return protocol.Unsupported("TEST", protocol.OpDataTransfer)
}
func (r *recorder) ReserveNow(context.Context, *cs.ReserveNowRequested, cs.CorrelationToken) error {
	return protocol.Unsupported("TEST", protocol.OpReserveNow)
}
func (r *recorder) CancelReservation(context.Context, *cs.CancelReservationRequested, cs.CorrelationToken) error {
	return protocol.Unsupported("TEST", protocol.OpCancelReservation)
}
func (r *recorder) GetConfiguration(context.Context, *cs.ConfigurationItemsRequested, cs.CorrelationToken) error {
	return protocol.Unsupported("TEST", protocol.OpGetConfiguration)
}

var _ protocol.Handler = (*recorder)(nil)

type outcomes struct {
	mu   sync.Mutex
	seen map[string]int
}

func (o *outcomes) RequestDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (o *outcomes) RequestExpired(string) metrics.Counter        { return metrics.NopCounter() }
func (o *outcomes) RequestHandled(_, op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = map[string]int{}
	}
	o.seen[op+"/"+outcome]++
}

func (o *outcomes) get(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seen[key]
}

func requested(protocolName string) cs.Requested {
	return cs.Requested{StationID: "CS-1", Protocol: protocolName}
}

func envFor(ev es.Event, token string) es.Envelope {
	env := es.Envelope{
		ID:            "e-1",
		Version:       1,
		AggregateType: cs.AggregateType,
		AggregateID:   "CS-1",
		Type:          ev.EventType(),
		OccurredAt:    time.Now(),
	}
	if token != "" {
		env.Meta = map[string]string{es.MetaCorrelationToken: token}
	}
	return env
}

func TestHandle_Routes(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, protocol.Handle(t.Context(), rec, &cs.UnlockConnectorRequested{Requested: requested("TEST"), ConnectorID: 1}, "t-1"))
	require.NoError(t, protocol.Handle(t.Context(), rec, &cs.ClearCacheRequested{Requested: requested("TEST")}, "t-2"))
	require.Equal(t, []string{"UnlockConnector:t-1", "ClearCache:t-2"}, rec.Calls())

	err := protocol.Handle(t.Context(), rec, &cs.DataTransferRequested{Requested: requested("TEST")}, "t-3")
	require.ErrorIs(t, err, protocol.ErrUnsupportedOperation)
	var ue *protocol.UnsupportedOperationError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, "TEST", ue.Protocol)
	require.Equal(t, protocol.OpDataTransfer, ue.Operation)
}

func TestOperationOf(t *testing.T) {
	require.Equal(t, protocol.OpReserveNow, protocol.OperationOf(&cs.ReserveNowRequested{}))
	require.Equal(t, protocol.OpGetConfiguration, protocol.OperationOf(&cs.ConfigurationItemsRequested{}))
}

func TestBinding(t *testing.T) {
	var (
		rec = &recorder{}
		m   = &outcomes{}
		b   = protocol.NewBinding(rec, protocol.WithMetrics(m), protocol.WithLog(slog.Default()))
		ctx = t.Context()
	)

	t.Run("other protocol is ignored", func(t *testing.T) {
		ev := &cs.UnlockConnectorRequested{Requested: requested("OTHER"), ConnectorID: 1}
		require.NoError(t, b.HandleEvent(ctx, envFor(ev, "t-0"), ev))
		require.Empty(t, rec.Calls())
	})

	t.Run("token from envelope meta", func(t *testing.T) {
		ev := &cs.UnlockConnectorRequested{Requested: requested("TEST"), ConnectorID: 1}
		require.NoError(t, b.HandleEvent(ctx, envFor(ev, "t-1"), ev))
		require.Equal(t, []string{"UnlockConnector:t-1"}, rec.Calls())
		require.Equal(t, 1, m.get("UnlockConnector/ok"))
	})

	t.Run("missing token", func(t *testing.T) {
		ev := &cs.ClearCacheRequested{Requested: requested("TEST")}
		require.NoError(t, b.HandleEvent(ctx, envFor(ev, ""), ev))
		require.Len(t, rec.Calls(), 1)
		require.Equal(t, 1, m.get("ClearCache/error"))
	})

	t.Run("outcomes", func(t *testing.T) {
		dt := &cs.DataTransferRequested{Requested: requested("TEST")}
		require.ErrorIs(t, b.HandleEvent(ctx, envFor(dt, "t"), dt), protocol.ErrUnsupportedOperation)
		require.Equal(t, 1, m.get("DataTransfer/unsupported"))

		cc := &cs.ChangeConfigurationItemRequested{Requested: requested("TEST")}
		require.ErrorIs(t, b.HandleEvent(ctx, envFor(cc, "t"), cc), protocol.ErrUnknownResult)
		require.Equal(t, 1, m.get("ChangeConfiguration/unknown_result"))

		rs := &cs.ResetRequested{Requested: requested("TEST")}
		require.Error(t, b.HandleEvent(ctx, envFor(rs, "t"), rs))
		require.Equal(t, 1, m.get("Reset/error"))
	})

	t.Run("non requested events are ignored", func(t *testing.T) {
		ev := &cs.Booted{StationID: "CS-1"}
		require.NoError(t, b.HandleEvent(ctx, envFor(ev, "t"), ev))
	})
}

func TestBind_EndToEnd(t *testing.T) {
	bus := es.NewBus()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	rec := &recorder{}
	cancel := protocol.Bind(bus, rec)
	defer cancel()

	r, err := cs.NewRouter(cs.RouterConfig{Store: es.NewInMemoryStore(), Bus: bus})
	require.NoError(t, err)
	defer r.Close()

	create, err := cs.NewCreateCommand("CS-1", "TEST", []cs.Connector{{ID: 1}, {ID: 2}}, nil, cs.OperatorIdentity("op"))
	require.NoError(t, err)
	_, err = r.Dispatch(t.Context(), create)
	require.NoError(t, err)

	unlock, err := cs.NewRequestUnlockConnectorCommand("CS-1", cs.AllConnectors, cs.OperatorIdentity("op"))
	require.NoError(t, err)
	_, err = r.Dispatch(t.Context(), unlock)
	require.NoError(t, err)

	flushCtx, done := context.WithTimeout(t.Context(), 2*time.Second)
	defer done()
	require.NoError(t, bus.Flush(flushCtx))

	tok := unlock.Token.String()
	require.Equal(t, []string{"UnlockConnector:" + tok, "UnlockConnector:" + tok}, rec.Calls())
}

func TestNormalize(t *testing.T) {
	r, err := protocol.Normalize("OCPPS15", protocol.OpClearCache, protocol.AcceptedRejected, "Accepted")
	require.NoError(t, err)
	require.Equal(t, protocol.Success, r)

	r, err = protocol.Normalize("OCPPS15", protocol.OpClearCache, protocol.AcceptedRejected, "Rejected")
	require.NoError(t, err)
	require.Equal(t, protocol.Failure, r)

	_, err = protocol.Normalize("OCPPS15", protocol.OpClearCache, protocol.AcceptedRejected, "Pending")
	require.ErrorIs(t, err, protocol.ErrUnknownResult)
	require.EqualError(t, err, `OCPPS15 ClearCache: unknown result "Pending"`)
}

func TestSettle(t *testing.T) {
	var informed int
	inform := func(context.Context) error { informed++; return nil }

	require.NoError(t, protocol.Settle(t.Context(), slog.Default(), protocol.Success, inform))
	require.Equal(t, 1, informed)

	require.NoError(t, protocol.Settle(t.Context(), slog.Default(), protocol.Failure, inform))
	require.Equal(t, 1, informed)

	require.ErrorIs(t, protocol.Settle(t.Context(), slog.Default(), "MAYBE", inform), protocol.ErrUnknownResult)
}
